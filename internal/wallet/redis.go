package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crashwager/internal/game"
)

const (
	REDIS_KEY_USER_BALANCE = "crash:balance:"
	REDIS_KEY_CREDIT       = "crash:credit:"

	// creditKeyTTL bounds how long applied credit keys are remembered.
	creditKeyTTL = 7 * 24 * time.Hour
)

// withdrawScript debits KEYS[1] by ARGV[1] only if the balance covers it.
// Returns the new balance, or -1 when funds are insufficient.
var withdrawScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
	return -1
end
return redis.call('DECRBY', KEYS[1], amount)
`)

// depositScript credits KEYS[1] by ARGV[1]. With a second key it first marks
// the credit applied (SET NX, ARGV[2] seconds) and skips the increment when
// the mark already exists. Returns {applied, balance}.
var depositScript = redis.NewScript(`
if #KEYS > 1 then
	if not redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[2]) then
		return {0, tonumber(redis.call('GET', KEYS[1]) or '0')}
	end
end
return {1, redis.call('INCRBY', KEYS[1], ARGV[1])}
`)

// RedisWallet stores integer balances under crash:balance:<user>.
type RedisWallet struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisWallet(client *redis.Client, logger zerolog.Logger) *RedisWallet {
	return &RedisWallet{
		client: client,
		logger: logger.With().Str("component", "wallet").Logger(),
	}
}

func balanceKey(userID string) string {
	return REDIS_KEY_USER_BALANCE + userID
}

func (w *RedisWallet) Withdraw(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	remaining, err := withdrawScript.Run(ctx, w.client, []string{balanceKey(userID)}, amount).Int64()
	if err != nil {
		return fmt.Errorf("withdraw %d from %s: %w", amount, userID, err)
	}
	if remaining < 0 {
		return fmt.Errorf("withdraw %d from %s: %w", amount, userID, game.ErrInsufficientFunds)
	}
	w.logger.Debug().Str("user_id", userID).Int64("amount", amount).Int64("balance", remaining).Msg("withdraw")
	return nil
}

// Deposit applies c once. A retry of a credit whose reply was lost finds the
// credit key already set and leaves the balance alone.
func (w *RedisWallet) Deposit(ctx context.Context, c game.Credit) error {
	if c.Amount <= 0 {
		return ErrInvalidAmount
	}
	keys := []string{balanceKey(c.UserID)}
	if key := c.Key(); key != "" {
		keys = append(keys, REDIS_KEY_CREDIT+key)
	}
	res, err := depositScript.Run(ctx, w.client, keys, c.Amount, int64(creditKeyTTL/time.Second)).Int64Slice()
	if err != nil {
		return fmt.Errorf("deposit %d to %s: %w", c.Amount, c.UserID, err)
	}
	if res[0] == 0 {
		w.logger.Info().Str("user_id", c.UserID).Str("bet_id", c.BetID).Msg("credit already applied")
		return nil
	}
	w.logger.Debug().Str("user_id", c.UserID).Int64("amount", c.Amount).Int64("balance", res[1]).Msg("deposit")
	return nil
}

func (w *RedisWallet) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := w.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", userID, err)
	}
	return balance, nil
}

func (w *RedisWallet) SetBalance(ctx context.Context, userID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if err := w.client.Set(ctx, balanceKey(userID), amount, 0).Err(); err != nil {
		return fmt.Errorf("set balance of %s: %w", userID, err)
	}
	return nil
}
