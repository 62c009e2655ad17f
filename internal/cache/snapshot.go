package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crashwager/internal/game"
)

const (
	REDIS_KEY_ROUND_CURRENT = "crash:round:current"
	REDIS_KEY_ROUND_PREFIX  = "crash:round:"
	REDIS_KEY_HISTORY       = "crash:history"
)

// SnapshotObserver mirrors the public round state into Redis so other
// processes can read it without talking to the engine.
type SnapshotObserver struct {
	client      *redis.Client
	historySize int64
	timeout     time.Duration
	logger      zerolog.Logger
}

func NewSnapshotObserver(client *redis.Client, historySize int, logger zerolog.Logger) *SnapshotObserver {
	return &SnapshotObserver{
		client:      client,
		historySize: int64(historySize),
		timeout:     time.Second,
		logger:      logger.With().Str("component", "cache").Logger(),
	}
}

type roundSnapshot struct {
	RoundID    string     `json:"round_id"`
	Sequence   uint64     `json:"sequence"`
	Status     game.Phase `json:"status"`
	Multiplier float64    `json:"current_multiplier"`
	Countdown  float64    `json:"countdown_seconds"`
	CrashPoint float64    `json:"crash_point,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (o *SnapshotObserver) Notify(ev game.Event) {
	switch ev.Type {
	case game.EventPhaseChanged, game.EventRoundCrashed:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	snap := roundSnapshot{
		RoundID:    ev.RoundID,
		Sequence:   ev.Sequence,
		Status:     ev.Phase,
		Multiplier: ev.Multiplier,
		Countdown:  ev.Countdown,
		CrashPoint: ev.CrashPoint,
		UpdatedAt:  ev.Time,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		o.logger.Error().Err(err).Msg("marshal round snapshot")
		return
	}

	pipe := o.client.TxPipeline()
	pipe.Set(ctx, REDIS_KEY_ROUND_CURRENT, data, 0)
	if ev.Type == game.EventRoundCrashed {
		pipe.Set(ctx, REDIS_KEY_ROUND_PREFIX+ev.RoundID, data, time.Hour)
		pipe.LPush(ctx, REDIS_KEY_HISTORY, strconv.FormatFloat(ev.CrashPoint, 'f', -1, 64))
		pipe.LTrim(ctx, REDIS_KEY_HISTORY, 0, o.historySize-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		o.logger.Warn().Err(err).Str("round_id", ev.RoundID).Msg("store round snapshot")
	}
}

// History reads back the mirrored crash points, newest first.
func History(ctx context.Context, client *redis.Client, limit int64) ([]float64, error) {
	vals, err := client.LRange(ctx, REDIS_KEY_HISTORY, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
