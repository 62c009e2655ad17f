package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crashwager/internal/game"
)

const (
	OutcomeCashout = "cashout"
	OutcomeForfeit = "forfeit"
	OutcomeRefund  = "refund"
)

// AuditQueueSize is the hub queue depth the audit store subscribes with.
// Ticks share the queue, so it holds several minutes of events if Postgres
// stalls; past that the hub drops and counts.
const AuditQueueSize = 16384

type RoundRecord struct {
	RoundID    string    `json:"round_id"`
	Sequence   uint64    `json:"sequence"`
	CrashPoint float64   `json:"crash_point"`
	Forfeits   int       `json:"forfeits"`
	CrashedAt  time.Time `json:"crashed_at"`
}

type SettlementRecord struct {
	BetID      string    `json:"bet_id"`
	RoundID    string    `json:"round_id"`
	UserID     string    `json:"user_id"`
	Stake      int64     `json:"stake"`
	Multiplier float64   `json:"multiplier"`
	Payout     int64     `json:"payout"`
	Outcome    string    `json:"outcome"`
	SettledAt  time.Time `json:"settled_at"`
}

// AuditStore persists finished rounds and settlements. It is an engine
// observer and runs on its own hub goroutine.
type AuditStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  zerolog.Logger
}

func NewAuditStore(pool *pgxpool.Pool, logger zerolog.Logger) *AuditStore {
	return &AuditStore{
		pool:    pool,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

func (s *AuditStore) Notify(ev game.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	switch ev.Type {
	case game.EventRoundCrashed:
		err = s.recordCrash(ctx, ev)
	case game.EventBetCashedOut:
		if ev.Settlement != nil {
			err = s.RecordSettlement(ctx, settlementRecord(*ev.Settlement, OutcomeCashout, ev.Time))
		}
	case game.EventBetRefunded:
		if ev.Bet != nil && ev.Bet.RoundID != "" {
			err = s.RecordSettlement(ctx, SettlementRecord{
				BetID:      ev.Bet.BetID,
				RoundID:    ev.Bet.RoundID,
				UserID:     ev.Bet.UserID,
				Stake:      ev.Bet.Stake,
				Multiplier: game.MinMultiplier,
				Payout:     ev.Bet.Stake,
				Outcome:    OutcomeRefund,
				SettledAt:  ev.Time,
			})
		}
	default:
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(ev.Type)).Str("round_id", ev.RoundID).Msg("audit write failed")
	}
}

func settlementRecord(st game.Settlement, outcome string, at time.Time) SettlementRecord {
	return SettlementRecord{
		BetID:      st.Bet.BetID,
		RoundID:    st.Bet.RoundID,
		UserID:     st.Bet.UserID,
		Stake:      st.Bet.Stake,
		Multiplier: st.Multiplier,
		Payout:     st.Payout,
		Outcome:    outcome,
		SettledAt:  at,
	}
}

const insertSettlement = `
	INSERT INTO settlements (bet_id, round_id, user_id, stake, multiplier, payout, outcome, settled_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (bet_id) DO NOTHING`

func (s *AuditStore) RecordSettlement(ctx context.Context, r SettlementRecord) error {
	_, err := s.pool.Exec(ctx, insertSettlement,
		r.BetID, r.RoundID, r.UserID, r.Stake, r.Multiplier, r.Payout, r.Outcome, r.SettledAt)
	if err != nil {
		return fmt.Errorf("insert settlement %s: %w", r.BetID, err)
	}
	return nil
}

// recordCrash writes the round and all of its forfeits in one transaction.
func (s *AuditStore) recordCrash(ctx context.Context, ev game.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO rounds (round_id, sequence, crash_point, forfeits, crashed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (round_id) DO NOTHING`,
		ev.RoundID, int64(ev.Sequence), ev.CrashPoint, len(ev.Forfeits), ev.Time)
	for _, f := range ev.Forfeits {
		r := settlementRecord(f, OutcomeForfeit, ev.Time)
		batch.Queue(insertSettlement, r.BetID, r.RoundID, r.UserID, r.Stake, r.Multiplier, r.Payout, r.Outcome, r.SettledAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert round %s: %w", ev.RoundID, err)
	}
	return tx.Commit(ctx)
}

func (s *AuditStore) RecentRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT round_id::text, sequence, crash_point, forfeits, crashed_at
		FROM rounds ORDER BY crashed_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var r RoundRecord
		var seq int64
		if err := rows.Scan(&r.RoundID, &seq, &r.CrashPoint, &r.Forfeits, &r.CrashedAt); err != nil {
			return nil, err
		}
		r.Sequence = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *AuditStore) UserSettlements(ctx context.Context, userID string, limit int) ([]SettlementRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT bet_id::text, round_id::text, user_id, stake, multiplier, payout, outcome, settled_at
		FROM settlements WHERE user_id = $1
		ORDER BY settled_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementRecord
	for rows.Next() {
		var r SettlementRecord
		if err := rows.Scan(&r.BetID, &r.RoundID, &r.UserID, &r.Stake, &r.Multiplier, &r.Payout, &r.Outcome, &r.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
