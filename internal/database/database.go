package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"crashwager/internal/config"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	Health() map[string]string

	// Pool exposes the underlying connection pool.
	Pool() *pgxpool.Pool

	// DB returns a new database/sql handle over the same pool, for migrations.
	// Closing it does not close the pool.
	DB() *sql.DB

	// Close terminates the database connection.
	Close() error
}

type service struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Service, error) {
	logger = logger.With().Str("component", "database").Logger()

	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s@%s: %w", cfg.Database, cfg.Host, err)
	}

	logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("database connected")
	return &service{pool: pool, logger: logger}, nil
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		s.logger.Error().Err(err).Msg("database health check failed")
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.Itoa(int(poolStats.TotalConns()))
	stats["idle_conns"] = strconv.Itoa(int(poolStats.IdleConns()))
	stats["acquired_conns"] = strconv.Itoa(int(poolStats.AcquiredConns()))
	stats["max_conns"] = strconv.Itoa(int(poolStats.MaxConns()))
	stats["empty_acquire_count"] = strconv.FormatInt(poolStats.EmptyAcquireCount(), 10)

	if poolStats.AcquiredConns() > poolStats.MaxConns()*4/5 {
		stats["message"] = "The database is experiencing heavy load."
	}

	return stats
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) DB() *sql.DB {
	return stdlib.OpenDBFromPool(s.pool)
}

func (s *service) Close() error {
	s.logger.Info().Msg("disconnecting from database")
	s.pool.Close()
	return nil
}
