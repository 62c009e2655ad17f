package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crashwager/internal/cache"
	"crashwager/internal/config"
	"crashwager/internal/database"
	"crashwager/internal/game"
	"crashwager/internal/logging"
	"crashwager/internal/server"
	"crashwager/internal/wallet"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version      kong.VersionFlag `short:"v" help:"Show version"`
	Env          string           `help:"Environment name, selects .env.<env>" placeholder:"ENV"`
	MemoryWallet bool             `help:"Keep balances in process instead of Redis"`
	SkipDB       bool             `name:"skip-db" help:"Run without Postgres; rounds and settlements are not audited"`
	Migrate      bool             `help:"Apply pending migrations before starting"`
	Debug        bool             `short:"d" help:"Debug logging"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("crashwager"),
		kong.Description("Real-time crash multiplier wager server"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)
	ctx.FatalIfErrorf(cli.Run())
}

func (c *CLI) Run() error {
	if c.Env != "" {
		os.Setenv("ENV", c.Env)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if c.Debug {
		level = "debug"
	}
	logger := logging.Setup(cfg.Env, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisService cache.Service
	if !c.MemoryWallet {
		redisService, err = cache.New(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("redis is required unless --memory-wallet is set: %w", err)
		}
		defer redisService.Close()
	}

	var w wallet.Wallet
	if redisService != nil {
		w = wallet.NewRedisWallet(redisService.GetClient(), logger)
	} else {
		logger.Warn().Msg("using in-memory wallet, balances are lost on exit")
		w = wallet.NewMemoryWallet()
	}

	var (
		db    database.Service
		audit *database.AuditStore
	)
	if !c.SkipDB {
		db, err = database.New(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if c.Migrate {
			if err := database.RunMigrations(db.DB(), cfg.Database.MigrationsPath); err != nil {
				return err
			}
			logger.Info().Str("path", cfg.Database.MigrationsPath).Msg("migrations applied")
		}
		audit = database.NewAuditStore(db.Pool(), logger)
	}

	manager, err := game.NewManager(cfg.Game, w, logger)
	if err != nil {
		return err
	}
	if audit != nil {
		manager.SubscribeWithQueue(audit, database.AuditQueueSize)
	}
	if redisService != nil {
		manager.Subscribe(cache.NewSnapshotObserver(redisService.GetClient(), cfg.Game.HistorySize, logger))
	}

	srv := server.New(server.Deps{
		Manager: manager,
		Wallet:  w,
		Cache:   redisService,
		DB:      db,
		Audit:   audit,
		Logger:  logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.Env).Msg("http server listening")
		if err := srv.Listen(cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	settleUnpaid(manager, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// settleUnpaid makes a last attempt at credits the payout workers parked.
func settleUnpaid(manager *game.Manager, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if unpaid := manager.Flush(ctx); unpaid > 0 {
		logger.Error().Int("unpaid", unpaid).Msg("credits still unpaid at exit")
	}
}
