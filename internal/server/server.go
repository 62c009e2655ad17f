package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crashwager/internal/cache"
	"crashwager/internal/database"
	"crashwager/internal/game"
	"crashwager/internal/wallet"
)

// Deps are the collaborators the HTTP layer serves. Cache, DB and Audit may
// be nil when the process runs without Redis or Postgres.
type Deps struct {
	Manager *game.Manager
	Wallet  wallet.Wallet
	Cache   cache.Service
	DB      database.Service
	Audit   *database.AuditStore
	Logger  zerolog.Logger
}

type FiberServer struct {
	*fiber.App

	db          database.Service
	cache       cache.Service
	audit       *database.AuditStore
	gameManager *game.Manager
	wallet      wallet.Wallet
	commands    *userLimiter
	logger      zerolog.Logger
}

func New(deps Deps) *FiberServer {
	logger := deps.Logger.With().Str("component", "server").Logger()

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:          "crashwager",
			AppName:               "crashwager",
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
			IdleTimeout:           120 * time.Second,
			StrictRouting:         false,
			DisableStartupMessage: true,
		}),

		db:          deps.DB,
		cache:       deps.Cache,
		audit:       deps.Audit,
		gameManager: deps.Manager,
		wallet:      deps.Wallet,
		commands:    newUserLimiter(rate.Limit(10), 5),
		logger:      logger,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// websocket traffic is throttled per message instead
			return c.Path() == "/ws"
		},
	}))

	server.RegisterFiberRoutes()
	return server
}

// Shutdown stops accepting connections and waits for in-flight requests.
// The engine and the stores are owned by the caller.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	return s.App.ShutdownWithContext(ctx)
}
