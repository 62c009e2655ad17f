package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"crashwager/internal/config"
	"crashwager/internal/database"
	"crashwager/internal/logging"
)

type Globals struct {
	Path string `help:"Path to migrations (default: MIGRATIONS_PATH or ./migrations)" type:"path"`
}

type CLI struct {
	Globals

	Up      UpCmd      `cmd:"" help:"Run all pending migrations"`
	Down    DownCmd    `cmd:"" help:"Rollback the last migration"`
	Version VersionCmd `cmd:"" help:"Show current migration version"`
	Create  CreateCmd  `cmd:"" help:"Create a new migration file pair"`
}

// env wires the migration commands to the database described by CRASH_DB_*.
type env struct {
	cfg    *config.Config
	path   string
	logger zerolog.Logger
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("migrate"),
		kong.Description("Database migration tool"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	cfg, err := config.Load()
	ctx.FatalIfErrorf(err)

	path := cli.Path
	if path == "" {
		path = cfg.Database.MigrationsPath
	}
	e := &env{
		cfg:    cfg,
		path:   path,
		logger: logging.Setup(cfg.Env, cfg.LogLevel),
	}
	ctx.FatalIfErrorf(ctx.Run(e))
}

func (e *env) open() (*sql.DB, error) {
	db, err := sql.Open("pgx", e.cfg.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

type UpCmd struct{}

func (c *UpCmd) Run(e *env) error {
	db, err := e.open()
	if err != nil {
		return err
	}
	e.logger.Info().Str("path", e.path).Msg("running migrations")
	if err := database.RunMigrations(db, e.path); err != nil {
		return err
	}
	e.logger.Info().Msg("migrations completed successfully")
	return nil
}

type DownCmd struct{}

func (c *DownCmd) Run(e *env) error {
	db, err := e.open()
	if err != nil {
		return err
	}
	e.logger.Info().Msg("rolling back last migration")
	if err := database.RollbackMigration(db, e.path); err != nil {
		return err
	}
	e.logger.Info().Msg("rollback completed successfully")
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(e *env) error {
	db, err := e.open()
	if err != nil {
		return err
	}
	version, dirty, err := database.GetMigrationVersion(db, e.path)
	if err != nil {
		return err
	}
	if dirty {
		e.logger.Warn().Uint("version", version).Msg("current version is DIRTY, needs manual intervention")
		return nil
	}
	e.logger.Info().Uint("version", version).Msg("current version")
	return nil
}

type CreateCmd struct {
	Name string `arg:"" help:"Migration name, e.g. add_round_index"`
}

var migrationFile = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)

func (c *CreateCmd) Run(e *env) error {
	next, err := nextVersion(e.path)
	if err != nil {
		return err
	}

	base := filepath.Join(e.path, fmt.Sprintf("%06d_%s", next, c.Name))
	upFile := base + ".up.sql"
	downFile := base + ".down.sql"

	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n-- Add your SQL here\n", c.Name, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		return fmt.Errorf("failed to create up migration: %w", err)
	}
	downContent := fmt.Sprintf("-- Rollback: %s\n\n-- Add your rollback SQL here\n", c.Name)
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		return fmt.Errorf("failed to create down migration: %w", err)
	}

	e.logger.Info().Str("up", upFile).Str("down", downFile).Msg("created migration files")
	return nil
}

// nextVersion is one past the highest numbered migration in dir.
func nextVersion(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	highest := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		m := migrationFile.FindStringSubmatch(file.Name())
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > highest {
			highest = v
		}
	}
	return highest + 1, nil
}
