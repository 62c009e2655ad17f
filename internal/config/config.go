package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"crashwager/internal/game"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Host           string
	Port           string
	Database       string
	Username       string
	Password       string
	Schema         string
	MigrationsPath string
}

// URL is the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string
	Redis    RedisConfig
	Database DatabaseConfig
	Game     game.Config
}

// Load reads .env.<ENV> then .env without overriding variables already set
// in the process environment, then builds the config from the environment.
func Load() (*Config, error) {
	env := getEnv("ENV", "development")
	loadEnvFile(".env." + env)
	loadEnvFile(".env")

	gameCfg := game.DefaultConfig()
	gameCfg.TickInterval = getEnvAsDuration("GAME_TICK_MS", time.Millisecond, gameCfg.TickInterval)
	gameCfg.BettingDuration = getEnvAsDuration("GAME_BETTING_SECONDS", time.Second, gameCfg.BettingDuration)
	gameCfg.CooldownDuration = getEnvAsDuration("GAME_COOLDOWN_SECONDS", time.Second, gameCfg.CooldownDuration)
	gameCfg.BaseGrowth = getEnvAsFloat("GAME_BASE_GROWTH", gameCfg.BaseGrowth)
	gameCfg.Acceleration = getEnvAsFloat("GAME_ACCELERATION", gameCfg.Acceleration)
	gameCfg.HouseEdge = getEnvAsFloat("GAME_HOUSE_EDGE", gameCfg.HouseEdge)
	gameCfg.MaxMultiplier = getEnvAsFloat("GAME_MAX_MULTIPLIER", gameCfg.MaxMultiplier)
	gameCfg.LateJoinThreshold = getEnvAsFloat("GAME_LATE_JOIN_THRESHOLD", gameCfg.LateJoinThreshold)
	gameCfg.HistorySize = getEnvAsInt("GAME_HISTORY_SIZE", gameCfg.HistorySize)
	gameCfg.MinStake = int64(getEnvAsInt("GAME_MIN_STAKE", int(gameCfg.MinStake)))
	gameCfg.MaxStake = int64(getEnvAsInt("GAME_MAX_STAKE", int(gameCfg.MaxStake)))
	gameCfg.Payouts.RetryInterval = getEnvAsDuration("GAME_PAYOUT_RETRY_SECONDS", time.Second, gameCfg.Payouts.RetryInterval)

	cfg := &Config{
		Env:      env,
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_URL", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:           getEnv("CRASH_DB_HOST", "localhost"),
			Port:           getEnv("CRASH_DB_PORT", "5432"),
			Database:       getEnv("CRASH_DB_DATABASE", "crashdb"),
			Username:       getEnv("CRASH_DB_USERNAME", "postgres"),
			Password:       getEnv("CRASH_DB_PASSWORD", "postgres"),
			Schema:         getEnv("CRASH_DB_SCHEMA", "public"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
		},
		Game: gameCfg,
	}

	if err := cfg.Game.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvAsDuration reads an integer count of unit.
func getEnvAsDuration(key string, unit, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return time.Duration(n) * unit
		}
	}
	return defaultVal
}
