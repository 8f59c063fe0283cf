// Package config reads server settings from the environment. Timeouts and
// windows are tunable parameters, not contracts; the defaults mirror a
// production deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr  string
	DatabaseDSN string
	AuthSecret  string
	// AllowAnonymous lets a connection without a token play demo matches.
	AllowAnonymous bool

	RakeRate       float64
	RollTimeout    time.Duration
	MoveTimeout    time.Duration
	PassDelay      time.Duration
	QueueStaleness time.Duration
	SweepInterval  time.Duration
	MatchGCBound   time.Duration
	GCInterval     time.Duration
	PersistRetries int
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:     getString("LISTEN_ADDR", ":8080"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		AllowAnonymous: getBool("ALLOW_ANONYMOUS", true),
	}

	var err error
	if cfg.RakeRate, err = getFloat("RAKE_RATE", 0.10); err != nil {
		return Config{}, err
	}
	if cfg.RollTimeout, err = getDuration("ROLL_TIMEOUT", 8*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MoveTimeout, err = getDuration("MOVE_TIMEOUT", 20*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PassDelay, err = getDuration("PASS_DELAY", 800*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.QueueStaleness, err = getDuration("QUEUE_STALENESS", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MatchGCBound, err = getDuration("MATCH_GC_BOUND", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.GCInterval, err = getDuration("GC_INTERVAL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.PersistRetries, err = getInt("PERSIST_RETRIES", 3); err != nil {
		return Config{}, err
	}

	if cfg.RakeRate < 0 || cfg.RakeRate >= 1 {
		return Config{}, fmt.Errorf("RAKE_RATE %v out of range [0,1)", cfg.RakeRate)
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
