// Package config reads service settings from the environment, after loading
// a .env file when one is present.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mahaj/dupahar-support/pkg/bus"
)

const devSecret = "dev-only-secret"

type Store struct {
	// Backend is one of memory, sqlite, postgres, scylla.
	Backend string
	// DSN is the SQLite path or Postgres connection string.
	DSN               string
	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaReplication int
}

// Shared reports whether separate processes opening this store see the same
// data. The in-memory store lives and dies with one process.
func (s Store) Shared() bool {
	return s.Backend != "memory"
}

type Config struct {
	LogLevel slog.Level
	LogFile  string

	Store     Store
	Bus       bus.Options
	RedisAddr string

	JWTSecret string
	TokenTTL  time.Duration
	DevLogin  bool

	SnowflakeNode     int64
	APIAddr           string
	GatewayAddr       string
	WorkerConcurrency int
}

// Load reads .env (if any) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var errs []error
	atoi := func(key string, def int) int {
		v := env(key, strconv.Itoa(def))
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
		}
		return n
	}

	c := &Config{
		LogFile:   env("LOG_FILE", ""),
		RedisAddr: env("REDIS_ADDR", "localhost:6379"),
		JWTSecret: env("JWT_SECRET", ""),

		APIAddr:           env("API_ADDR", ":8081"),
		GatewayAddr:       env("GATEWAY_ADDR", ":8080"),
		WorkerConcurrency: atoi("WORKER_CONCURRENCY", 10),
		SnowflakeNode:     int64(atoi("SNOWFLAKE_NODE", 1)),
	}

	if err := c.LogLevel.UnmarshalText([]byte(env("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	c.Store = Store{
		Backend:           strings.ToLower(env("STORE_BACKEND", "memory")),
		ScyllaHosts:       list(env("SCYLLA_HOSTS", "localhost:9042")),
		ScyllaKeyspace:    env("SCYLLA_KEYSPACE", "support"),
		ScyllaReplication: atoi("SCYLLA_REPLICATION", 1),
	}
	switch c.Store.Backend {
	case "memory", "scylla":
	case "sqlite":
		c.Store.DSN = env("SQLITE_PATH", "support.db")
	case "postgres":
		c.Store.DSN = env("POSTGRES_DSN", "")
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", c.Store.Backend))
	}

	host, _ := os.Hostname()
	c.Bus = bus.Options{
		Backend:      strings.ToLower(env("BUS_BACKEND", bus.BackendLocal)),
		KafkaBrokers: list(env("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:   env("KAFKA_TOPIC", "support-events"),
		GroupID:      env("KAFKA_GROUP_ID", "gateway-"+host+"-"+strconv.Itoa(os.Getpid())),
		MQTTBroker:   env("MQTT_BROKER", "tcp://localhost:1883"),
		ClientID:     env("MQTT_CLIENT_ID", ""),
	}

	var err error
	if c.DevLogin, err = strconv.ParseBool(env("AUTH_DEV_LOGIN", "false")); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_DEV_LOGIN: %w", err))
	}
	if c.TokenTTL, err = time.ParseDuration(env("TOKEN_TTL", "24h")); err != nil {
		errs = append(errs, fmt.Errorf("TOKEN_TTL: %w", err))
	}
	if c.JWTSecret == "" {
		if !c.DevLogin {
			errs = append(errs, errors.New("JWT_SECRET is required unless AUTH_DEV_LOGIN is set"))
		}
		c.JWTSecret = devSecret
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

func list(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Logger builds the JSON logger every service writes with. The returned
// closer releases LOG_FILE when one is configured.
func (c *Config) Logger(service string) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open log file: %w", err)
		}
		out, closer = f, f
	}
	h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: c.LogLevel})
	return slog.New(h).With("service", service), closer, nil
}
