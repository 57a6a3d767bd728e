package config

import (
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	c, err := FromEnv(envMap(map[string]string{"JWT_SECRET": "s3cret"}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Store.Backend != "memory" || c.Bus.Backend != "local" || c.RedisAddr != "localhost:6379" {
		t.Fatalf("defaults = %+v", c)
	}
	if c.LogLevel != slog.LevelInfo || c.TokenTTL != 24*time.Hour || c.SnowflakeNode != 1 {
		t.Fatalf("defaults = %+v", c)
	}
	if c.Store.Shared() {
		t.Fatal("in-memory store reported as shared")
	}
	if c.APIAddr != ":8081" || c.GatewayAddr != ":8080" || c.DevLogin {
		t.Fatalf("defaults = %+v", c)
	}
	if !strings.HasPrefix(c.Bus.GroupID, "gateway-") {
		t.Fatalf("group id = %q", c.Bus.GroupID)
	}
}

func TestOverrides(t *testing.T) {
	c, err := FromEnv(envMap(map[string]string{
		"STORE_BACKEND":  "SQLite",
		"SQLITE_PATH":    "/tmp/x.db",
		"BUS_BACKEND":    "kafka",
		"KAFKA_BROKERS":  "k1:9092, k2:9092,",
		"LOG_LEVEL":      "debug",
		"AUTH_DEV_LOGIN": "true",
		"SNOWFLAKE_NODE": "7",
		"TOKEN_TTL":      "15m",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Store.Backend != "sqlite" || c.Store.DSN != "/tmp/x.db" || !c.Store.Shared() {
		t.Fatalf("store = %+v", c.Store)
	}
	if !reflect.DeepEqual(c.Bus.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("brokers = %q", c.Bus.KafkaBrokers)
	}
	if c.LogLevel != slog.LevelDebug || !c.DevLogin || c.SnowflakeNode != 7 || c.TokenTTL != 15*time.Minute {
		t.Fatalf("config = %+v", c)
	}
	if c.JWTSecret == "" {
		t.Fatal("dev login should fall back to a dev secret")
	}
}

func TestInvalid(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"STORE_BACKEND":  "postgres",
		"SNOWFLAKE_NODE": "seven",
		"LOG_LEVEL":      "chatty",
	}))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"POSTGRES_DSN", "SNOWFLAKE_NODE", "LOG_LEVEL", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	if _, err := FromEnv(envMap(map[string]string{"JWT_SECRET": "x", "STORE_BACKEND": "mongo"})); err == nil {
		t.Fatal("unknown store backend accepted")
	}
}
