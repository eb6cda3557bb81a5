// Package factory selects a store backend from the environment.
package factory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lumeoai/widget-sdk-go/internal/config"
	"github.com/lumeoai/widget-sdk-go/store"
	redisstore "github.com/lumeoai/widget-sdk-go/store/redis"
	sqlitestore "github.com/lumeoai/widget-sdk-go/store/sqlite"
)

func FromEnv(ctx context.Context) (store.Store, error) {
	return New(ctx, config.Getenv("WIDGET_STORE_BACKEND", "memory"))
}

// New builds the named store backend, with connection details taken
// from the environment.
func New(ctx context.Context, backend string) (store.Store, error) {
	_ = ctx

	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = "memory"
	}
	switch backend {
	case "memory":
		return store.NewMemory(), nil

	case "sqlite":
		path := config.Getenv("WIDGET_SQLITE_PATH", "./.widget-runtime/state.db")
		return sqlitestore.New(path)

	case "redis":
		return newRedisStoreFromEnv()

	default:
		return nil, fmt.Errorf("unsupported store backend %q (use memory, sqlite, or redis)", backend)
	}
}

func newRedisStoreFromEnv() (store.Store, error) {
	addr := config.Getenv("WIDGET_REDIS_ADDR", "127.0.0.1:6379")
	password := strings.TrimSpace(os.Getenv("WIDGET_REDIS_PASSWORD"))
	db := config.ParseIntEnv("WIDGET_REDIS_DB", 0)
	ttl := config.ParseDurationEnv("WIDGET_REDIS_TTL", 48*time.Hour)

	opts := []redisstore.Option{
		redisstore.WithPassword(password),
		redisstore.WithDB(db),
		redisstore.WithTTL(ttl),
	}
	return redisstore.New(addr, opts...)
}
