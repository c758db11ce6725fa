package database

import (
	"context"
	"fmt"

	"github.com/npezzotti/room-relay/internal/config"
)

// NewMessageStore opens the store selected by cfg.StoreBackend. Postgres
// stores are migrated before they are returned.
func NewMessageStore(ctx context.Context, cfg *config.Config) (MessageStore, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return NewMemoryMessageStore(), nil
	case config.BackendPostgres:
		store, err := NewPgMessageStore(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		store, err := NewRedisMessageStore(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
