// Package cache persists small values outside process memory: the last known
// identity and the provider session token.
package cache

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("cache: key not found")

// Store is a flat key-value store. Get returns ErrNotFound for missing keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config describes the driver selection parameters.
type Config struct {
	Driver string
	Dir    string
	Redis  *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
