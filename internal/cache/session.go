package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"optiquantia/internal/models"
)

const (
	DefaultSessionKey = "optiquantia-user"
	DefaultTokenKey   = "optiquantia-auth-token"

	// SessionVersion changes whenever the Identity shape changes.
	SessionVersion = 1
)

var ErrStaleEntry = errors.New("cache: stale or unreadable session entry")

type sessionEntry struct {
	Version  int             `json:"version"`
	Identity models.Identity `json:"identity"`
}

// SessionCache stores the last known identity under one fixed key.
type SessionCache struct {
	store Store
	key   string
}

func NewSessionCache(store Store, key string) *SessionCache {
	if key == "" {
		key = DefaultSessionKey
	}
	return &SessionCache{store: store, key: key}
}

func (c *SessionCache) Key() string { return c.key }

// Load returns the cached identity. An entry with another version or that does not
// decode is removed and reported as absent together with ErrStaleEntry.
func (c *SessionCache) Load(ctx context.Context) (models.Identity, bool, error) {
	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return models.Identity{}, false, nil
	}
	if err != nil {
		return models.Identity{}, false, fmt.Errorf("read session entry: %w", err)
	}

	var e sessionEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.Version != SessionVersion || e.Identity.ID == "" {
		_ = c.store.Delete(ctx, c.key)
		return models.Identity{}, false, ErrStaleEntry
	}
	return e.Identity, true, nil
}

func (c *SessionCache) Save(ctx context.Context, id models.Identity) error {
	raw, err := json.Marshal(sessionEntry{Version: SessionVersion, Identity: id})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.key, raw)
}

func (c *SessionCache) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, c.key)
}
