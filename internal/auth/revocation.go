package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "kioskscan:revoked:"

// RevocationStore remembers logged-out tokens until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RedisRevocations shares revocations across API instances.
type RedisRevocations struct {
	client *redis.Client
}

// NewRedisRevocations creates a Redis-backed store.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

// Revoke stores the token hash for ttl. Non-positive ttls are a no-op.
func (r *RedisRevocations) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedPrefix+tokenKey(token), "1", ttl).Err()
}

// IsRevoked checks for the token hash.
func (r *RedisRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedPrefix+tokenKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryRevocations is a single-process store. Revocations are lost on
// restart and not shared between instances.
type MemoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocations creates an empty store.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{entries: make(map[string]time.Time), now: time.Now}
}

// Revoke records the token until now+ttl.
func (m *MemoryRevocations) Revoke(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
	m.entries[tokenKey(token)] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether the token is revoked and not yet expired.
func (m *MemoryRevocations) IsRevoked(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tokenKey(token)
	exp, ok := m.entries[k]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.entries, k)
		return false, nil
	}
	return true, nil
}
