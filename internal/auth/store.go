// Package auth sends backend requests with the process-wide bearer token and
// performs the single refresh-and-retry cycle on an expired-token response.
package auth

import (
	"context"
	"sync"

	"cardrec/internal/shared"
)

// TokenStore is the only read/write access point for the access/refresh
// pair. SetTokens replaces both tokens at once; concurrent writers resolve as
// last writer wins.
type TokenStore interface {
	Tokens(ctx context.Context) (shared.TokenPair, error)
	SetTokens(ctx context.Context, pair shared.TokenPair) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the pair in process memory.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	pair shared.TokenPair
}

func NewMemoryTokenStore(pair shared.TokenPair) *MemoryTokenStore {
	return &MemoryTokenStore{pair: pair}
}

func (m *MemoryTokenStore) Tokens(_ context.Context) (shared.TokenPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair, nil
}

func (m *MemoryTokenStore) SetTokens(_ context.Context, pair shared.TokenPair) error {
	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.pair = shared.TokenPair{}
	m.mu.Unlock()
	return nil
}
