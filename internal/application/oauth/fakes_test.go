package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/crypto"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestCipher() *crypto.Cipher {
	c, err := crypto.NewCipher(testEncryptionKey)
	if err != nil {
		panic(err)
	}
	return c
}

type storedState struct {
	mode      domain.Mode
	expiresAt time.Time
}

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]storedState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]storedState)}
}

func (s *fakeStateStore) Create(ctx context.Context, hash string, mode domain.Mode, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[hash] = storedState{mode: mode, expiresAt: expiresAt}
	return nil
}

func (s *fakeStateStore) Consume(ctx context.Context, hash string) (domain.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[hash]
	if !ok || time.Now().After(st.expiresAt) {
		return "", domerrors.ErrInvalidState
	}
	delete(s.states, hash)
	return st.mode, nil
}

func (s *fakeStateStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type connKey struct {
	tenantID string
	livemode bool
}

type fakeConnStore struct {
	mu          sync.Mutex
	conns       map[connKey]*domain.Connection
	updateErr   error
	updateCalls int
	// updateBeforeReturn records the rotated refresh ciphertext visible at
	// update time, for ordering assertions.
	lastRefreshCT []byte
}

func newFakeConnStore() *fakeConnStore {
	return &fakeConnStore{conns: make(map[connKey]*domain.Connection)}
}

func (s *fakeConnStore) Upsert(ctx context.Context, conn *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	stored := *conn
	stored.RefreshTokenRotatedAt = now
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.conns[connKey{conn.TenantID, conn.Livemode}] = &stored
	return nil
}

func (s *fakeConnStore) Get(ctx context.Context, tenantID string, livemode bool) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[connKey{tenantID, livemode}]
	if !ok {
		return nil, nil
	}
	cp := *conn
	return &cp, nil
}

func (s *fakeConnStore) List(ctx context.Context, tenantID string) ([]domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Connection
	for k, c := range s.conns {
		if k.tenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeConnStore) UpdateRotatedTokens(ctx context.Context, tenantID string, livemode bool, accessCT []byte, expiresAt time.Time, refreshCT []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	conn, ok := s.conns[connKey{tenantID, livemode}]
	if !ok {
		return nil
	}
	conn.AccessTokenCiphertext = accessCT
	conn.AccessTokenExpiresAt = expiresAt
	conn.RefreshTokenCiphertext = refreshCT
	conn.RefreshTokenRotatedAt = time.Now()
	conn.UpdatedAt = time.Now()
	s.lastRefreshCT = refreshCT
	return nil
}

func (s *fakeConnStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Connection
	for _, c := range s.conns {
		if before.IsZero() || !c.AccessTokenExpiresAt.After(before) {
			out = append(out, *c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeConnStore) Delete(ctx context.Context, tenantID string, livemode bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connKey{tenantID, livemode})
	return nil
}

type fakeExchanger struct {
	mu        sync.Mutex
	grant     *ports.TokenGrant
	err       error
	lastCode  string
	lastToken string
	lastMode  domain.Mode
	calls     int
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, code string, mode domain.Mode) (*ports.TokenGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastCode = code
	f.lastMode = mode
	if f.err != nil {
		return nil, f.err
	}
	g := *f.grant
	return &g, nil
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string, mode domain.Mode) (*ports.TokenGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastToken = refreshToken
	f.lastMode = mode
	if f.err != nil {
		return nil, f.err
	}
	g := *f.grant
	return &g, nil
}
