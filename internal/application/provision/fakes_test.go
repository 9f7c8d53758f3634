package provision

import (
	"context"
	"sync"
	"time"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/domain"
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

type fakeProvisionStore struct {
	mu   sync.Mutex
	rows map[string]*domain.ProvisionedDatabase
	// transitions records every UpdateState call as status/step pairs.
	transitions []string
}

func newFakeProvisionStore() *fakeProvisionStore {
	return &fakeProvisionStore{rows: make(map[string]*domain.ProvisionedDatabase)}
}

func (s *fakeProvisionStore) Create(ctx context.Context, row *domain.ProvisionedDatabase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.rows[row.TenantID] = &cp
	return nil
}

func (s *fakeProvisionStore) Get(ctx context.Context, tenantID string) (*domain.ProvisionedDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *fakeProvisionStore) UpdateState(ctx context.Context, tenantID string, status domain.InstallStatus, step domain.InstallStep, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tenantID]
	if !ok {
		return nil
	}
	row.InstallStatus = status
	row.InstallStep = step
	row.ErrorMessage = errorMessage
	row.UpdatedAt = time.Now()
	s.transitions = append(s.transitions, string(status)+"/"+string(step))
	return nil
}

func (s *fakeProvisionStore) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, tenantID)
	return nil
}

// setUpdatedAt backdates a row to simulate elapsed wall-clock time.
func (s *fakeProvisionStore) setUpdatedAt(tenantID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tenantID].UpdatedAt = at
}

type fakeLocker struct {
	mu    sync.Mutex
	busy  bool
	calls int
}

func (l *fakeLocker) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) (bool, error) {
	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		return false, nil
	}
	l.calls++
	l.mu.Unlock()
	return true, fn(ctx)
}

type fakeControlPlane struct {
	mu          sync.Mutex
	project     *ports.ControlPlaneProject
	createErr   error
	queryErr    error
	queryRows   []map[string]any
	deleteErr   error
	queries     []string
	deletedRefs []string
}

func (c *fakeControlPlane) CreateProject(ctx context.Context, name, dbPassword, region string) (*ports.ControlPlaneProject, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	if c.project != nil {
		return c.project, nil
	}
	return &ports.ControlPlaneProject{Ref: "ref_123", Region: region}, nil
}

func (c *fakeControlPlane) RunQuery(ctx context.Context, projectRef, sql string) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, sql)
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.queryRows, nil
}

func (c *fakeControlPlane) DeleteProject(ctx context.Context, projectRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deletedRefs = append(c.deletedRefs, projectRef)
	return nil
}

type fakeInstaller struct {
	err   error
	calls int
	token string
}

func (f *fakeInstaller) Install(ctx context.Context, accessToken string) error {
	f.calls++
	f.token = accessToken
	return f.err
}

type fakeTokenSource struct {
	token string
	err   error
}

func (f *fakeTokenSource) FreshAccessToken(ctx context.Context, tenantID string, livemode bool) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}
