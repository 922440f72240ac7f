package connections_test

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/store"
	"github.com/mcpgrid/connectd/pkg/models"
)

// fakeStore is an in-memory store.Store for unit tests.
type fakeStore struct {
	mu          sync.Mutex
	tenants     map[uuid.UUID]*models.Tenant
	users       map[uuid.UUID]*models.User
	connections map[uuid.UUID]*models.Connection
	mcpServers  map[uuid.UUID]*models.MCPServer
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:     make(map[uuid.UUID]*models.Tenant),
		users:       make(map[uuid.UUID]*models.User),
		connections: make(map[uuid.UUID]*models.Connection),
		mcpServers:  make(map[uuid.UUID]*models.MCPServer),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tenants {
		cp := *t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) SetUserPin(_ context.Context, id uuid.UUID, pinHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	u.PinHash = &pinHash
	u.PinSetAt = &now
	return nil
}

func (f *fakeStore) GetConnectionsByPrefix(_ context.Context, prefix string) ([]*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Connection
	for _, c := range f.connections {
		if c.KeyPrefix == prefix && c.DeletedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateConnection(_ context.Context, conn *models.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *conn
	f.connections[conn.ID] = &cp
	return nil
}

func (f *fakeStore) GetConnection(_ context.Context, id, tenantID uuid.UUID) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListConnections(_ context.Context, tenantID uuid.UUID) ([]*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Connection{}
	for _, c := range f.connections {
		if c.TenantID == tenantID && c.DeletedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) CountActiveConnections(_ context.Context, tenantID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.connections {
		if c.TenantID == tenantID && c.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateConnection(_ context.Context, id, tenantID uuid.UUID, upd store.ConnectionUpdate) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.AccessMode != nil {
		c.AccessMode = *upd.AccessMode
		c.AllowedMCPIDs = upd.AllowedMCPIDs
	}
	if upd.ClearExpiry {
		c.ExpiresAt = nil
	} else if upd.ExpiresAt != nil {
		c.ExpiresAt = upd.ExpiresAt
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	return &cp, nil
}

func (f *fakeStore) RotateConnection(_ context.Context, id, tenantID uuid.UUID, rot store.ConnectionRotation) (*models.Connection, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return nil, "", store.ErrNotFound
	}
	oldPrefix := c.KeyPrefix
	c.KeyHash = rot.KeyHash
	c.KeyPrefix = rot.KeyPrefix
	c.SecretEnc = rot.SecretEnc
	c.PinSalt = rot.PinSalt
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	return &cp, oldPrefix, nil
}

func (f *fakeStore) UpdateConnectionLastUsed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.connections[id]; ok {
		now := time.Now().UTC()
		c.LastUsedAt = &now
	}
	return nil
}

func (f *fakeStore) RevokeConnection(_ context.Context, id, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return nil
}

func (f *fakeStore) ListMCPServers(_ context.Context, tenantID uuid.UUID) ([]*models.MCPServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.MCPServer{}
	for _, s := range f.mcpServers {
		if s.TenantID == tenantID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) CountMCPServersByIDs(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Distinct matches, as the SQL COUNT over = ANY(ids) would return.
	seen := map[uuid.UUID]bool{}
	n := 0
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s, ok := f.mcpServers[id]; ok && s.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// fakeCache is an in-memory cache.Cache. TTLs are honored lazily on read.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	expires map[string]time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		data:    make(map[string][]byte),
		expires: make(map[string]time.Time),
	}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.expires[key] = time.Now().Add(ttl)
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	if exp, has := f.expires[key]; has && time.Now().After(exp) {
		delete(f.data, key)
		delete(f.expires, key)
		return nil, false, nil
	}
	return v, true, nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	delete(f.expires, key)
	return nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }

func (f *fakeCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	if raw, ok := f.data[key]; ok {
		if exp, has := f.expires[key]; !has || time.Now().Before(exp) {
			n, _ = strconv.ParseInt(string(raw), 10, 64)
		}
	}
	n++
	f.data[key] = []byte(strconv.FormatInt(n, 10))
	f.expires[key] = time.Now().Add(expiry)
	return n, nil
}
