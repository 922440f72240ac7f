package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetUserPin(ctx context.Context, id uuid.UUID, pinHash string) error

	GetConnectionsByPrefix(ctx context.Context, prefix string) ([]*models.Connection, error)
	CreateConnection(ctx context.Context, conn *models.Connection) error
	GetConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Connection, error)
	ListConnections(ctx context.Context, tenantID uuid.UUID) ([]*models.Connection, error)
	CountActiveConnections(ctx context.Context, tenantID uuid.UUID) (int, error)
	UpdateConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID, upd ConnectionUpdate) (*models.Connection, error)
	RotateConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID, rot ConnectionRotation) (*models.Connection, string, error)
	UpdateConnectionLastUsed(ctx context.Context, id uuid.UUID) error
	RevokeConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	ListMCPServers(ctx context.Context, tenantID uuid.UUID) ([]*models.MCPServer, error)
	CountMCPServersByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error)
}

// ConnectionUpdate holds the mutable fields of a connection. Nil pointers
// leave the column untouched; ClearExpiry removes an existing expiry.
type ConnectionUpdate struct {
	Name          *string
	AccessMode    *models.AccessMode
	AllowedMCPIDs []uuid.UUID
	ExpiresAt     *time.Time
	ClearExpiry   bool
}

// ConnectionRotation replaces a connection's secret material. Identity and
// metadata stay untouched; only hash, prefix and the reveal ciphertext change.
type ConnectionRotation struct {
	KeyHash   string
	KeyPrefix string
	SecretEnc *string
	PinSalt   []byte
}
