package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcpgrid/connectd/pkg/models"
)

const connectionColumns = `id, tenant_id, name, key_hash, key_prefix, secret_enc, pin_salt, scopes,
	 mcp_access_mode, allowed_mcp_ids, expires_at, last_used_at, created_by, deleted_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, tier, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Tier, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, tier, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.Tier, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, role, pin_hash, pin_set_at, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.TenantID, &u.Email, &u.Role, &u.PinHash, &u.PinSetAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) SetUserPin(ctx context.Context, id uuid.UUID, pinHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET pin_hash = $2, pin_set_at = NOW(), updated_at = NOW() WHERE id = $1`,
		id, pinHash)
	if err != nil {
		return fmt.Errorf("set user pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Connections ---

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.KeyHash, &c.KeyPrefix, &c.SecretEnc, &c.PinSalt,
		&c.Scopes, &c.AccessMode, &c.AllowedMCPIDs, &c.ExpiresAt, &c.LastUsedAt, &c.CreatedBy,
		&c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetConnectionsByPrefix(ctx context.Context, prefix string) ([]*models.Connection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get connections by prefix: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *PostgresStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO connections (id, tenant_id, name, key_hash, key_prefix, secret_enc, pin_salt, scopes,
		   mcp_access_mode, allowed_mcp_ids, expires_at, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		conn.ID, conn.TenantID, conn.Name, conn.KeyHash, conn.KeyPrefix, conn.SecretEnc, conn.PinSalt,
		conn.Scopes, conn.AccessMode, conn.AllowedMCPIDs, conn.ExpiresAt, conn.CreatedBy,
		conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Connection, error) {
	c, err := scanConnection(s.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConnections(ctx context.Context, tenantID uuid.UUID) ([]*models.Connection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+connectionColumns+` FROM connections
		 WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *PostgresStore) CountActiveConnections(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM connections WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active connections: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID, upd ConnectionUpdate) (*models.Connection, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id, tenantID}
	argIdx := 3

	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *upd.Name)
		argIdx++
	}
	if upd.AccessMode != nil {
		sets = append(sets, fmt.Sprintf("mcp_access_mode = $%d", argIdx))
		args = append(args, *upd.AccessMode)
		argIdx++
		// allowed ids always follow an access-mode change so stale
		// selections cannot survive a switch to all/none
		sets = append(sets, fmt.Sprintf("allowed_mcp_ids = $%d", argIdx))
		args = append(args, upd.AllowedMCPIDs)
		argIdx++
	}
	if upd.ClearExpiry {
		sets = append(sets, "expires_at = NULL")
	} else if upd.ExpiresAt != nil {
		sets = append(sets, fmt.Sprintf("expires_at = $%d", argIdx))
		args = append(args, *upd.ExpiresAt)
		argIdx++
	}

	query := fmt.Sprintf(
		`UPDATE connections SET %s WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		 RETURNING %s`, strings.Join(sets, ", "), connectionColumns)

	c, err := scanConnection(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}
	return c, nil
}

// RotateConnection swaps the secret material inside a row-locked transaction
// so at most one rotation commits per key at a time. The connection identity
// is preserved; the previous key prefix is returned for invalidation.
func (s *PostgresStore) RotateConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID, rot ConnectionRotation) (*models.Connection, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin rotate: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldPrefix string
	err = tx.QueryRow(ctx,
		`SELECT key_prefix FROM connections
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL FOR UPDATE`, id, tenantID,
	).Scan(&oldPrefix)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("lock connection for rotate: %w", err)
	}

	c, err := scanConnection(tx.QueryRow(ctx,
		`UPDATE connections
		 SET key_hash = $3, key_prefix = $4, secret_enc = $5, pin_salt = $6, updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+connectionColumns,
		id, tenantID, rot.KeyHash, rot.KeyPrefix, rot.SecretEnc, rot.PinSalt))
	if err != nil {
		return nil, "", fmt.Errorf("rotate connection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit rotate: %w", err)
	}
	return c, oldPrefix, nil
}

func (s *PostgresStore) UpdateConnectionLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update connection last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeConnection(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- MCP Servers ---

func (s *PostgresStore) ListMCPServers(ctx context.Context, tenantID uuid.UUID) ([]*models.MCPServer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, slug, endpoint_url, status, created_at, updated_at
		 FROM mcp_servers WHERE tenant_id = $1 ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var servers []*models.MCPServer
	for rows.Next() {
		var m models.MCPServer
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Slug, &m.EndpointURL, &m.Status,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		servers = append(servers, &m)
	}
	return servers, rows.Err()
}

func (s *PostgresStore) CountMCPServersByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mcp_servers WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mcp servers by ids: %w", err)
	}
	return count, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
