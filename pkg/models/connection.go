package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessMode controls which MCP servers a connection may reach.
type AccessMode string

const (
	AccessAll      AccessMode = "all"
	AccessSelected AccessMode = "selected"
	AccessNone     AccessMode = "none"
)

// Valid reports whether m is a known access mode.
func (m AccessMode) Valid() bool {
	switch m {
	case AccessAll, AccessSelected, AccessNone:
		return true
	}
	return false
}

// Connection is an API key plus its MCP-access and expiration metadata.
// The raw secret is shown once at creation/rotation; only the bcrypt hash is
// stored for authentication. If the owning user had a PIN when the secret was
// issued, the secret is additionally kept encrypted under that PIN so it can
// be revealed later; otherwise SecretEnc is nil and the key can only be
// regenerated.
type Connection struct {
	ID            uuid.UUID   `db:"id"              json:"id"`
	TenantID      uuid.UUID   `db:"tenant_id"       json:"tenant_id"`
	Name          string      `db:"name"            json:"name"`
	KeyHash       string      `db:"key_hash"        json:"-"`
	KeyPrefix     string      `db:"key_prefix"      json:"key_prefix"`
	SecretEnc     *string     `db:"secret_enc"      json:"-"`
	PinSalt       []byte      `db:"pin_salt"        json:"-"`
	Scopes        []string    `db:"scopes"          json:"scopes"`
	AccessMode    AccessMode  `db:"mcp_access_mode" json:"mcp_access_mode"`
	AllowedMCPIDs []uuid.UUID `db:"allowed_mcp_ids" json:"allowed_mcp_ids,omitempty"`
	ExpiresAt     *time.Time  `db:"expires_at"      json:"expires_at,omitempty"`
	LastUsedAt    *time.Time  `db:"last_used_at"    json:"last_used_at,omitempty"`
	CreatedBy     uuid.UUID   `db:"created_by"      json:"created_by"`
	DeletedAt     *time.Time  `db:"deleted_at"      json:"-"`
	CreatedAt     time.Time   `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"      json:"updated_at"`
}

// IsExpired reports whether the connection's expiry is set and in the past.
// Expiration does not delete the record, only makes it unusable.
func (c *Connection) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// IsExpiringSoon reports whether the connection expires within the given
// window but has not expired yet.
func (c *Connection) IsExpiringSoon(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil || c.IsExpired(now) {
		return false
	}
	return c.ExpiresAt.Before(now.Add(window))
}

// Revealable reports whether a stored ciphertext exists for PIN-gated reveal.
// Pre-PIN keys have none and can only be regenerated.
func (c *Connection) Revealable() bool {
	return c.SecretEnc != nil && *c.SecretEnc != ""
}
