package models

import (
	"time"

	"github.com/google/uuid"
)

// MCPServer is a Model Context Protocol endpoint hosted for a tenant.
// Connections with mcp_access_mode=selected reference entries of this
// catalog through allowed_mcp_ids.
type MCPServer struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	TenantID    uuid.UUID `db:"tenant_id"    json:"tenant_id"`
	Name        string    `db:"name"         json:"name"`
	Slug        string    `db:"slug"         json:"slug"`
	EndpointURL string    `db:"endpoint_url" json:"endpoint_url"`
	Status      string    `db:"status"       json:"status"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}
