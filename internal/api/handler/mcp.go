package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/api/response"
	"github.com/mcpgrid/connectd/pkg/models"
)

// MCPCatalog lists the tenant's MCP servers for the wizard's selection step.
type MCPCatalog interface {
	ListMCPServers(ctx context.Context, tenantID uuid.UUID) ([]*models.MCPServer, error)
}

// NewListMCPServersHandler returns the handler for GET /api/v1/mcp-servers.
func NewListMCPServersHandler(catalog MCPCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(w, r)
		if !ok {
			return
		}

		servers, err := catalog.ListMCPServers(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, servers)
	}
}
