// Package snippets renders ready-to-paste MCP client configuration for a
// freshly minted connection secret. Builders are pure: same inputs, same
// output, no I/O.
package snippets

import (
	"encoding/json"
	"fmt"
	"strings"
)

// gatewayURL is the public MCP endpoint the snippets point clients at.
const gatewayURL = "https://gateway.mcpgrid.io/mcp"

// Snippet is one client-specific configuration block.
type Snippet struct {
	Client   string `json:"client"`
	Title    string `json:"title"`
	Language string `json:"language"`
	Body     string `json:"body"`
}

// Build renders all supported client snippets for the given connection.
func Build(connectionName, secret string) ([]Snippet, error) {
	claude, err := claudeDesktop(connectionName, secret)
	if err != nil {
		return nil, err
	}
	cursor, err := cursorConfig(connectionName, secret)
	if err != nil {
		return nil, err
	}
	return []Snippet{claude, cursor, curlExample(secret)}, nil
}

// claudeDesktop renders the mcpServers block for Claude Desktop's
// claude_desktop_config.json.
func claudeDesktop(name, secret string) (Snippet, error) {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			slugify(name): map[string]any{
				"url": gatewayURL,
				"headers": map[string]string{
					"Authorization": "Bearer " + secret,
				},
			},
		},
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Snippet{}, fmt.Errorf("render claude desktop config: %w", err)
	}
	return Snippet{
		Client:   "claude-desktop",
		Title:    "Claude Desktop (claude_desktop_config.json)",
		Language: "json",
		Body:     string(body),
	}, nil
}

// cursorConfig renders the equivalent block for Cursor's .cursor/mcp.json.
func cursorConfig(name, secret string) (Snippet, error) {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			slugify(name): map[string]any{
				"url": gatewayURL,
				"env": map[string]string{
					"MCP_API_KEY": secret,
				},
			},
		},
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Snippet{}, fmt.Errorf("render cursor config: %w", err)
	}
	return Snippet{
		Client:   "cursor",
		Title:    "Cursor (.cursor/mcp.json)",
		Language: "json",
		Body:     string(body),
	}, nil
}

// curlExample renders a raw HTTP example for clients without native MCP
// config files.
func curlExample(secret string) Snippet {
	body := fmt.Sprintf("curl %s \\\n  -H %q", gatewayURL, "Authorization: Bearer "+secret)
	return Snippet{
		Client:   "http",
		Title:    "Any HTTP client",
		Language: "bash",
		Body:     body,
	}
}

// slugify lowercases the connection name into a config-key-safe identifier.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true // trim leading dashes
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "mcpgrid"
	}
	return out
}
