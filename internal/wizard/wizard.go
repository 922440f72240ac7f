// Package wizard drives the multi-step connection creation dialog: details,
// optional MCP selection, then the one-time secret screen. The step sequence
// adapts to the chosen access mode, and the secret is copied to the clipboard
// exactly once, when the final step is first entered.
package wizard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/connections"
	"github.com/mcpgrid/connectd/pkg/models"
	"github.com/mcpgrid/connectd/pkg/snippets"
)

// Step is the wizard's current screen.
type Step string

const (
	StepClosed  Step = "closed"
	StepDetails Step = "details"
	StepServers Step = "servers"
	StepSecret  Step = "secret"
)

var (
	ErrNameRequired   = errors.New("name is required")
	ErrNoServers      = errors.New("select at least one MCP server")
	ErrNotOnThisStep  = errors.New("action not valid on this step")
	ErrAlreadyCreated = errors.New("connection already created")
)

// Creator mints the connection on the final advance.
type Creator interface {
	Create(ctx context.Context, p connections.CreateParams) (*connections.Created, error)
}

// Clipboard receives the secret for the one-time automatic copy.
type Clipboard interface {
	Write(text string) error
}

// Wizard holds the in-progress form. Not safe for concurrent use: a wizard
// instance belongs to one dialog in one session.
type Wizard struct {
	creator   Creator
	clipboard Clipboard
	actor     *models.User
	tenantID  uuid.UUID

	step Step

	// step 1
	name       string
	expiresAt  *time.Time
	accessMode models.AccessMode
	scopes     []string

	// step 2
	selectedIDs []uuid.UUID

	// step 3
	created *connections.Created
	masked  bool
	copied  bool
}

// New creates a closed wizard for the given actor and tenant.
func New(creator Creator, clipboard Clipboard, actor *models.User, tenantID uuid.UUID) *Wizard {
	return &Wizard{
		creator:   creator,
		clipboard: clipboard,
		actor:     actor,
		tenantID:  tenantID,
		step:      StepClosed,
	}
}

// Step returns the current screen.
func (w *Wizard) Step() Step { return w.step }

// Open starts the wizard on the details step with a fresh form.
func (w *Wizard) Open() Step {
	w.reset()
	w.step = StepDetails
	return w.step
}

// SetDetails records the first-step form fields.
func (w *Wizard) SetDetails(name string, expiresAt *time.Time, mode models.AccessMode, scopes []string) {
	w.name = name
	w.expiresAt = expiresAt
	w.accessMode = mode
	w.scopes = scopes
}

// ToggleServer adds or removes an MCP server from the selection.
func (w *Wizard) ToggleServer(id uuid.UUID) {
	for i, existing := range w.selectedIDs {
		if existing == id {
			w.selectedIDs = append(w.selectedIDs[:i], w.selectedIDs[i+1:]...)
			return
		}
	}
	w.selectedIDs = append(w.selectedIDs, id)
}

// SelectedServers returns the current MCP selection.
func (w *Wizard) SelectedServers() []uuid.UUID { return w.selectedIDs }

// Next advances to the following step, validating the current one. The
// servers step only exists for the selected access mode; otherwise details
// advances straight to creation. Validation failures keep the wizard on the
// current step.
func (w *Wizard) Next(ctx context.Context, pin string) (Step, error) {
	switch w.step {
	case StepDetails:
		if strings.TrimSpace(w.name) == "" {
			return w.step, ErrNameRequired
		}
		if w.accessMode == models.AccessSelected {
			w.step = StepServers
			return w.step, nil
		}
		return w.create(ctx, pin)

	case StepServers:
		if len(w.selectedIDs) == 0 {
			return w.step, ErrNoServers
		}
		return w.create(ctx, pin)

	default:
		return w.step, ErrNotOnThisStep
	}
}

// Back returns to the previous step. Form state is kept.
func (w *Wizard) Back() Step {
	if w.step == StepServers {
		w.step = StepDetails
	}
	return w.step
}

// create mints the connection and enters the secret step, copying the secret
// to the clipboard exactly once. A clipboard failure does not fail the
// creation: the secret is still on screen.
func (w *Wizard) create(ctx context.Context, pin string) (Step, error) {
	if w.created != nil {
		return w.step, ErrAlreadyCreated
	}

	created, err := w.creator.Create(ctx, connections.CreateParams{
		TenantID:      w.tenantID,
		Actor:         w.actor,
		Name:          w.name,
		Scopes:        w.scopes,
		AccessMode:    w.accessMode,
		AllowedMCPIDs: w.selectedIDs,
		ExpiresAt:     w.expiresAt,
		Pin:           pin,
	})
	if err != nil {
		return w.step, err
	}

	w.created = created
	w.masked = true
	w.step = StepSecret

	if !w.copied && w.clipboard != nil {
		w.copied = true
		_ = w.clipboard.Write(created.Secret)
	}
	return w.step, nil
}

// Secret returns the minted secret, masked or plain per the toggle. Empty
// before the secret step.
func (w *Wizard) Secret() string {
	if w.created == nil {
		return ""
	}
	if w.masked {
		return maskSecret(w.created.Secret)
	}
	return w.created.Secret
}

// Connection returns the created connection, nil before the secret step.
func (w *Wizard) Connection() *models.Connection {
	if w.created == nil {
		return nil
	}
	return w.created.Connection
}

// ToggleMask flips between the masked and plain secret display.
func (w *Wizard) ToggleMask() bool {
	w.masked = !w.masked
	return w.masked
}

// CopyAgain re-copies the secret on explicit user request. Only the
// automatic copy on step entry is once-only.
func (w *Wizard) CopyAgain() error {
	if w.created == nil {
		return ErrNotOnThisStep
	}
	if w.clipboard == nil {
		return nil
	}
	return w.clipboard.Write(w.created.Secret)
}

// Snippets returns ready-to-paste client configuration for the new secret.
func (w *Wizard) Snippets() ([]snippets.Snippet, error) {
	if w.created == nil {
		return nil, ErrNotOnThisStep
	}
	return snippets.Build(w.created.Connection.Name, w.created.Secret)
}

// StartOver abandons everything, including an already-minted secret, and
// restarts at the details step.
func (w *Wizard) StartOver() Step {
	w.reset()
	w.step = StepDetails
	return w.step
}

// Close hides the wizard. The created connection, if any, stays created;
// closing is not an undo.
func (w *Wizard) Close() Step {
	w.step = StepClosed
	return w.step
}

func (w *Wizard) reset() {
	w.name = ""
	w.expiresAt = nil
	w.accessMode = models.AccessAll
	w.scopes = nil
	w.selectedIDs = nil
	w.created = nil
	w.masked = true
	w.copied = false
}

// maskSecret keeps the identifying prefix visible and hides the rest.
func maskSecret(secret string) string {
	const visible = 12
	if len(secret) <= visible {
		return secret
	}
	return secret[:visible] + strings.Repeat("•", len(secret)-visible)
}
