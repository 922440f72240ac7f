// Package reveal drives the dashboard's secret-reveal interaction: PIN
// prompt, reveal, and the regenerate detour for keys that predate PIN
// protection. One Flow instance backs one reveal dialog.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/connections"
	"github.com/mcpgrid/connectd/pkg/models"
)

// State is the dialog's current step.
type State string

const (
	// StateHidden means no dialog is open.
	StateHidden State = "hidden"
	// StatePromptSetPin asks a user without a PIN to set one first.
	StatePromptSetPin State = "prompt_set_pin"
	// StateVerifyPin asks for the PIN before revealing.
	StateVerifyPin State = "verify_pin"
	// StateConfirmRegenerate warns that the key predates PIN protection and
	// can only be regenerated, invalidating the current secret.
	StateConfirmRegenerate State = "confirm_regenerate"
	// StateRevealed shows the secret.
	StateRevealed State = "revealed"
)

var (
	// ErrNoPendingConnection means an action arrived with no dialog open.
	ErrNoPendingConnection = errors.New("no connection pending reveal")
	// ErrRegenerateInFlight rejects a second regenerate while one is running.
	ErrRegenerateInFlight = errors.New("regenerate already in flight")
)

// Revealer is the server call behind PIN submission.
type Revealer interface {
	Reveal(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, pin string) (string, error)
}

// Rotator is the server call behind the regenerate confirmation.
type Rotator interface {
	Rotate(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, pin string) (*connections.Rotated, error)
}

// Flow is the reveal dialog's state machine. Methods are safe for concurrent
// use; the regenerate round-trip runs outside the lock so the dialog stays
// responsive, with regenInFlight flipped synchronously before the call starts.
type Flow struct {
	revealer Revealer
	rotator  Rotator

	// regenInFlight is set synchronously the moment a regenerate is
	// committed, before any asynchronous state settles. Dismiss cleanup
	// reads this flag, never the dialog state, to decide whether the
	// pending connection must survive the dismiss: the state transition
	// to revealed happens later, on the rotate response, and a dismiss
	// can land in between.
	regenInFlight atomic.Bool

	mu      sync.Mutex
	state   State
	actor   *models.User
	pending *models.Connection

	// revealed caches secrets already shown this session, keyed by
	// connection id, so re-opening the dialog skips the PIN prompt.
	revealed map[uuid.UUID]string
	secret   string
	lastErr  error
}

// NewFlow creates a closed reveal flow for the given actor.
func NewFlow(revealer Revealer, rotator Rotator, actor *models.User) *Flow {
	return &Flow{
		revealer: revealer,
		rotator:  rotator,
		state:    StateHidden,
		actor:    actor,
		revealed: make(map[uuid.UUID]string),
	}
}

// State returns the current dialog step.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Secret returns the revealed secret, valid only in StateRevealed.
func (f *Flow) Secret() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secret
}

// Err returns the most recent non-fatal interaction error (wrong PIN,
// lockout), cleared on the next action.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Open starts a reveal for the given connection. Users without a PIN are
// sent to the set-PIN prompt; secrets already revealed this session show
// immediately.
func (f *Flow) Open(conn *models.Connection) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = conn
	f.lastErr = nil

	if cached, ok := f.revealed[conn.ID]; ok {
		f.secret = cached
		f.state = StateRevealed
		return f.state
	}
	if !f.actor.HasPin() {
		f.state = StatePromptSetPin
		return f.state
	}
	f.state = StateVerifyPin
	return f.state
}

// PinWasSet moves from the set-PIN prompt to PIN entry after the user has
// registered a PIN elsewhere in the UI.
func (f *Flow) PinWasSet(actor *models.User) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actor = actor
	if f.state == StatePromptSetPin {
		f.state = StateVerifyPin
	}
	return f.state
}

// SubmitPin verifies the PIN against the server and either reveals the
// secret or, for keys that predate PIN protection, detours into the
// regenerate confirmation.
func (f *Flow) SubmitPin(ctx context.Context, pin string) (State, error) {
	f.mu.Lock()
	if f.pending == nil {
		f.mu.Unlock()
		return StateHidden, ErrNoPendingConnection
	}
	actor, conn := f.actor, f.pending
	f.lastErr = nil
	f.mu.Unlock()

	secret, err := f.revealer.Reveal(ctx, actor, conn.TenantID, conn.ID, pin)

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case err == nil:
		f.secret = secret
		f.revealed[conn.ID] = secret
		f.state = StateRevealed
	case errors.Is(err, connections.ErrNeedsRegeneration):
		f.state = StateConfirmRegenerate
	default:
		// Wrong PIN and lockout keep the dialog on PIN entry with the
		// error surfaced; anything else bubbles up unchanged.
		f.lastErr = err
		f.state = StateVerifyPin
	}
	return f.state, f.lastErr
}

// ProceedWithRegenerate confirms the regenerate warning and rotates the key.
// The new secret is shown without a second PIN round-trip: the PIN was
// verified moments ago on this very dialog.
func (f *Flow) ProceedWithRegenerate(ctx context.Context, pin string) (State, error) {
	f.mu.Lock()
	if f.pending == nil {
		f.mu.Unlock()
		return StateHidden, ErrNoPendingConnection
	}
	if !f.regenInFlight.CompareAndSwap(false, true) {
		state := f.state
		f.mu.Unlock()
		return state, ErrRegenerateInFlight
	}
	actor, conn := f.actor, f.pending
	f.lastErr = nil
	f.mu.Unlock()

	rotated, err := f.rotator.Rotate(ctx, actor, conn.TenantID, conn.ID, pin)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.regenInFlight.Store(false)

	if err != nil {
		f.lastErr = fmt.Errorf("regenerate: %w", err)
		f.state = StateConfirmRegenerate
		return f.state, f.lastErr
	}

	f.pending = rotated.Connection
	f.secret = rotated.Secret
	f.revealed[rotated.Connection.ID] = rotated.Secret
	f.state = StateRevealed
	return f.state, nil
}

// Dismiss closes the dialog. Cleanup consults regenInFlight, which was set
// synchronously when the regenerate was committed: if a rotation is still
// running, the pending connection is kept so its completion lands in a
// consistent flow instead of a cleared one. The session cache of already
// revealed secrets always survives a dismiss.
func (f *Flow) Dismiss() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.secret = ""
	f.lastErr = nil
	f.state = StateHidden
	if !f.regenInFlight.Load() {
		f.pending = nil
	}
	return f.state
}

// EndSession drops the per-session secret cache. The next reveal of any
// connection requires the PIN again.
func (f *Flow) EndSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revealed = make(map[uuid.UUID]string)
	f.secret = ""
	f.pending = nil
	f.state = StateHidden
}
