package reveal_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/connections"
	"github.com/mcpgrid/connectd/internal/reveal"
	"github.com/mcpgrid/connectd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	secrets     map[uuid.UUID]string // decryptable secrets by connection id
	pin         string
	rotateGate  chan struct{} // when non-nil, Rotate blocks until closed
	rotateCalls int
}

func (f *fakeBackend) Reveal(_ context.Context, _ *models.User, _, id uuid.UUID, pin string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pin != f.pin {
		return "", &connections.PinRejectedError{Remaining: 4}
	}
	secret, ok := f.secrets[id]
	if !ok {
		return "", connections.ErrNeedsRegeneration
	}
	return secret, nil
}

func (f *fakeBackend) Rotate(_ context.Context, _ *models.User, tenantID, id uuid.UUID, _ string) (*connections.Rotated, error) {
	f.mu.Lock()
	gate := f.rotateGate
	f.rotateCalls++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	secret := "mcpk_rotated_" + id.String()[:8]
	f.mu.Lock()
	f.secrets[id] = secret
	f.mu.Unlock()
	return &connections.Rotated{
		Connection: &models.Connection{ID: id, TenantID: tenantID, Name: "rotated"},
		Secret:     secret,
		OldPrefix:  "mcpk_oldpref",
	}, nil
}

func newFlowEnv(hasPin bool) (*reveal.Flow, *fakeBackend, *models.User) {
	backend := &fakeBackend{secrets: map[uuid.UUID]string{}, pin: "4821"}
	user := &models.User{ID: uuid.New(), Role: models.RoleMember}
	if hasPin {
		h := "bcrypt-hash"
		user.PinHash = &h
	}
	return reveal.NewFlow(backend, backend, user), backend, user
}

func testConn(tenantID uuid.UUID) *models.Connection {
	return &models.Connection{ID: uuid.New(), TenantID: tenantID, Name: "ci"}
}

func TestOpen_NoPinPromptsSetup(t *testing.T) {
	flow, _, _ := newFlowEnv(false)

	state := flow.Open(testConn(uuid.New()))
	assert.Equal(t, reveal.StatePromptSetPin, state)
}

func TestOpen_WithPinAsksForIt(t *testing.T) {
	flow, _, _ := newFlowEnv(true)

	state := flow.Open(testConn(uuid.New()))
	assert.Equal(t, reveal.StateVerifyPin, state)
}

func TestSubmitPin_RevealsSecret(t *testing.T) {
	flow, backend, _ := newFlowEnv(true)
	conn := testConn(uuid.New())
	backend.secrets[conn.ID] = "mcpk_sealed_secret"

	flow.Open(conn)
	state, err := flow.SubmitPin(context.Background(), "4821")
	require.NoError(t, err)
	assert.Equal(t, reveal.StateRevealed, state)
	assert.Equal(t, "mcpk_sealed_secret", flow.Secret())
}

func TestSubmitPin_WrongPinStaysOnPrompt(t *testing.T) {
	flow, backend, _ := newFlowEnv(true)
	conn := testConn(uuid.New())
	backend.secrets[conn.ID] = "mcpk_sealed_secret"

	flow.Open(conn)
	state, err := flow.SubmitPin(context.Background(), "0000")
	assert.Equal(t, reveal.StateVerifyPin, state)

	var rej *connections.PinRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 4, rej.Remaining)
}

func TestSubmitPin_PrePinKeyDetoursToRegenerate(t *testing.T) {
	flow, _, _ := newFlowEnv(true)

	flow.Open(testConn(uuid.New()))
	state, err := flow.SubmitPin(context.Background(), "4821")
	require.NoError(t, err)
	assert.Equal(t, reveal.StateConfirmRegenerate, state)
}

func TestProceedWithRegenerate_RevealsNewSecret(t *testing.T) {
	flow, _, _ := newFlowEnv(true)
	conn := testConn(uuid.New())

	flow.Open(conn)
	_, err := flow.SubmitPin(context.Background(), "4821")
	require.NoError(t, err)

	state, err := flow.ProceedWithRegenerate(context.Background(), "4821")
	require.NoError(t, err)
	assert.Equal(t, reveal.StateRevealed, state)
	assert.Contains(t, flow.Secret(), "mcpk_rotated_")
}

func TestReopen_UsesSessionCache(t *testing.T) {
	flow, backend, _ := newFlowEnv(true)
	conn := testConn(uuid.New())
	backend.secrets[conn.ID] = "mcpk_sealed_secret"

	flow.Open(conn)
	_, err := flow.SubmitPin(context.Background(), "4821")
	require.NoError(t, err)
	flow.Dismiss()

	// Second open within the session shows the secret without a PIN.
	state := flow.Open(conn)
	assert.Equal(t, reveal.StateRevealed, state)
	assert.Equal(t, "mcpk_sealed_secret", flow.Secret())
}

func TestEndSession_ClearsSecretCache(t *testing.T) {
	flow, backend, _ := newFlowEnv(true)
	conn := testConn(uuid.New())
	backend.secrets[conn.ID] = "mcpk_sealed_secret"

	flow.Open(conn)
	_, err := flow.SubmitPin(context.Background(), "4821")
	require.NoError(t, err)

	flow.EndSession()

	state := flow.Open(conn)
	assert.Equal(t, reveal.StateVerifyPin, state)
	assert.Empty(t, flow.Secret())
}

func TestDismiss_WithoutRegenerateClearsPending(t *testing.T) {
	flow, _, _ := newFlowEnv(true)

	flow.Open(testConn(uuid.New()))
	state := flow.Dismiss()
	assert.Equal(t, reveal.StateHidden, state)

	// Nothing pending anymore: PIN submission has no target.
	_, err := flow.SubmitPin(context.Background(), "4821")
	assert.ErrorIs(t, err, reveal.ErrNoPendingConnection)
}

func TestDismiss_DuringRegeneratePreservesContext(t *testing.T) {
	flow, backend, _ := newFlowEnv(true)
	conn := testConn(uuid.New())
	backend.rotateGate = make(chan struct{})

	flow.Open(conn)
	_, err := flow.SubmitPin(context.Background(), "4821")
	require.NoError(t, err)
	require.Equal(t, reveal.StateConfirmRegenerate, flow.State())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, gerr := flow.ProceedWithRegenerate(context.Background(), "4821")
		assert.NoError(t, gerr)
	}()

	// Wait for the rotation to be in flight, then dismiss the dialog.
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.rotateCalls == 1
	}, time.Second, 5*time.Millisecond)

	flow.Dismiss()

	// The in-flight rotation still lands: its result is not lost.
	close(backend.rotateGate)
	<-done

	assert.Equal(t, reveal.StateRevealed, flow.State())
	assert.Contains(t, flow.Secret(), "mcpk_rotated_")
}

func TestProceedWithRegenerate_SingleFlight(t *testing.T) {
	flow, backend, _ := newFlowEnv(true)
	conn := testConn(uuid.New())
	backend.rotateGate = make(chan struct{})

	flow.Open(conn)
	_, err := flow.SubmitPin(context.Background(), "4821")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = flow.ProceedWithRegenerate(context.Background(), "4821")
	}()

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.rotateCalls == 1
	}, time.Second, 5*time.Millisecond)

	_, err = flow.ProceedWithRegenerate(context.Background(), "4821")
	assert.ErrorIs(t, err, reveal.ErrRegenerateInFlight)

	close(backend.rotateGate)
	<-done

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.rotateCalls)
}
