package wizard_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/connections"
	"github.com/mcpgrid/connectd/internal/wizard"
	"github.com/mcpgrid/connectd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreator struct {
	calls  int
	lastP  connections.CreateParams
	err    error
	secret string
}

func (f *fakeCreator) Create(_ context.Context, p connections.CreateParams) (*connections.Created, error) {
	f.calls++
	f.lastP = p
	if f.err != nil {
		return nil, f.err
	}
	return &connections.Created{
		Connection: &models.Connection{
			ID:         uuid.New(),
			TenantID:   p.TenantID,
			Name:       p.Name,
			KeyPrefix:  f.secret[:12],
			AccessMode: p.AccessMode,
		},
		Secret: f.secret,
	}, nil
}

type fakeClipboard struct {
	writes []string
	err    error
}

func (f *fakeClipboard) Write(text string) error {
	f.writes = append(f.writes, text)
	return f.err
}

func newWizardEnv() (*wizard.Wizard, *fakeCreator, *fakeClipboard) {
	creator := &fakeCreator{secret: "mcpk_0123456789abcdefghijklmnopqrstuvwxyzAB"}
	clip := &fakeClipboard{}
	actor := &models.User{ID: uuid.New(), Role: models.RoleMember}
	return wizard.New(creator, clip, actor, uuid.New()), creator, clip
}

func TestOpen_StartsOnDetails(t *testing.T) {
	w, _, _ := newWizardEnv()
	assert.Equal(t, wizard.StepClosed, w.Step())
	assert.Equal(t, wizard.StepDetails, w.Open())
}

func TestNext_RequiresName(t *testing.T) {
	w, creator, _ := newWizardEnv()
	w.Open()
	w.SetDetails("   ", nil, models.AccessAll, nil)

	step, err := w.Next(context.Background(), "")
	assert.ErrorIs(t, err, wizard.ErrNameRequired)
	assert.Equal(t, wizard.StepDetails, step)
	assert.Zero(t, creator.calls)
}

func TestNext_AllAccessSkipsServerStep(t *testing.T) {
	w, creator, _ := newWizardEnv()
	w.Open()
	w.SetDetails("CI pipeline", nil, models.AccessAll, []string{"mcp:invoke"})

	step, err := w.Next(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, wizard.StepSecret, step)
	assert.Equal(t, 1, creator.calls)
	assert.Equal(t, "CI pipeline", creator.lastP.Name)
}

func TestNext_SelectedAccessRequiresServers(t *testing.T) {
	w, creator, _ := newWizardEnv()
	w.Open()
	w.SetDetails("selective", nil, models.AccessSelected, nil)

	step, err := w.Next(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, wizard.StepServers, step)

	// Advancing with nothing selected is blocked.
	step, err = w.Next(context.Background(), "")
	assert.ErrorIs(t, err, wizard.ErrNoServers)
	assert.Equal(t, wizard.StepServers, step)
	assert.Zero(t, creator.calls)

	srv := uuid.New()
	w.ToggleServer(srv)
	step, err = w.Next(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, wizard.StepSecret, step)
	assert.Equal(t, []uuid.UUID{srv}, creator.lastP.AllowedMCPIDs)
}

func TestToggleServer_AddAndRemove(t *testing.T) {
	w, _, _ := newWizardEnv()
	w.Open()

	id := uuid.New()
	w.ToggleServer(id)
	assert.Equal(t, []uuid.UUID{id}, w.SelectedServers())
	w.ToggleServer(id)
	assert.Empty(t, w.SelectedServers())
}

func TestBack_KeepsFormState(t *testing.T) {
	w, _, _ := newWizardEnv()
	w.Open()
	w.SetDetails("selective", nil, models.AccessSelected, nil)
	_, err := w.Next(context.Background(), "")
	require.NoError(t, err)
	w.ToggleServer(uuid.New())

	assert.Equal(t, wizard.StepDetails, w.Back())

	// Selection survives the round trip.
	_, err = w.Next(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, w.SelectedServers(), 1)
}

func TestSecretStep_CopiesExactlyOnce(t *testing.T) {
	w, creator, clip := newWizardEnv()
	w.Open()
	w.SetDetails("CI pipeline", nil, models.AccessAll, nil)

	_, err := w.Next(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, clip.writes, 1)
	assert.Equal(t, creator.secret, clip.writes[0])
}

func TestSecretStep_MaskToggle(t *testing.T) {
	w, creator, _ := newWizardEnv()
	w.Open()
	w.SetDetails("CI pipeline", nil, models.AccessAll, nil)
	_, err := w.Next(context.Background(), "")
	require.NoError(t, err)

	// Masked by default: prefix visible, rest hidden.
	masked := w.Secret()
	assert.True(t, strings.HasPrefix(masked, creator.secret[:12]))
	assert.NotContains(t, masked, creator.secret[12:])

	assert.False(t, w.ToggleMask())
	assert.Equal(t, creator.secret, w.Secret())
}

func TestCopyAgain_IsExplicit(t *testing.T) {
	w, creator, clip := newWizardEnv()
	w.Open()
	w.SetDetails("CI pipeline", nil, models.AccessAll, nil)
	_, err := w.Next(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, w.CopyAgain())
	assert.Equal(t, []string{creator.secret, creator.secret}, clip.writes)
}

func TestSnippets_AvailableOnSecretStep(t *testing.T) {
	w, _, _ := newWizardEnv()
	w.Open()

	_, err := w.Snippets()
	assert.ErrorIs(t, err, wizard.ErrNotOnThisStep)

	w.SetDetails("CI pipeline", nil, models.AccessAll, nil)
	_, err = w.Next(context.Background(), "")
	require.NoError(t, err)

	out, err := w.Snippets()
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestCreateFailure_StaysOnStep(t *testing.T) {
	w, creator, clip := newWizardEnv()
	creator.err = connections.ErrLimitReached
	w.Open()
	w.SetDetails("over quota", nil, models.AccessAll, nil)

	step, err := w.Next(context.Background(), "")
	assert.ErrorIs(t, err, connections.ErrLimitReached)
	assert.Equal(t, wizard.StepDetails, step)
	assert.Empty(t, clip.writes)
}

func TestClipboardFailure_DoesNotFailCreation(t *testing.T) {
	w, _, clip := newWizardEnv()
	clip.err = errors.New("clipboard unavailable")
	w.Open()
	w.SetDetails("CI pipeline", nil, models.AccessAll, nil)

	step, err := w.Next(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, wizard.StepSecret, step)
	assert.NotEmpty(t, w.Secret())
}

func TestStartOver_ClearsEverything(t *testing.T) {
	w, _, _ := newWizardEnv()
	w.Open()
	w.SetDetails("CI pipeline", nil, models.AccessAll, nil)
	_, err := w.Next(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, wizard.StepDetails, w.StartOver())
	assert.Empty(t, w.Secret())
	assert.Nil(t, w.Connection())
	assert.Empty(t, w.SelectedServers())
}

func TestClose_IsNotAnUndo(t *testing.T) {
	w, creator, _ := newWizardEnv()
	w.Open()
	w.SetDetails("CI pipeline", nil, models.AccessAll, nil)
	_, err := w.Next(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, wizard.StepClosed, w.Close())
	assert.Equal(t, 1, creator.calls)
	assert.NotNil(t, w.Connection())
}
