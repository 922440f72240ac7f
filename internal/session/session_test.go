package session_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/session"
	"github.com/mcpgrid/connectd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession() *session.Session {
	user := &models.User{ID: uuid.New(), Role: models.RoleMember, Email: "u@example.com"}
	return session.New(user, uuid.NewString())
}

func TestNew_StartsAuthenticated(t *testing.T) {
	s := newSession()
	assert.Equal(t, session.PhaseAuthenticated, s.Phase())
	assert.True(t, s.Active())
	assert.NotNil(t, s.User())
	assert.Nil(t, s.EndedAt())
}

func TestSignOut_HappyPath(t *testing.T) {
	s := newSession()

	require.NoError(t, s.BeginSignOut())
	assert.Equal(t, session.PhaseSigningOut, s.Phase())
	assert.False(t, s.Active())
	assert.Nil(t, s.User())

	s.FinishSignOut()
	assert.Equal(t, session.PhaseSignedOut, s.Phase())
	assert.NotNil(t, s.EndedAt())
}

func TestBeginSignOut_SecondCallRejected(t *testing.T) {
	s := newSession()
	require.NoError(t, s.BeginSignOut())

	err := s.BeginSignOut()
	assert.ErrorIs(t, err, session.ErrAlreadySigningOut)
}

func TestBeginSignOut_AfterSignedOut(t *testing.T) {
	s := newSession()
	require.NoError(t, s.BeginSignOut())
	s.FinishSignOut()

	err := s.BeginSignOut()
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestOnEnd_HooksRunOnce(t *testing.T) {
	s := newSession()
	calls := 0
	s.OnEnd(func() { calls++ })

	require.NoError(t, s.BeginSignOut())
	s.FinishSignOut()
	s.FinishSignOut() // duplicate completion is a no-op

	assert.Equal(t, 1, calls)
}

func TestOnEnd_AfterSignedOutRunsImmediately(t *testing.T) {
	s := newSession()
	require.NoError(t, s.BeginSignOut())
	s.FinishSignOut()

	ran := false
	s.OnEnd(func() { ran = true })
	assert.True(t, ran)
}

func TestFinishSignOut_WithoutBeginStillEnds(t *testing.T) {
	// A forced termination (server-side revocation) skips signing_out.
	s := newSession()
	s.FinishSignOut()
	assert.Equal(t, session.PhaseSignedOut, s.Phase())
	assert.False(t, s.Active())
}
