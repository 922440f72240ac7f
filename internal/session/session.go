// Package session tracks a dashboard session's lifecycle through sign-out.
// The session object is the single authority on its own phase: UI code asks
// it, never a scattering of booleans, so "signing out" and "signed out" can
// never disagree.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/mcpgrid/connectd/pkg/models"
)

// Phase is the session's lifecycle stage. Transitions only move forward:
// authenticated → signing_out → signed_out.
type Phase string

const (
	PhaseAuthenticated Phase = "authenticated"
	PhaseSigningOut    Phase = "signing_out"
	PhaseSignedOut     Phase = "signed_out"
)

var (
	// ErrNotAuthenticated rejects work on a session that is ending or ended.
	ErrNotAuthenticated = errors.New("session is not authenticated")
	// ErrAlreadySigningOut rejects a second concurrent sign-out.
	ErrAlreadySigningOut = errors.New("sign-out already in progress")
)

// Session is one authenticated dashboard session.
type Session struct {
	mu        sync.Mutex
	phase     Phase
	user      *models.User
	tenantID  string
	startedAt time.Time
	endedAt   *time.Time

	// onEnd hooks run exactly once, when the session reaches signed_out.
	onEnd []func()
}

// New creates an authenticated session for the given user.
func New(user *models.User, tenantID string) *Session {
	return &Session{
		phase:     PhaseAuthenticated,
		user:      user,
		tenantID:  tenantID,
		startedAt: time.Now().UTC(),
	}
}

// Phase returns the current lifecycle stage.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// User returns the session's user while authenticated, nil afterwards so
// stale references cannot act on an ended session.
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAuthenticated {
		return nil
	}
	return s.user
}

// Active reports whether the session may still perform work. Signing-out
// sessions are no longer active: in-flight UI actions should stop.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseAuthenticated
}

// OnEnd registers a hook to run when the session ends, such as clearing the
// revealed-secret cache. Hooks registered after sign-out run immediately.
func (s *Session) OnEnd(fn func()) {
	s.mu.Lock()
	if s.phase == PhaseSignedOut {
		s.mu.Unlock()
		fn()
		return
	}
	s.onEnd = append(s.onEnd, fn)
	s.mu.Unlock()
}

// BeginSignOut moves the session to signing_out. Only an authenticated
// session may begin; a second call reports the sign-out already running.
func (s *Session) BeginSignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseAuthenticated:
		s.phase = PhaseSigningOut
		return nil
	case PhaseSigningOut:
		return ErrAlreadySigningOut
	default:
		return ErrNotAuthenticated
	}
}

// FinishSignOut completes the sign-out and runs the end hooks exactly once.
// Calling it on an already signed-out session is a no-op so a slow network
// confirmation arriving twice does not double-fire cleanup.
func (s *Session) FinishSignOut() {
	s.mu.Lock()
	if s.phase == PhaseSignedOut {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseSignedOut
	now := time.Now().UTC()
	s.endedAt = &now
	hooks := s.onEnd
	s.onEnd = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// EndedAt returns when the session reached signed_out, nil while it lives.
func (s *Session) EndedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}
