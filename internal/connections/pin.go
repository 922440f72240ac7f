package connections

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/cache"
	"github.com/mcpgrid/connectd/internal/secrets"
	"github.com/mcpgrid/connectd/internal/store"
)

var (
	// ErrPinNotSet is returned when an operation needs a PIN the user never set.
	ErrPinNotSet = errors.New("no pin set")
	// ErrPinAlreadySet is returned by SetPin when a PIN already exists.
	ErrPinAlreadySet = errors.New("pin already set")
	// ErrPinLocked is returned after too many failed verification attempts.
	ErrPinLocked = errors.New("pin verification locked")
)

// PinRejectedError reports a failed PIN verification and how many attempts
// remain before lockout.
type PinRejectedError struct {
	Remaining int
}

func (e *PinRejectedError) Error() string {
	return fmt.Sprintf("pin rejected, %d attempts remaining", e.Remaining)
}

// VerifyResult is the outcome of a PIN verification.
type VerifyResult struct {
	Valid             bool `json:"valid"`
	RemainingAttempts int  `json:"remaining_attempts"`
	Locked            bool `json:"is_locked"`
}

// PinService manages reveal PINs: set-once and lockout-aware verification.
// Failed attempts are counted in redis so the lockout survives restarts and
// is shared across instances.
type PinService struct {
	store       store.Store
	cache       cache.Cache
	maxAttempts int
	lockoutFor  time.Duration
}

// NewPinService creates a PinService with the given lockout policy.
func NewPinService(st store.Store, c cache.Cache, maxAttempts int, lockoutFor time.Duration) *PinService {
	return &PinService{store: st, cache: c, maxAttempts: maxAttempts, lockoutFor: lockoutFor}
}

// SetPin stores the bcrypt hash of a new PIN. Changing an existing PIN is
// not supported: secrets already encrypted under the old PIN would become
// unreadable silently.
func (p *PinService) SetPin(ctx context.Context, userID uuid.UUID, pin string) error {
	if len(pin) < 4 {
		return fmt.Errorf("pin must be at least 4 digits")
	}

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.HasPin() {
		return ErrPinAlreadySet
	}

	hash, err := secrets.Hash(pin)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	return p.store.SetUserPin(ctx, userID, hash)
}

// Verify checks a PIN against the user's stored hash, counting failures
// toward lockout. A successful verification clears the failure counter.
func (p *PinService) Verify(ctx context.Context, userID uuid.UUID, pin string) (*VerifyResult, error) {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.HasPin() {
		return nil, ErrPinNotSet
	}

	locked, failures, err := p.lockState(ctx, userID)
	if err == nil && locked {
		return &VerifyResult{Valid: false, RemainingAttempts: 0, Locked: true}, nil
	}
	// On a cache read error we fall through and verify anyway; locking out
	// users because redis hiccuped would be worse than one extra attempt.

	if secrets.Verify(*user.PinHash, pin) {
		_ = p.cache.Delete(ctx, cache.PinAttemptsKey(userID))
		return &VerifyResult{Valid: true, RemainingAttempts: p.maxAttempts, Locked: false}, nil
	}

	failures, err = p.cache.IncrWithExpiry(ctx, cache.PinAttemptsKey(userID), p.lockoutFor)
	if err != nil {
		failures = int64(p.maxAttempts) // fail closed on write errors
	}

	remaining := p.maxAttempts - int(failures)
	if remaining < 0 {
		remaining = 0
	}
	return &VerifyResult{
		Valid:             false,
		RemainingAttempts: remaining,
		Locked:            remaining == 0,
	}, nil
}

func (p *PinService) lockState(ctx context.Context, userID uuid.UUID) (bool, int64, error) {
	raw, found, err := p.cache.Get(ctx, cache.PinAttemptsKey(userID))
	if err != nil || !found {
		return false, 0, err
	}
	n, convErr := strconv.ParseInt(string(raw), 10, 64)
	if convErr != nil {
		return false, 0, nil
	}
	return n >= int64(p.maxAttempts), n, nil
}
