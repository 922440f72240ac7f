// Package connections implements the connection (API key) lifecycle:
// creation gated by tier limits, PIN-gated secret reveal, identity-preserving
// rotation, metadata updates and revocation. The tenant-wide registry view is
// served through a read-through cache invalidated on every mutation.
package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/cache"
	"github.com/mcpgrid/connectd/internal/gateway"
	"github.com/mcpgrid/connectd/internal/secrets"
	"github.com/mcpgrid/connectd/internal/store"
	"github.com/mcpgrid/connectd/internal/tier"
	"github.com/mcpgrid/connectd/pkg/models"
)

var (
	ErrNameRequired      = errors.New("connection name is required")
	ErrInvalidAccessMode = errors.New("invalid mcp access mode")
	ErrNoMCPSelected     = errors.New("at least one MCP server must be selected")
	ErrUnknownMCP        = errors.New("allowed MCP ids reference unknown servers")
	ErrLimitReached      = errors.New("connection limit reached for tier")
	ErrNotPermitted      = errors.New("not permitted")

	// ErrNeedsRegeneration distinguishes a reveal attempt against a key that
	// predates PIN protection: there is no ciphertext to decrypt, so the only
	// way forward is rotation. This is a redirect, not a hard failure.
	ErrNeedsRegeneration = errors.New("key predates pin protection and can only be regenerated")
)

// expiringSoonWindow is how far ahead the registry flags upcoming expiries.
const expiringSoonWindow = 7 * 24 * time.Hour

// registryTTL bounds staleness of the cached registry view between
// mutation-triggered invalidations.
const registryTTL = 30 * time.Second

// Service implements the connection lifecycle on top of the store, the
// registry cache and the gateway notifier.
type Service struct {
	store store.Store
	cache cache.Cache
	gw    gateway.Notifier
	pins  *PinService
}

// NewService creates a connection lifecycle service.
func NewService(st store.Store, c cache.Cache, gw gateway.Notifier, pins *PinService) *Service {
	return &Service{store: st, cache: c, gw: gw, pins: pins}
}

// CreateParams are the inputs for minting a new connection.
type CreateParams struct {
	TenantID      uuid.UUID
	Actor         *models.User
	Name          string
	Scopes        []string
	AccessMode    models.AccessMode
	AllowedMCPIDs []uuid.UUID
	ExpiresAt     *time.Time
	Pin           string // optional; enables later reveal when it matches the actor's PIN
}

// Created is the one-time result of a creation: the secret is returned here
// and never again unless the actor's PIN allowed it to be stored encrypted.
type Created struct {
	Connection *models.Connection
	Secret     string
}

// Create validates, enforces the tier limit server-side and mints exactly one
// connection. The advisory client-side gate may have passed already; this
// check is the authoritative one.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Created, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, ErrNameRequired
	}
	mode, allowed, err := s.normalizeAccess(ctx, p.TenantID, p.AccessMode, p.AllowedMCPIDs)
	if err != nil {
		return nil, err
	}

	tenant, err := s.store.GetTenant(ctx, p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	count, err := s.store.CountActiveConnections(ctx, p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("count connections: %w", err)
	}
	if !tier.CanCreate(tenant.Tier, count) {
		return nil, ErrLimitReached
	}

	secret, prefix, err := secrets.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}

	secretEnc, salt, err := s.sealSecret(ctx, p.Actor, p.Pin, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conn := &models.Connection{
		ID:            uuid.New(),
		TenantID:      p.TenantID,
		Name:          strings.TrimSpace(p.Name),
		KeyHash:       hash,
		KeyPrefix:     prefix,
		SecretEnc:     secretEnc,
		PinSalt:       salt,
		Scopes:        p.Scopes,
		AccessMode:    mode,
		AllowedMCPIDs: allowed,
		ExpiresAt:     p.ExpiresAt,
		CreatedBy:     p.Actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}

	s.invalidateRegistry(ctx, p.TenantID)
	return &Created{Connection: conn, Secret: secret}, nil
}

// Get returns a single active connection.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Connection, error) {
	return s.store.GetConnection(ctx, id, tenantID)
}

// UpdateParams are the mutable connection fields. Rotation and revocation
// have their own entry points; the secret never changes here.
type UpdateParams struct {
	Name          *string
	AccessMode    *models.AccessMode
	AllowedMCPIDs []uuid.UUID
	ExpiresAt     *time.Time
	ClearExpiry   bool
}

// Update edits name, expiry or MCP access of an existing connection.
func (s *Service) Update(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, p UpdateParams) (*models.Connection, error) {
	conn, err := s.store.GetConnection(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !canTouch(actor, conn) {
		return nil, ErrNotPermitted
	}

	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, ErrNameRequired
	}

	upd := store.ConnectionUpdate{
		Name:        p.Name,
		ExpiresAt:   p.ExpiresAt,
		ClearExpiry: p.ClearExpiry,
	}
	if p.AccessMode != nil {
		mode, allowed, err := s.normalizeAccess(ctx, tenantID, *p.AccessMode, p.AllowedMCPIDs)
		if err != nil {
			return nil, err
		}
		upd.AccessMode = &mode
		upd.AllowedMCPIDs = allowed
	}

	updated, err := s.store.UpdateConnection(ctx, id, tenantID, upd)
	if err != nil {
		return nil, err
	}
	s.invalidateRegistry(ctx, tenantID)
	return updated, nil
}

// Rotated is the one-time result of a rotation.
type Rotated struct {
	Connection *models.Connection
	Secret     string
	OldPrefix  string
}

// Rotate issues a new secret for an existing connection identity. The id is
// preserved; only secret, hash and prefix change, and the previous secret is
// invalid the moment the rotation commits. Rotation always succeeds
// regardless of the key's prior PIN status: the caller's confirmation dialog
// is the gate.
func (s *Service) Rotate(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, pin string) (*Rotated, error) {
	conn, err := s.store.GetConnection(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !canTouch(actor, conn) {
		return nil, ErrNotPermitted
	}

	secret, prefix, err := secrets.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	secretEnc, salt, err := s.sealSecret(ctx, actor, pin, secret)
	if err != nil {
		return nil, err
	}

	updated, oldPrefix, err := s.store.RotateConnection(ctx, id, tenantID, store.ConnectionRotation{
		KeyHash:   hash,
		KeyPrefix: prefix,
		SecretEnc: secretEnc,
		PinSalt:   salt,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateRegistry(ctx, tenantID)
	s.notifyGateway(ctx, oldPrefix)
	return &Rotated{Connection: updated, Secret: secret, OldPrefix: oldPrefix}, nil
}

// Reveal decrypts and returns the stored secret after PIN verification.
// Pre-PIN keys (no stored ciphertext) yield ErrNeedsRegeneration so the
// caller can redirect into the rotation flow.
func (s *Service) Reveal(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, pin string) (string, error) {
	vr, err := s.pins.Verify(ctx, actor.ID, pin)
	if err != nil {
		return "", err
	}
	if vr.Locked && !vr.Valid {
		return "", ErrPinLocked
	}
	if !vr.Valid {
		return "", &PinRejectedError{Remaining: vr.RemainingAttempts}
	}

	conn, err := s.store.GetConnection(ctx, id, tenantID)
	if err != nil {
		return "", err
	}
	if !canTouch(actor, conn) {
		return "", ErrNotPermitted
	}
	if !conn.Revealable() {
		return "", ErrNeedsRegeneration
	}

	secret, err := secrets.DecryptWithPin(pin, conn.PinSalt, *conn.SecretEnc)
	if err != nil {
		// Verified PIN but undecryptable blob: the secret was sealed under a
		// different (since-changed) credential. Same remedy as pre-PIN keys.
		if errors.Is(err, secrets.ErrDecryptFailed) {
			return "", ErrNeedsRegeneration
		}
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return secret, nil
}

// Revoke soft-deletes a connection and flushes gateway credential caches.
func (s *Service) Revoke(ctx context.Context, actor *models.User, tenantID, id uuid.UUID) error {
	conn, err := s.store.GetConnection(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if !canTouch(actor, conn) {
		return ErrNotPermitted
	}

	if err := s.store.RevokeConnection(ctx, id, tenantID); err != nil {
		return err
	}
	s.invalidateRegistry(ctx, tenantID)
	s.notifyGateway(ctx, conn.KeyPrefix)
	return nil
}

// canTouch gates mutating operations: the creator always may; otherwise the
// role's capability decides.
func canTouch(actor *models.User, conn *models.Connection) bool {
	return actor.ID == conn.CreatedBy || actor.Role.CanManageConnections()
}

// normalizeAccess validates mode/ids coherence: selected requires at least
// one id and every id must exist in the tenant's catalog; duplicate ids are
// collapsed; all/none clear the selection so stale ids never linger.
func (s *Service) normalizeAccess(ctx context.Context, tenantID uuid.UUID, mode models.AccessMode, ids []uuid.UUID) (models.AccessMode, []uuid.UUID, error) {
	if !mode.Valid() {
		return "", nil, ErrInvalidAccessMode
	}
	if mode != models.AccessSelected {
		return mode, []uuid.UUID{}, nil
	}
	if len(ids) == 0 {
		return "", nil, ErrNoMCPSelected
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	uniq := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	count, err := s.store.CountMCPServersByIDs(ctx, tenantID, uniq)
	if err != nil {
		return "", nil, fmt.Errorf("validate mcp ids: %w", err)
	}
	if count != len(uniq) {
		return "", nil, ErrUnknownMCP
	}
	return mode, uniq, nil
}

// sealSecret encrypts the raw secret under the actor's PIN when one is
// supplied and correct. Without a PIN the secret is stored hash-only and the
// key becomes reveal-less (a "pre-PIN key"). A supplied-but-wrong PIN is
// rejected outright rather than silently producing a non-revealable key.
func (s *Service) sealSecret(ctx context.Context, actor *models.User, pin, secret string) (*string, []byte, error) {
	if pin == "" {
		return nil, nil, nil
	}
	user, err := s.store.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if !user.HasPin() {
		return nil, nil, ErrPinNotSet
	}
	if !secrets.Verify(*user.PinHash, pin) {
		return nil, nil, &PinRejectedError{Remaining: 0}
	}

	salt, err := secrets.NewSalt()
	if err != nil {
		return nil, nil, fmt.Errorf("new salt: %w", err)
	}
	enc, err := secrets.EncryptWithPin(pin, salt, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt secret: %w", err)
	}
	return &enc, salt, nil
}

func (s *Service) invalidateRegistry(ctx context.Context, tenantID uuid.UUID) {
	if err := s.cache.Delete(ctx, cache.RegistryKey(tenantID)); err != nil {
		slog.Warn("registry cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
}

func (s *Service) notifyGateway(ctx context.Context, prefix string) {
	if err := s.gw.InvalidatePrefix(ctx, prefix); err != nil {
		slog.Warn("gateway invalidation failed", "key_prefix", prefix, "error", err)
	}
}

// --- Registry ---

// RegistryEntry is a connection plus its derived expiration status.
type RegistryEntry struct {
	*models.Connection
	Expired      bool `json:"expired"`
	ExpiringSoon bool `json:"expiring_soon"`
}

// RegistryView is the tenant-wide connection list with usage-vs-limit
// metrics, as shown on the dashboard.
type RegistryView struct {
	Connections []RegistryEntry `json:"connections"`
	Count       int             `json:"count"`
	Limit       int             `json:"limit"` // -1 means unlimited
	Remaining   int             `json:"remaining"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Registry returns the cached registry view, rebuilding it from the store on
// miss (or when force is set, the dashboard's explicit refetch).
func (s *Service) Registry(ctx context.Context, tenantID uuid.UUID, force bool) (*RegistryView, error) {
	key := cache.RegistryKey(tenantID)

	if !force {
		if raw, found, err := s.cache.Get(ctx, key); err == nil && found {
			var view RegistryView
			if err := json.Unmarshal(raw, &view); err == nil {
				return &view, nil
			}
			// Corrupt entry: drop it and rebuild.
			_ = s.cache.Delete(ctx, key)
		}
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	conns, err := s.store.ListConnections(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	view := &RegistryView{
		Connections: make([]RegistryEntry, 0, len(conns)),
		Count:       len(conns),
		Limit:       tier.Limit(tenant.Tier),
		GeneratedAt: now,
	}
	for _, c := range conns {
		view.Connections = append(view.Connections, RegistryEntry{
			Connection:   c,
			Expired:      c.IsExpired(now),
			ExpiringSoon: c.IsExpiringSoon(now, expiringSoonWindow),
		})
	}
	if view.Limit == tier.Unlimited {
		view.Remaining = tier.Unlimited
	} else if view.Remaining = view.Limit - view.Count; view.Remaining < 0 {
		view.Remaining = 0
	}

	if raw, err := json.Marshal(view); err == nil {
		_ = s.cache.Set(ctx, key, raw, registryTTL)
	}
	return view, nil
}
