package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// RegistryKey caches a tenant's connection registry view.
func RegistryKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("registry:%s", tenantID)
}

// PinAttemptsKey counts failed PIN verifications for lockout.
func PinAttemptsKey(userID uuid.UUID) string {
	return fmt.Sprintf("pin:attempts:%s", userID)
}

// RateLimitKey counts requests per key prefix for rate limiting.
func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
