package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MaxTenantIDLength bounds tenant ids, which end up in NATS subjects, cache
// keys and database rows.
const MaxTenantIDLength = 64

// ErrInvalidTenant is returned for tenant ids that cannot be used as a
// subject token.
var ErrInvalidTenant = errors.New("invalid tenant id")

// ValidateTenantID accepts 1 to 64 ASCII letters, digits, '-' and '_'.
func ValidateTenantID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenant)
	}
	if len(id) > MaxTenantIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTenant, MaxTenantIDLength)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidTenant, id, c)
		}
	}
	return nil
}

// IsReservedTenant reports whether id belongs to the internal namespace
// (a leading underscore), which clients may not address directly.
func IsReservedTenant(id string) bool {
	return strings.HasPrefix(id, "_")
}
