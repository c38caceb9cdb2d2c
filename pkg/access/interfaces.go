package access

import (
	"context"
	"time"
)

// BaselineRegistry is the platform-defined default permission matrix. It is
// immutable, versioned with the deployed code, total over the role set, and
// acts as both the fallback layer and the factory-reset target.
type BaselineRegistry interface {
	// Baseline returns the default matrix for the role. The returned matrix
	// is an independent copy the caller may mutate freely.
	Baseline(role Role) (RoleMatrix, error)
}

// OverrideStore is tenant-scoped persistence of explicit role/module
// permission replacements. One logical record exists per
// (tenant, role, module); put replaces it wholesale, last write wins.
type OverrideStore interface {
	// Get returns the override map for (tenant, role). Only modules with an
	// explicit override appear; absent modules mean "use baseline".
	Get(ctx context.Context, tenantID string, role Role) (OverrideSet, error)

	// Put upserts the full replacement permission set for one
	// (tenant, role, module), attributable to the acting administrator. An
	// empty set is an explicit full revocation and is preserved as such.
	Put(ctx context.Context, tenantID string, role Role, module Module, permissions PermissionSet, updatedBy string) error

	// Delete removes the override so the module falls back to baseline.
	// Deleting an absent override is not an error.
	Delete(ctx context.Context, tenantID string, role Role, module Module) error
}

// Resolver computes the effective permission matrix for a (tenant, role):
// baseline with each overridden module replaced wholesale. It is idempotent
// and side-effect-free, safe for concurrent use on every authorization check.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string, role Role) (RoleMatrix, error)

	// Invalidate drops any cached matrix for (tenant, role). It must be
	// called synchronously after every successful override put/delete so a
	// stale, more permissive answer is never served after a revocation.
	Invalidate(tenantID string, role Role)
}

// Gate is the single permission-checking entry point business logic may
// call. It never fails open: unknown roles, modules or permissions and
// resolver errors all resolve to deny.
type Gate interface {
	Can(ctx context.Context, tenantID string, role Role, module Module, permission Permission) bool

	// Check is Can with a reason, for decision endpoints and diagnostics.
	Check(ctx context.Context, req *CheckRequest) *CheckResponse
}

// AuditTrail records and queries permission changes. Permission changes are
// security-sensitive and must stay operator-visible.
type AuditTrail interface {
	RecordChange(ctx context.Context, change *PolicyChange) error
	Changes(ctx context.Context, tenantID string, role Role, since time.Time, limit int) ([]*PolicyChange, error)
}
