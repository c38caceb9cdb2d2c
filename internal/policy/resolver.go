package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
	"github.com/clinaxis/emr-access/pkg/monitoring"
)

// CachingResolver computes the effective permission matrix for a
// (tenant, role): the baseline with each overridden module replaced
// wholesale, modules absent from the override set falling back to baseline.
// Results are cached per (tenant, role); invalidation is synchronous with
// every successful override write so a stale, more permissive matrix is
// never served after a revocation.
type CachingResolver struct {
	registry access.BaselineRegistry
	store    access.OverrideStore
	logger   *logger.Logger

	cacheEnabled bool
	mu           sync.RWMutex
	cache        map[string]access.RoleMatrix
}

// NewResolver creates a new caching resolver.
func NewResolver(registry access.BaselineRegistry, store access.OverrideStore, log *logger.Logger, cacheEnabled bool) *CachingResolver {
	return &CachingResolver{
		registry:     registry,
		store:        store,
		logger:       log,
		cacheEnabled: cacheEnabled,
		cache:        make(map[string]access.RoleMatrix),
	}
}

func cacheKey(tenantID string, role access.Role) string {
	return fmt.Sprintf("%s|%s", tenantID, role)
}

// Resolve returns the effective matrix for (tenant, role). It is idempotent
// and side-effect-free over the current storage state; calling it on every
// authorization check is safe.
func (r *CachingResolver) Resolve(ctx context.Context, tenantID string, role access.Role) (access.RoleMatrix, error) {
	if !access.IsValidRole(role) {
		return nil, access.ErrUnknownRole.WithContext(tenantID, role, "")
	}

	baseline, err := r.registry.Baseline(role)
	if err != nil {
		return nil, err
	}

	// super_admin is never subject to tenant overrides.
	if role == access.RoleSuperAdmin {
		return baseline, nil
	}

	key := cacheKey(tenantID, role)
	if r.cacheEnabled {
		r.mu.RLock()
		cached, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			monitoring.RecordCacheLookup("hit")
			return cached.Clone(), nil
		}
		monitoring.RecordCacheLookup("miss")
	}

	overrides, err := r.store.Get(ctx, tenantID, role)
	if err != nil {
		return nil, err
	}

	merged := mergeMatrix(baseline, overrides)

	if r.cacheEnabled {
		r.mu.Lock()
		r.cache[key] = merged
		r.mu.Unlock()
	}

	return merged.Clone(), nil
}

// Invalidate drops the cached matrix for (tenant, role). Callers must
// invoke it synchronously after every successful override put or delete.
func (r *CachingResolver) Invalidate(tenantID string, role access.Role) {
	if !r.cacheEnabled {
		return
	}

	r.mu.Lock()
	delete(r.cache, cacheKey(tenantID, role))
	r.mu.Unlock()

	r.logger.WithTenant(tenantID).WithField("role", string(role)).
		Debug("Resolver cache invalidated")
}

// mergeMatrix applies the override-replaces-whole-module, baseline-fills-gaps
// merge. The module set of the result is the union of baseline modules and
// override modules; an overridden module's set replaces the baseline set
// wholesale, including replacement with an empty set for an explicit full
// revocation.
func mergeMatrix(baseline access.RoleMatrix, overrides access.OverrideSet) access.RoleMatrix {
	merged := baseline
	for module, set := range overrides {
		merged[module] = set.Clone()
	}
	return merged
}
