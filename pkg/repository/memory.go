package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinaxis/emr-access/pkg/access"
)

// MemoryOverrideStore is an in-memory OverrideStore for tests and local
// development. It honors the same contract as the PostgreSQL store:
// whole-module replacement, last write wins, strict tenant scoping.
type MemoryOverrideStore struct {
	mu      sync.RWMutex
	entries map[string]map[access.Module]*access.OverrideEntry
}

// NewMemoryOverrideStore creates an empty in-memory override store.
func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{
		entries: make(map[string]map[access.Module]*access.OverrideEntry),
	}
}

func overrideKey(tenantID string, role access.Role) string {
	return fmt.Sprintf("%s|%s", tenantID, role)
}

// Get returns the override map for (tenant, role).
func (s *MemoryOverrideStore) Get(ctx context.Context, tenantID string, role access.Role) (access.OverrideSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overrides := make(access.OverrideSet)
	for module, entry := range s.entries[overrideKey(tenantID, role)] {
		overrides[module] = entry.Permissions.Clone()
	}
	return overrides, nil
}

// Put upserts the full replacement permission set for one
// (tenant, role, module).
func (s *MemoryOverrideStore) Put(ctx context.Context, tenantID string, role access.Role, module access.Module, permissions access.PermissionSet, updatedBy string) error {
	if err := validateOverrideKey(tenantID, role, module); err != nil {
		return err
	}

	for permission := range permissions {
		if !access.IsValidPermission(module, permission) {
			return access.NewAccessError(
				access.ErrorTypeUnknownPermission,
				access.ErrorCodeUnknownPermission,
				fmt.Sprintf("permission %q is not in the catalog for module %q", permission, module),
			).WithContext(tenantID, role, module)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := overrideKey(tenantID, role)
	if s.entries[key] == nil {
		s.entries[key] = make(map[access.Module]*access.OverrideEntry)
	}
	s.entries[key][module] = &access.OverrideEntry{
		TenantID:    tenantID,
		Role:        role,
		Module:      module,
		Permissions: permissions.Clone(),
		UpdatedAt:   time.Now().UTC(),
		UpdatedBy:   updatedBy,
	}
	return nil
}

// Delete removes the override so the module falls back to baseline.
func (s *MemoryOverrideStore) Delete(ctx context.Context, tenantID string, role access.Role, module access.Module) error {
	if err := validateOverrideKey(tenantID, role, module); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries[overrideKey(tenantID, role)], module)
	return nil
}

// Entry returns the stored entry for one (tenant, role, module), or nil if
// no override exists. Used by tests to inspect audit attribution.
func (s *MemoryOverrideStore) Entry(tenantID string, role access.Role, module access.Module) *access.OverrideEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[overrideKey(tenantID, role)][module]
	if !ok {
		return nil
	}
	clone := *entry
	clone.Permissions = entry.Permissions.Clone()
	return &clone
}

// MemoryAuditTrail is an in-memory AuditTrail for tests and local
// development.
type MemoryAuditTrail struct {
	mu      sync.RWMutex
	changes []*access.PolicyChange
}

// NewMemoryAuditTrail creates an empty in-memory audit trail.
func NewMemoryAuditTrail() *MemoryAuditTrail {
	return &MemoryAuditTrail{}
}

// RecordChange appends one permission change entry.
func (t *MemoryAuditTrail) RecordChange(ctx context.Context, change *access.PolicyChange) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	clone := *change
	if clone.ID == "" {
		clone.ID = uuid.New().String()
	}
	if clone.ChangedAt.IsZero() {
		clone.ChangedAt = time.Now().UTC()
	}
	clone.OldPermissions = change.OldPermissions.Clone()
	clone.NewPermissions = change.NewPermissions.Clone()
	t.changes = append(t.changes, &clone)
	return nil
}

// Changes returns the change history for (tenant, role), newest first.
func (t *MemoryAuditTrail) Changes(ctx context.Context, tenantID string, role access.Role, since time.Time, limit int) ([]*access.PolicyChange, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*access.PolicyChange
	for _, change := range t.changes {
		if change.TenantID == tenantID && change.Role == role && !change.ChangedAt.Before(since) {
			result = append(result, change)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ChangedAt.After(result[j].ChangedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
