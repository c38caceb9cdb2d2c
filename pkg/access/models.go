package access

import (
	"sort"
	"time"
)

// PermissionSet is the set of verbs granted within one module.
type PermissionSet map[Permission]bool

// NewPermissionSet builds a set from a list of verbs.
func NewPermissionSet(permissions ...Permission) PermissionSet {
	set := make(PermissionSet, len(permissions))
	for _, p := range permissions {
		set[p] = true
	}
	return set
}

// Has reports whether the verb is present in the set.
func (s PermissionSet) Has(permission Permission) bool {
	return s[permission]
}

// List returns the verbs in the set in stable sorted order.
func (s PermissionSet) List() []Permission {
	list := make([]Permission, 0, len(s))
	for p := range s {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// Clone returns an independent copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	clone := make(PermissionSet, len(s))
	for p := range s {
		clone[p] = true
	}
	return clone
}

// Equal reports whether two sets contain exactly the same verbs.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other[p] {
			return false
		}
	}
	return true
}

// RoleMatrix is the effective permission view for one role: for every module
// known for that role, the verbs the role may perform. It is a derived,
// non-persisted value; authorization checks and the admin UI consult the same
// matrix.
type RoleMatrix map[Module]PermissionSet

// Clone returns an independent deep copy of the matrix.
func (m RoleMatrix) Clone() RoleMatrix {
	clone := make(RoleMatrix, len(m))
	for module, set := range m {
		clone[module] = set.Clone()
	}
	return clone
}

// Modules returns the module keys in stable sorted order.
func (m RoleMatrix) Modules() []Module {
	modules := make([]Module, 0, len(m))
	for module := range m {
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i] < modules[j] })
	return modules
}

// OverrideEntry is one persisted tenant customization: the full replacement
// permission set for a single (tenant, role, module). An empty Permissions
// set is an explicit full revocation, which is distinct from the entry being
// absent (baseline applies).
type OverrideEntry struct {
	TenantID    string        `json:"tenant_id"`
	Role        Role          `json:"role"`
	Module      Module        `json:"module"`
	Permissions PermissionSet `json:"permissions"`
	UpdatedAt   time.Time     `json:"updated_at"`
	UpdatedBy   string        `json:"updated_by"`
}

// OverrideSet is the override map for one (tenant, role): only modules with
// an explicit override appear; absent modules mean "use baseline".
type OverrideSet map[Module]PermissionSet

// Principal is the authenticated caller as provided by the auth layer. The
// engine trusts it as given; it does not verify identity.
type Principal struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
}

// ModuleSaveResult is the persistence outcome for one module of a
// multi-module save. A save issues one write per touched module, so partial
// failure is possible and is reported per module, never as a single
// pass/fail.
type ModuleSaveResult struct {
	Module    Module `json:"module"`
	Operation string `json:"operation"` // "put" or "delete"
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// SaveReport summarizes a multi-module save.
type SaveReport struct {
	TenantID string             `json:"tenant_id"`
	Role     Role               `json:"role"`
	Results  []ModuleSaveResult `json:"results"`
	SavedAt  time.Time          `json:"saved_at"`
}

// AllSucceeded reports whether every module write persisted.
func (r *SaveReport) AllSucceeded() bool {
	for _, result := range r.Results {
		if !result.Succeeded {
			return false
		}
	}
	return true
}

// FailedModules returns the modules whose writes did not persist.
func (r *SaveReport) FailedModules() []Module {
	var failed []Module
	for _, result := range r.Results {
		if !result.Succeeded {
			failed = append(failed, result.Module)
		}
	}
	return failed
}

// PolicyChange is one audited permission change: who replaced which module's
// permission set, with what, and when.
type PolicyChange struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenant_id"`
	Role           Role          `json:"role"`
	Module         Module        `json:"module"`
	ChangeType     string        `json:"change_type"`
	OldPermissions PermissionSet `json:"old_permissions"`
	NewPermissions PermissionSet `json:"new_permissions,omitempty"`
	ChangedBy      string        `json:"changed_by"`
	ChangedAt      time.Time     `json:"changed_at"`
}

// CheckRequest is a decision request from business code or another service.
type CheckRequest struct {
	TenantID   string     `json:"tenant_id"`
	Role       Role       `json:"role"`
	Module     Module     `json:"module"`
	Permission Permission `json:"permission"`
}

// CheckResponse is the gate's answer to a CheckRequest.
type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
