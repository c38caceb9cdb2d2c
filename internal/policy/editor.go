package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
	"github.com/clinaxis/emr-access/pkg/monitoring"
)

// EditorSession is the staging workflow a tenant administrator uses to
// customize one role's permission matrix. It moves through
// Idle → Loaded → Editing → Saving → Saved | Failed. Staged values are kept
// across a failed save so the administrator can retry without re-entering
// choices.
type EditorSession struct {
	mu sync.Mutex

	tenantID string
	actor    string
	role     access.Role
	state    access.SessionState

	// staged holds one boolean per (module, permission) pair drawn from the
	// full module catalogs, so every verb can be both granted and revoked
	// regardless of the current effective state.
	staged map[access.Module]map[access.Permission]bool
	dirty  map[access.Module]bool

	// pendingReset marks modules whose override must be deleted on the next
	// save. Modules drop out as their deletes persist, so a retry after a
	// partial failure only re-issues what actually failed.
	pendingReset map[access.Module]bool

	registry access.BaselineRegistry
	store    access.OverrideStore
	resolver access.Resolver
	audit    access.AuditTrail
	logger   *logger.Logger
}

// NewEditorSession creates an idle session for one administrator acting
// within one tenant.
func NewEditorSession(tenantID, actor string, registry access.BaselineRegistry, store access.OverrideStore, resolver access.Resolver, audit access.AuditTrail, log *logger.Logger) *EditorSession {
	return &EditorSession{
		tenantID: tenantID,
		actor:    actor,
		state:    access.SessionIdle,
		registry: registry,
		store:    store,
		resolver: resolver,
		audit:    audit,
		logger:   log,
	}
}

// State returns the current session state.
func (s *EditorSession) State() access.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the role the session is editing.
func (s *EditorSession) Role() access.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Load selects a role and seeds the staging copy from the tenant's current
// effective matrix. super_admin is rejected without touching storage.
func (s *EditorSession) Load(ctx context.Context, role access.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !access.IsValidRole(role) {
		return access.ErrUnknownRole.WithContext(s.tenantID, role, "")
	}
	if !access.IsEditableRole(role) {
		return access.ErrRoleNotEditable.WithContext(s.tenantID, role, "")
	}

	matrix, err := s.resolver.Resolve(ctx, s.tenantID, role)
	if err != nil {
		return err
	}

	s.role = role
	s.seedStaged(matrix)
	s.dirty = make(map[access.Module]bool)
	s.pendingReset = make(map[access.Module]bool)
	s.state = access.SessionLoaded
	return nil
}

// Toggle flips the staged boolean for one (module, permission) pair.
// Nothing is persisted until Save.
func (s *EditorSession) Toggle(module access.Module, permission access.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editableLocked(); err != nil {
		return err
	}
	if !access.IsValidModule(module) {
		return access.ErrUnknownModule.WithContext(s.tenantID, s.role, module)
	}
	if !access.IsValidPermission(module, permission) {
		return access.ErrUnknownPermission.WithContext(s.tenantID, s.role, module)
	}

	s.staged[module][permission] = !s.staged[module][permission]
	s.dirty[module] = true
	s.state = access.SessionEditing
	return nil
}

// Set stages an explicit grant or revocation for one (module, permission)
// pair. Used by the batch save API where the client sends target sets
// rather than individual toggles.
func (s *EditorSession) Set(module access.Module, permission access.Permission, granted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editableLocked(); err != nil {
		return err
	}
	if !access.IsValidModule(module) {
		return access.ErrUnknownModule.WithContext(s.tenantID, s.role, module)
	}
	if !access.IsValidPermission(module, permission) {
		return access.ErrUnknownPermission.WithContext(s.tenantID, s.role, module)
	}

	if s.staged[module][permission] == granted {
		return nil
	}
	s.staged[module][permission] = granted
	s.dirty[module] = true
	s.state = access.SessionEditing
	return nil
}

// StagedMatrix returns the staged booleans as permission sets, one entry
// per platform module.
func (s *EditorSession) StagedMatrix() access.RoleMatrix {
	s.mu.Lock()
	defer s.mu.Unlock()

	matrix := make(access.RoleMatrix, len(s.staged))
	for module, grants := range s.staged {
		set := make(access.PermissionSet)
		for permission, granted := range grants {
			if granted {
				set[permission] = true
			}
		}
		matrix[module] = set
	}
	return matrix
}

// ResetToDefault re-seeds the staging copy purely from the baseline and
// marks every module for an explicit override delete on the next save. This
// is an explicit revert, not merely abandoning the session.
func (s *EditorSession) ResetToDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editableLocked(); err != nil {
		return err
	}

	baseline, err := s.registry.Baseline(s.role)
	if err != nil {
		return err
	}

	s.seedStaged(baseline)
	s.dirty = make(map[access.Module]bool)
	s.pendingReset = make(map[access.Module]bool, len(access.AllModules))
	for _, module := range access.AllModules {
		s.pendingReset[module] = true
	}
	s.state = access.SessionEditing
	return nil
}

// Discard drops all staged changes and re-seeds from the current effective
// matrix, returning the session to Loaded.
func (s *EditorSession) Discard(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == access.SessionIdle || s.state == access.SessionSaving {
		return access.ErrInvalidSession.WithContext(s.tenantID, s.role, "")
	}

	matrix, err := s.resolver.Resolve(ctx, s.tenantID, s.role)
	if err != nil {
		return err
	}

	s.seedStaged(matrix)
	s.dirty = make(map[access.Module]bool)
	s.pendingReset = make(map[access.Module]bool)
	s.state = access.SessionLoaded
	return nil
}

// moduleWrite is one pending persistence operation of a save.
type moduleWrite struct {
	module    access.Module
	operation string // "put" or "delete"
	target    access.PermissionSet
	narrowing bool
}

// Save groups the staged booleans by module and persists each touched
// module as an independent write. There is no cross-module transaction:
// partial failure is possible and is reported per module. Writes that
// remove currently effective permissions are issued before widening ones,
// so a partial failure can strand an un-applied grant but never hide a
// failed revocation behind applied grants. Staged values for failed modules
// are retained for retry.
func (s *EditorSession) Save(ctx context.Context) (*access.SaveReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != access.SessionLoaded && s.state != access.SessionEditing && s.state != access.SessionFailed {
		return nil, access.ErrInvalidSession.WithContext(s.tenantID, s.role, "")
	}

	report := &access.SaveReport{
		TenantID: s.tenantID,
		Role:     s.role,
		SavedAt:  time.Now().UTC(),
	}

	if len(s.dirty) == 0 && len(s.pendingReset) == 0 {
		s.state = access.SessionSaved
		return report, nil
	}

	s.state = access.SessionSaving

	current, err := s.resolver.Resolve(ctx, s.tenantID, s.role)
	if err != nil {
		s.state = access.SessionFailed
		return nil, err
	}

	writes := s.planWrites(current)

	failed := 0
	for _, write := range writes {
		result := access.ModuleSaveResult{
			Module:    write.module,
			Operation: write.operation,
			Succeeded: true,
		}

		oldSet := current[write.module]

		var writeErr error
		if write.operation == "delete" {
			writeErr = s.store.Delete(ctx, s.tenantID, s.role, write.module)
		} else {
			writeErr = s.store.Put(ctx, s.tenantID, s.role, write.module, write.target, s.actor)
		}

		monitoring.RecordOverrideWrite(write.operation, writeErr == nil)

		if writeErr != nil {
			failed++
			result.Succeeded = false
			result.Error = writeErr.Error()
			s.logger.PermissionChange(s.tenantID, string(s.role), string(write.module), s.actor, false)
			report.Results = append(report.Results, result)
			continue
		}

		// Invalidate synchronously with each successful write so the gate
		// reflects the new state before the next check.
		s.resolver.Invalidate(s.tenantID, s.role)
		delete(s.dirty, write.module)
		delete(s.pendingReset, write.module)
		s.logger.PermissionChange(s.tenantID, string(s.role), string(write.module), s.actor, true)
		s.recordChange(ctx, write, oldSet)
		report.Results = append(report.Results, result)
	}

	if failed > 0 {
		s.state = access.SessionFailed
		return report, access.NewAccessError(
			access.ErrorTypePartialSaveFailure,
			access.ErrorCodePartialSaveFailure,
			fmt.Sprintf("%d of %d module writes failed", failed, len(writes)),
		).WithContext(s.tenantID, s.role, "")
	}

	s.state = access.SessionSaved
	return report, nil
}

// planWrites turns the staged booleans into an ordered list of per-module
// writes. A module the administrator re-touched after a reset gets a put
// with its staged set; a module still pending reset gets an override
// delete; otherwise only dirty modules are written.
func (s *EditorSession) planWrites(current access.RoleMatrix) []moduleWrite {
	var writes []moduleWrite

	for module := range s.dirty {
		writes = append(writes, s.putWrite(module, current))
	}

	for module := range s.pendingReset {
		if s.dirty[module] {
			continue
		}
		writes = append(writes, moduleWrite{
			module:    module,
			operation: "delete",
			narrowing: removesAny(current[module], s.stagedSet(module)),
		})
	}

	// Narrowing writes first; module name breaks ties for determinism.
	sort.SliceStable(writes, func(i, j int) bool {
		if writes[i].narrowing != writes[j].narrowing {
			return writes[i].narrowing
		}
		return writes[i].module < writes[j].module
	})
	return writes
}

func (s *EditorSession) putWrite(module access.Module, current access.RoleMatrix) moduleWrite {
	target := s.stagedSet(module)
	return moduleWrite{
		module:    module,
		operation: "put",
		target:    target,
		narrowing: removesAny(current[module], target),
	}
}

// stagedSet collects the granted verbs staged for one module.
func (s *EditorSession) stagedSet(module access.Module) access.PermissionSet {
	set := make(access.PermissionSet)
	for permission, granted := range s.staged[module] {
		if granted {
			set[permission] = true
		}
	}
	return set
}

// removesAny reports whether the target set drops at least one currently
// effective verb.
func removesAny(current, target access.PermissionSet) bool {
	for permission := range current {
		if !target.Has(permission) {
			return true
		}
	}
	return false
}

// recordChange writes the audit entry for one persisted module write.
// Audit failures are logged, never allowed to fail the save: the override
// is already persisted and the operator has been told so.
func (s *EditorSession) recordChange(ctx context.Context, write moduleWrite, oldSet access.PermissionSet) {
	if s.audit == nil {
		return
	}

	change := &access.PolicyChange{
		TenantID:       s.tenantID,
		Role:           s.role,
		Module:         write.module,
		ChangeType:     access.ChangeTypeOverride,
		OldPermissions: oldSet.Clone(),
		ChangedBy:      s.actor,
	}
	if write.operation == "delete" {
		change.ChangeType = access.ChangeTypeReset
	} else {
		change.NewPermissions = write.target.Clone()
	}

	if err := s.audit.RecordChange(ctx, change); err != nil {
		s.logger.WithTenant(s.tenantID).WithError(err).
			WithField("module", string(write.module)).
			Warn("Failed to record permission change audit entry")
	}
}

// seedStaged rebuilds the staged booleans over the full module catalogs,
// granting exactly what the given matrix grants.
func (s *EditorSession) seedStaged(matrix access.RoleMatrix) {
	s.staged = make(map[access.Module]map[access.Permission]bool, len(access.ModuleCatalog))
	for module, catalog := range access.ModuleCatalog {
		grants := make(map[access.Permission]bool, len(catalog))
		for _, permission := range catalog {
			grants[permission] = matrix[module].Has(permission)
		}
		s.staged[module] = grants
	}
}

// editableLocked verifies the session holds a loaded role open for edits.
// Callers must hold s.mu.
func (s *EditorSession) editableLocked() error {
	switch s.state {
	case access.SessionLoaded, access.SessionEditing, access.SessionSaved, access.SessionFailed:
		return nil
	default:
		return access.ErrInvalidSession.WithContext(s.tenantID, s.role, "")
	}
}
