package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
)

// OverrideRepository is the PostgreSQL-backed OverrideStore. One row exists
// per (tenant, role, module); put replaces the row wholesale and concurrent
// writes to the same key are linearized by the database (last write wins).
type OverrideRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewOverrideRepository creates a new override repository
func NewOverrideRepository(db *sql.DB, log *logger.Logger) *OverrideRepository {
	return &OverrideRepository{
		db:     db,
		logger: log,
	}
}

// Get returns the override map for (tenant, role). Only modules with an
// explicit override row appear; absent modules signal "use baseline". An
// empty permissions array is an explicit full revocation and is returned as
// an empty, non-nil set.
func (r *OverrideRepository) Get(ctx context.Context, tenantID string, role access.Role) (access.OverrideSet, error) {
	query := `
		SELECT module, permissions
		FROM role_overrides
		WHERE tenant_id = $1 AND role = $2`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, tenantID, string(role))
	if err != nil {
		r.logger.DatabaseOperation("select", "role_overrides", time.Since(start).Milliseconds(), false)
		return nil, access.NewAccessErrorWithCause(
			access.ErrorTypeStorageUnavailable,
			access.ErrorCodeStorageUnavailable,
			"failed to query role overrides",
			err,
		).WithContext(tenantID, role, "")
	}
	defer rows.Close()

	overrides := make(access.OverrideSet)
	for rows.Next() {
		var module string
		var permissions []string
		if err := rows.Scan(&module, pq.Array(&permissions)); err != nil {
			return nil, access.NewAccessErrorWithCause(
				access.ErrorTypeStorageUnavailable,
				access.ErrorCodeStorageUnavailable,
				"failed to scan role override row",
				err,
			).WithContext(tenantID, role, access.Module(module))
		}

		set := make(access.PermissionSet, len(permissions))
		for _, p := range permissions {
			set[access.Permission(p)] = true
		}
		overrides[access.Module(module)] = set
	}

	if err := rows.Err(); err != nil {
		return nil, access.NewAccessErrorWithCause(
			access.ErrorTypeStorageUnavailable,
			access.ErrorCodeStorageUnavailable,
			"failed to iterate role override rows",
			err,
		).WithContext(tenantID, role, "")
	}

	r.logger.DatabaseOperation("select", "role_overrides", time.Since(start).Milliseconds(), true)
	return overrides, nil
}

// Put upserts the full replacement permission set for one
// (tenant, role, module). The permission set is validated against the
// module's catalog so a tenant can never grant a verb the platform does not
// define for that module.
func (r *OverrideRepository) Put(ctx context.Context, tenantID string, role access.Role, module access.Module, permissions access.PermissionSet, updatedBy string) error {
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

	query := `
		INSERT INTO role_overrides (tenant_id, role, module, permissions, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (tenant_id, role, module) DO UPDATE
		SET permissions = EXCLUDED.permissions,
		    updated_at  = NOW(),
		    updated_by  = EXCLUDED.updated_by`

	perms := make([]string, 0, len(permissions))
	for _, p := range permissions.List() {
		perms = append(perms, string(p))
	}

	start := time.Now()
	if _, err := r.db.ExecContext(ctx, query, tenantID, string(role), string(module), pq.Array(perms), updatedBy); err != nil {
		r.logger.DatabaseOperation("upsert", "role_overrides", time.Since(start).Milliseconds(), false)
		return access.NewAccessErrorWithCause(
			access.ErrorTypeStorageUnavailable,
			access.ErrorCodeStorageUnavailable,
			"failed to persist role override",
			err,
		).WithContext(tenantID, role, module)
	}

	r.logger.DatabaseOperation("upsert", "role_overrides", time.Since(start).Milliseconds(), true)
	return nil
}

// Delete removes the override so the module falls back to baseline.
// Deleting an absent override is not an error.
func (r *OverrideRepository) Delete(ctx context.Context, tenantID string, role access.Role, module access.Module) error {
	if err := validateOverrideKey(tenantID, role, module); err != nil {
		return err
	}

	query := `
		DELETE FROM role_overrides
		WHERE tenant_id = $1 AND role = $2 AND module = $3`

	start := time.Now()
	if _, err := r.db.ExecContext(ctx, query, tenantID, string(role), string(module)); err != nil {
		r.logger.DatabaseOperation("delete", "role_overrides", time.Since(start).Milliseconds(), false)
		return access.NewAccessErrorWithCause(
			access.ErrorTypeStorageUnavailable,
			access.ErrorCodeStorageUnavailable,
			"failed to delete role override",
			err,
		).WithContext(tenantID, role, module)
	}

	r.logger.DatabaseOperation("delete", "role_overrides", time.Since(start).Milliseconds(), true)
	return nil
}

// validateOverrideKey rejects writes for keys outside the platform
// vocabulary. super_admin is never subject to tenant overrides, so writes
// for it are refused at the storage boundary as well as in the editor.
func validateOverrideKey(tenantID string, role access.Role, module access.Module) error {
	if tenantID == "" {
		return access.NewAccessError(
			access.ErrorTypeSystemError,
			access.ErrorCodeSystemError,
			"tenant ID is required",
		)
	}

	if !access.IsValidRole(role) {
		return access.ErrUnknownRole.WithContext(tenantID, role, module)
	}

	if !access.IsEditableRole(role) {
		return access.ErrRoleNotEditable.WithContext(tenantID, role, module)
	}

	if !access.IsValidModule(module) {
		return access.ErrUnknownModule.WithContext(tenantID, role, module)
	}

	return nil
}
