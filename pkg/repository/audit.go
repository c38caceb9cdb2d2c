package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
)

// AuditRepository is the PostgreSQL-backed permission change trail.
// Permission changes are security-sensitive, so every override put and
// delete is recorded with the old set, the new set and the acting
// administrator.
type AuditRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, log *logger.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: log,
	}
}

// RecordChange persists one permission change entry.
func (r *AuditRepository) RecordChange(ctx context.Context, change *access.PolicyChange) error {
	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO permission_audit (
			id, tenant_id, role, module, change_type,
			old_permissions, new_permissions, changed_by, changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		change.ID,
		change.TenantID,
		string(change.Role),
		string(change.Module),
		change.ChangeType,
		pq.Array(permissionStrings(change.OldPermissions)),
		pq.Array(permissionStrings(change.NewPermissions)),
		change.ChangedBy,
		change.ChangedAt,
	)
	if err != nil {
		r.logger.DatabaseOperation("insert", "permission_audit", time.Since(start).Milliseconds(), false)
		return access.NewAccessErrorWithCause(
			access.ErrorTypeStorageUnavailable,
			access.ErrorCodeStorageUnavailable,
			"failed to record permission change",
			err,
		).WithContext(change.TenantID, change.Role, change.Module)
	}

	r.logger.DatabaseOperation("insert", "permission_audit", time.Since(start).Milliseconds(), true)
	return nil
}

// Changes returns the change history for (tenant, role), newest first.
func (r *AuditRepository) Changes(ctx context.Context, tenantID string, role access.Role, since time.Time, limit int) ([]*access.PolicyChange, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, role, module, change_type,
		       old_permissions, new_permissions, changed_by, changed_at
		FROM permission_audit
		WHERE tenant_id = $1 AND role = $2 AND changed_at >= $3
		ORDER BY changed_at DESC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, tenantID, string(role), since, limit)
	if err != nil {
		return nil, access.NewAccessErrorWithCause(
			access.ErrorTypeStorageUnavailable,
			access.ErrorCodeStorageUnavailable,
			"failed to query permission changes",
			err,
		).WithContext(tenantID, role, "")
	}
	defer rows.Close()

	var changes []*access.PolicyChange
	for rows.Next() {
		var change access.PolicyChange
		var roleStr, moduleStr string
		var oldPerms, newPerms []string

		if err := rows.Scan(
			&change.ID,
			&change.TenantID,
			&roleStr,
			&moduleStr,
			&change.ChangeType,
			pq.Array(&oldPerms),
			pq.Array(&newPerms),
			&change.ChangedBy,
			&change.ChangedAt,
		); err != nil {
			return nil, access.NewAccessErrorWithCause(
				access.ErrorTypeStorageUnavailable,
				access.ErrorCodeStorageUnavailable,
				"failed to scan permission change row",
				err,
			).WithContext(tenantID, role, "")
		}

		change.Role = access.Role(roleStr)
		change.Module = access.Module(moduleStr)
		change.OldPermissions = permissionSet(oldPerms)
		change.NewPermissions = permissionSet(newPerms)
		changes = append(changes, &change)
	}

	if err := rows.Err(); err != nil {
		return nil, access.NewAccessErrorWithCause(
			access.ErrorTypeStorageUnavailable,
			access.ErrorCodeStorageUnavailable,
			"failed to iterate permission change rows",
			err,
		).WithContext(tenantID, role, "")
	}

	return changes, nil
}

func permissionStrings(set access.PermissionSet) []string {
	perms := make([]string, 0, len(set))
	for _, p := range set.List() {
		perms = append(perms, string(p))
	}
	return perms
}

func permissionSet(perms []string) access.PermissionSet {
	set := make(access.PermissionSet, len(perms))
	for _, p := range perms {
		set[access.Permission(p)] = true
	}
	return set
}
