package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the database schema for tenant permission overrides
// and the permission audit trail.
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating database schema...")

	tables := []string{
		createRoleOverridesTable,
		createPermissionAuditTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createRoleOverridesIndexes,
		createPermissionAuditIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Info("Database schema created successfully")
	return nil
}

// Table definitions

const createRoleOverridesTable = `
CREATE TABLE IF NOT EXISTS role_overrides (
	tenant_id   VARCHAR(64)  NOT NULL,
	role        VARCHAR(32)  NOT NULL,
	module      VARCHAR(32)  NOT NULL,
	permissions TEXT[]       NOT NULL,
	updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	updated_by  VARCHAR(64)  NOT NULL,
	PRIMARY KEY (tenant_id, role, module)
);`

const createPermissionAuditTable = `
CREATE TABLE IF NOT EXISTS permission_audit (
	id              UUID         PRIMARY KEY,
	tenant_id       VARCHAR(64)  NOT NULL,
	role            VARCHAR(32)  NOT NULL,
	module          VARCHAR(32)  NOT NULL,
	change_type     VARCHAR(16)  NOT NULL,
	old_permissions TEXT[],
	new_permissions TEXT[],
	changed_by      VARCHAR(64)  NOT NULL,
	changed_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
);`

// Index definitions

const createRoleOverridesIndexes = `
CREATE INDEX IF NOT EXISTS idx_role_overrides_tenant_role
	ON role_overrides (tenant_id, role);`

const createPermissionAuditIndexes = `
CREATE INDEX IF NOT EXISTS idx_permission_audit_tenant_role
	ON permission_audit (tenant_id, role, changed_at DESC);`
