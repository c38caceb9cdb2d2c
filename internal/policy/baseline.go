package policy

import (
	"fmt"

	"github.com/clinaxis/emr-access/pkg/access"
)

// BaselineRegistry is the platform-defined default permission matrix. It is
// built once from the compiled-in table, versioned with the deployed code,
// and never mutated at runtime. Every read returns an independent copy so a
// caller can never alter the baseline shared across requests.
type BaselineRegistry struct {
	matrix map[access.Role]access.RoleMatrix
}

// NewBaselineRegistry creates the registry from the compiled-in table.
func NewBaselineRegistry() *BaselineRegistry {
	return &BaselineRegistry{matrix: buildBaselineMatrix()}
}

// Baseline returns the default matrix for the role. The registry is total
// over the role set: every defined role has an entry.
func (r *BaselineRegistry) Baseline(role access.Role) (access.RoleMatrix, error) {
	matrix, ok := r.matrix[role]
	if !ok {
		return nil, access.NewAccessError(
			access.ErrorTypeUnknownRole,
			access.ErrorCodeUnknownRole,
			fmt.Sprintf("no baseline defined for role %q", role),
		)
	}
	return matrix.Clone(), nil
}

// buildBaselineMatrix defines the default capability matrix per role.
func buildBaselineMatrix() map[access.Role]access.RoleMatrix {
	return map[access.Role]access.RoleMatrix{
		access.RolePhysician: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionUpdate, access.PermissionSearch,
				access.PermissionExport,
			),
			access.ModulePrescriptions: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionUpdate, access.PermissionCancel,
			),
			access.ModuleLabOrders: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionCancel,
			),
			access.ModuleAppointments: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionUpdate, access.PermissionCancel,
			),
			access.ModuleReports: access.NewPermissionSet(
				access.PermissionView,
			),
		},
		access.RoleNurse: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionUpdate,
				access.PermissionSearch,
			),
			access.ModulePrescriptions: access.NewPermissionSet(
				access.PermissionView,
			),
			access.ModuleLabOrders: access.NewPermissionSet(
				access.PermissionView,
			),
			access.ModuleAppointments: access.NewPermissionSet(
				access.PermissionView, access.PermissionUpdate,
				access.PermissionAssign,
			),
		},
		access.RolePharmacist: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionSearch,
			),
			access.ModulePrescriptions: access.NewPermissionSet(
				access.PermissionView, access.PermissionApprove,
				access.PermissionDispense,
			),
			access.ModuleReports: access.NewPermissionSet(
				access.PermissionView,
			),
		},
		access.RoleLabTechnician: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionSearch,
			),
			access.ModuleLabOrders: access.NewPermissionSet(
				access.PermissionView, access.PermissionUpdate,
				access.PermissionFinalize,
			),
		},
		access.RoleReceptionist: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionUpdate, access.PermissionSearch,
			),
			access.ModuleAppointments: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionUpdate, access.PermissionCancel,
				access.PermissionAssign,
			),
			access.ModuleBilling: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
			),
		},
		access.RoleBillingStaff: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionSearch,
			),
			access.ModuleBilling: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionUpdate, access.PermissionApprove,
				access.PermissionExport,
			),
			access.ModuleReports: access.NewPermissionSet(
				access.PermissionView, access.PermissionExport,
			),
		},
		access.RoleDirector: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionSearch,
				access.PermissionExport,
			),
			access.ModulePrescriptions: access.NewPermissionSet(
				access.PermissionView,
			),
			access.ModuleLabOrders: access.NewPermissionSet(
				access.PermissionView,
			),
			access.ModuleBilling: access.NewPermissionSet(
				access.PermissionView, access.PermissionApprove,
				access.PermissionExport,
			),
			access.ModuleAppointments: access.NewPermissionSet(
				access.PermissionView,
			),
			access.ModuleUsers: access.NewPermissionSet(
				access.PermissionView,
			),
			access.ModuleReports: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionExport,
			),
			access.ModuleSettings: access.NewPermissionSet(
				access.PermissionView,
			),
		},
		access.RoleTenantAdmin: {
			access.ModulePatients: access.NewPermissionSet(
				access.PermissionView, access.PermissionSearch,
			),
			access.ModuleBilling: access.NewPermissionSet(
				access.PermissionView, access.PermissionExport,
			),
			access.ModuleUsers: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionUpdate, access.PermissionDelete,
				access.PermissionManage,
			),
			access.ModuleReports: access.NewPermissionSet(
				access.PermissionView, access.PermissionCreate,
				access.PermissionExport,
			),
			access.ModuleSettings: access.NewPermissionSet(
				access.PermissionView, access.PermissionUpdate,
				access.PermissionManage,
			),
		},
		access.RoleSuperAdmin: fullCatalogMatrix(),
	}
}

// fullCatalogMatrix grants every catalog verb in every module. Used only for
// super_admin, which is platform-owned and never tenant-customized.
func fullCatalogMatrix() access.RoleMatrix {
	matrix := make(access.RoleMatrix, len(access.ModuleCatalog))
	for module, permissions := range access.ModuleCatalog {
		matrix[module] = access.NewPermissionSet(permissions...)
	}
	return matrix
}
