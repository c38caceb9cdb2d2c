package access

// Role identifies a platform-defined job function. The role set is fixed at
// build time; adding a role is a deployment change, not a runtime operation.
type Role string

const (
	RolePhysician     Role = "physician"
	RoleNurse         Role = "nurse"
	RolePharmacist    Role = "pharmacist"
	RoleLabTechnician Role = "lab_technician"
	RoleReceptionist  Role = "receptionist"
	RoleBillingStaff  Role = "billing_staff"
	RoleDirector      Role = "director"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleSuperAdmin    Role = "super_admin"
)

// Module identifies a functional area of the platform that permissions are
// scoped within.
type Module string

const (
	ModulePatients      Module = "patients"
	ModulePrescriptions Module = "prescriptions"
	ModuleLabOrders     Module = "lab_orders"
	ModuleBilling       Module = "billing"
	ModuleAppointments  Module = "appointments"
	ModuleUsers         Module = "users"
	ModuleReports       Module = "reports"
	ModuleSettings      Module = "settings"
)

// Permission is a verb granting a specific capability within a module. The
// meaning of a verb is module-specific; which verbs are legal per module is
// defined by ModuleCatalog.
type Permission string

const (
	PermissionView     Permission = "view"
	PermissionCreate   Permission = "create"
	PermissionUpdate   Permission = "update"
	PermissionDelete   Permission = "delete"
	PermissionSearch   Permission = "search"
	PermissionManage   Permission = "manage"
	PermissionAssign   Permission = "assign"
	PermissionApprove  Permission = "approve"
	PermissionFinalize Permission = "finalize"
	PermissionDispense Permission = "dispense"
	PermissionCancel   Permission = "cancel"
	PermissionExport   Permission = "export"
)

// AllRoles lists every platform role, including super_admin.
var AllRoles = []Role{
	RolePhysician,
	RoleNurse,
	RolePharmacist,
	RoleLabTechnician,
	RoleReceptionist,
	RoleBillingStaff,
	RoleDirector,
	RoleTenantAdmin,
	RoleSuperAdmin,
}

// EditableRoles lists the roles whose permission matrix a tenant
// administrator may customize. super_admin is platform-owned and is never
// subject to tenant overrides.
var EditableRoles = []Role{
	RolePhysician,
	RoleNurse,
	RolePharmacist,
	RoleLabTechnician,
	RoleReceptionist,
	RoleBillingStaff,
	RoleDirector,
	RoleTenantAdmin,
}

// AllModules lists every platform module.
var AllModules = []Module{
	ModulePatients,
	ModulePrescriptions,
	ModuleLabOrders,
	ModuleBilling,
	ModuleAppointments,
	ModuleUsers,
	ModuleReports,
	ModuleSettings,
}

// ModuleCatalog maps each module to the permission verbs that are legal
// within it. Tenants may scope a role down to any subset of a module's
// catalog but can never grant a verb outside it.
var ModuleCatalog = map[Module][]Permission{
	ModulePatients: {
		PermissionView, PermissionCreate, PermissionUpdate,
		PermissionDelete, PermissionSearch, PermissionExport,
	},
	ModulePrescriptions: {
		PermissionView, PermissionCreate, PermissionUpdate,
		PermissionCancel, PermissionApprove, PermissionDispense,
	},
	ModuleLabOrders: {
		PermissionView, PermissionCreate, PermissionUpdate,
		PermissionCancel, PermissionFinalize,
	},
	ModuleBilling: {
		PermissionView, PermissionCreate, PermissionUpdate,
		PermissionDelete, PermissionApprove, PermissionExport,
	},
	ModuleAppointments: {
		PermissionView, PermissionCreate, PermissionUpdate,
		PermissionCancel, PermissionAssign,
	},
	ModuleUsers: {
		PermissionView, PermissionCreate, PermissionUpdate,
		PermissionDelete, PermissionManage,
	},
	ModuleReports: {
		PermissionView, PermissionCreate, PermissionExport,
	},
	ModuleSettings: {
		PermissionView, PermissionUpdate, PermissionManage,
	},
}

// IsValidRole reports whether the role is part of the platform vocabulary.
func IsValidRole(role Role) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsEditableRole reports whether a tenant administrator may customize the
// role's permission matrix.
func IsEditableRole(role Role) bool {
	for _, r := range EditableRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsValidModule reports whether the module is part of the platform vocabulary.
func IsValidModule(module Module) bool {
	_, ok := ModuleCatalog[module]
	return ok
}

// IsValidPermission reports whether the verb is legal within the module's
// catalog. Unknown modules and unknown verbs both report false.
func IsValidPermission(module Module, permission Permission) bool {
	for _, p := range ModuleCatalog[module] {
		if p == permission {
			return true
		}
	}
	return false
}

// Change types recorded in the permission audit trail.
const (
	ChangeTypeOverride = "override"
	ChangeTypeReset    = "reset"
)

// Editor session states.
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionLoaded  SessionState = "loaded"
	SessionEditing SessionState = "editing"
	SessionSaving  SessionState = "saving"
	SessionSaved   SessionState = "saved"
	SessionFailed  SessionState = "failed"
)

// Error codes for permission engine operations.
const (
	ErrorCodeUnknownRole        = "ACCESS_001"
	ErrorCodeUnknownModule      = "ACCESS_002"
	ErrorCodeUnknownPermission  = "ACCESS_003"
	ErrorCodeRoleNotEditable    = "ACCESS_004"
	ErrorCodeStorageUnavailable = "ACCESS_005"
	ErrorCodePartialSaveFailure = "ACCESS_006"
	ErrorCodeInvalidSession     = "ACCESS_007"
	ErrorCodeSystemError        = "ACCESS_008"
)
