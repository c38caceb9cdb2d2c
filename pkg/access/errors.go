package access

import (
	"errors"
	"fmt"
)

// AccessErrorType classifies permission engine errors.
type AccessErrorType string

const (
	ErrorTypeUnknownRole        AccessErrorType = "unknown_role"
	ErrorTypeUnknownModule      AccessErrorType = "unknown_module"
	ErrorTypeUnknownPermission  AccessErrorType = "unknown_permission"
	ErrorTypeRoleNotEditable    AccessErrorType = "role_not_editable"
	ErrorTypeStorageUnavailable AccessErrorType = "storage_unavailable"
	ErrorTypePartialSaveFailure AccessErrorType = "partial_save_failure"
	ErrorTypeInvalidSession     AccessErrorType = "invalid_session"
	ErrorTypeSystemError        AccessErrorType = "system_error"
)

// AccessError is a permission engine error with type, code and the
// (tenant, role, module) context it occurred in.
type AccessError struct {
	Type     AccessErrorType `json:"type"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	TenantID string          `json:"tenant_id,omitempty"`
	Role     Role            `json:"role,omitempty"`
	Module   Module          `json:"module,omitempty"`
	Cause    error           `json:"-"`
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AccessError) Unwrap() error {
	return e.Cause
}

// Is matches errors by type and code so sentinel comparisons work across
// wrapped copies carrying request context.
func (e *AccessError) Is(target error) bool {
	other, ok := target.(*AccessError)
	if !ok {
		return false
	}
	return e.Type == other.Type && e.Code == other.Code
}

// NewAccessError creates a new permission engine error.
func NewAccessError(errorType AccessErrorType, code, message string) *AccessError {
	return &AccessError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewAccessErrorWithCause creates a new permission engine error wrapping an
// underlying cause.
func NewAccessErrorWithCause(errorType AccessErrorType, code, message string, cause error) *AccessError {
	return &AccessError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithContext returns a copy of the error annotated with the tenant, role
// and module the failure relates to.
func (e *AccessError) WithContext(tenantID string, role Role, module Module) *AccessError {
	clone := *e
	clone.TenantID = tenantID
	clone.Role = role
	clone.Module = module
	return &clone
}

// Predefined permission engine errors.
var (
	ErrUnknownRole = NewAccessError(
		ErrorTypeUnknownRole,
		ErrorCodeUnknownRole,
		"role is not part of the platform vocabulary",
	)

	ErrUnknownModule = NewAccessError(
		ErrorTypeUnknownModule,
		ErrorCodeUnknownModule,
		"module is not part of the platform vocabulary",
	)

	ErrUnknownPermission = NewAccessError(
		ErrorTypeUnknownPermission,
		ErrorCodeUnknownPermission,
		"permission is not in the module's catalog",
	)

	ErrRoleNotEditable = NewAccessError(
		ErrorTypeRoleNotEditable,
		ErrorCodeRoleNotEditable,
		"role is not subject to tenant customization",
	)

	ErrStorageUnavailable = NewAccessError(
		ErrorTypeStorageUnavailable,
		ErrorCodeStorageUnavailable,
		"override storage is unavailable",
	)

	ErrPartialSaveFailure = NewAccessError(
		ErrorTypePartialSaveFailure,
		ErrorCodePartialSaveFailure,
		"a subset of the multi-module save failed to persist",
	)

	ErrInvalidSession = NewAccessError(
		ErrorTypeInvalidSession,
		ErrorCodeInvalidSession,
		"editor session is not in a valid state for this operation",
	)
)

// IsAccessError checks if an error is a permission engine error.
func IsAccessError(err error) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr)
}

// GetAccessError extracts a permission engine error from a generic error.
func GetAccessError(err error) (*AccessError, bool) {
	var accessErr *AccessError
	ok := errors.As(err, &accessErr)
	return accessErr, ok
}

// IsTransient reports whether the error indicates a storage failure the
// caller may retry. Callers of put/delete must surface these to the operator
// and must not assume the write took effect.
func IsTransient(err error) bool {
	accessErr, ok := GetAccessError(err)
	return ok && accessErr.Type == ErrorTypeStorageUnavailable
}
