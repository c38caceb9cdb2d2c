package policy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
)

// Handlers provides the HTTP surface of the permission engine: the
// administrative editor endpoints and the decision endpoint for services.
type Handlers struct {
	registry access.BaselineRegistry
	store    access.OverrideStore
	resolver access.Resolver
	gate     access.Gate
	audit    access.AuditTrail
	logger   *logger.Logger
}

// NewHandlers creates the permission engine HTTP handlers.
func NewHandlers(registry access.BaselineRegistry, store access.OverrideStore, resolver access.Resolver, gate access.Gate, audit access.AuditTrail, log *logger.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		store:    store,
		resolver: resolver,
		gate:     gate,
		audit:    audit,
		logger:   log,
	}
}

// RegisterRoutes registers all permission routes with the router. The admin
// editor surface is gated on the settings.manage permission, so who may
// administer permissions is itself part of the effective matrix, not a role
// string comparison.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	adminGuard := RequirePermission(h.gate, access.ModuleSettings, access.PermissionManage, h.logger)

	adminRouter := router.PathPrefix("/admin/permissions").Subrouter()
	adminRouter.Use(adminGuard)
	adminRouter.HandleFunc("/roles", h.ListEditableRoles).Methods("GET")
	adminRouter.HandleFunc("/{role}", h.GetRoleMatrix).Methods("GET")
	adminRouter.HandleFunc("/{role}", h.SaveRoleMatrix).Methods("POST")
	adminRouter.HandleFunc("/{role}/reset", h.ResetRoleMatrix).Methods("POST")
	adminRouter.HandleFunc("/{role}/audit", h.GetRoleAuditTrail).Methods("GET")

	router.HandleFunc("/access/check", h.CheckAccess).Methods("POST")
}

// ListEditableRoles returns the roles a tenant administrator may customize.
// super_admin is excluded from the editable set.
func (h *Handlers) ListEditableRoles(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"roles": access.EditableRoles,
	})
}

// matrixPayload is the wire form of an effective or staged matrix.
type matrixPayload map[access.Module][]access.Permission

func toPayload(matrix access.RoleMatrix) matrixPayload {
	payload := make(matrixPayload, len(matrix))
	for _, module := range matrix.Modules() {
		payload[module] = matrix[module].List()
	}
	return payload
}

// GetRoleMatrix returns the tenant's current effective matrix for one role
// together with the full per-module catalog, so the editor UI can render
// every possible permission as both grantable and revocable.
func (h *Handlers) GetRoleMatrix(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	role := access.Role(mux.Vars(r)["role"])

	if !access.IsEditableRole(role) {
		h.writeErrorResponse(w, http.StatusForbidden, "role is not editable", access.ErrRoleNotEditable)
		return
	}

	matrix, err := h.resolver.Resolve(r.Context(), principal.TenantID, role)
	if err != nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, "failed to resolve effective matrix", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"role":      role,
		"tenant_id": principal.TenantID,
		"effective": toPayload(matrix),
		"catalog":   access.ModuleCatalog,
	})
}

// saveRequest is the batch save body: the target permission set per module
// the administrator touched.
type saveRequest struct {
	Modules map[access.Module][]access.Permission `json:"modules"`
}

// SaveRoleMatrix stages the submitted module sets on an editor session and
// persists them. Each module is an independent write; the response reports
// per-module outcomes and uses 207 Multi-Status when a subset failed.
func (h *Handlers) SaveRoleMatrix(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	role := access.Role(mux.Vars(r)["role"])

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON payload", err)
		return
	}
	if len(req.Modules) == 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "no modules submitted", nil)
		return
	}

	session := NewEditorSession(principal.TenantID, principal.UserID, h.registry, h.store, h.resolver, h.audit, h.logger)
	if err := session.Load(r.Context(), role); err != nil {
		h.writeAccessError(w, err)
		return
	}

	for module, permissions := range req.Modules {
		target := access.NewPermissionSet(permissions...)
		if !access.IsValidModule(module) {
			h.writeAccessError(w, access.ErrUnknownModule.WithContext(principal.TenantID, role, module))
			return
		}
		for _, permission := range access.ModuleCatalog[module] {
			if err := session.Set(module, permission, target.Has(permission)); err != nil {
				h.writeAccessError(w, err)
				return
			}
		}
		for permission := range target {
			if !access.IsValidPermission(module, permission) {
				h.writeAccessError(w, access.ErrUnknownPermission.WithContext(principal.TenantID, role, module))
				return
			}
		}
	}

	report, err := session.Save(r.Context())
	if err != nil {
		if accessErr, ok := access.GetAccessError(err); ok && accessErr.Type == access.ErrorTypePartialSaveFailure {
			h.writeJSONResponse(w, http.StatusMultiStatus, report)
			return
		}
		h.writeAccessError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, report)
}

// ResetRoleMatrix reverts one role to the platform baseline by deleting
// every override for it. This is an explicit revert with per-module
// outcomes, not merely an abandoned session.
func (h *Handlers) ResetRoleMatrix(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	role := access.Role(mux.Vars(r)["role"])

	session := NewEditorSession(principal.TenantID, principal.UserID, h.registry, h.store, h.resolver, h.audit, h.logger)
	if err := session.Load(r.Context(), role); err != nil {
		h.writeAccessError(w, err)
		return
	}

	if err := session.ResetToDefault(); err != nil {
		h.writeAccessError(w, err)
		return
	}

	report, err := session.Save(r.Context())
	if err != nil {
		if accessErr, ok := access.GetAccessError(err); ok && accessErr.Type == access.ErrorTypePartialSaveFailure {
			h.writeJSONResponse(w, http.StatusMultiStatus, report)
			return
		}
		h.writeAccessError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, report)
}

// GetRoleAuditTrail returns the permission change history for one role
// within the caller's tenant.
func (h *Handlers) GetRoleAuditTrail(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	role := access.Role(mux.Vars(r)["role"])

	if !access.IsValidRole(role) {
		h.writeAccessError(w, access.ErrUnknownRole.WithContext(principal.TenantID, role, ""))
		return
	}

	since := time.Time{}
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid since parameter", err)
			return
		}
		since = parsed
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	changes, err := h.audit.Changes(r.Context(), principal.TenantID, role, since, limit)
	if err != nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, "failed to query audit trail", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"tenant_id": principal.TenantID,
		"role":      role,
		"changes":   changes,
		"count":     len(changes),
	})
}

// checkRequest is the decision endpoint body. The tenant is always taken
// from the authenticated principal, never from the body, so one tenant can
// never probe another's matrix.
type checkRequest struct {
	Role       access.Role       `json:"role"`
	Module     access.Module     `json:"module"`
	Permission access.Permission `json:"permission"`
}

// CheckAccess answers an allow/deny decision for business services.
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.writeErrorResponse(w, http.StatusUnauthorized, "no authenticated principal", nil)
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON payload", err)
		return
	}

	role := req.Role
	if role == "" {
		role = principal.Role
	}

	resp := h.gate.Check(r.Context(), &access.CheckRequest{
		TenantID:   principal.TenantID,
		Role:       role,
		Module:     req.Module,
		Permission: req.Permission,
	})

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// Helper methods

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		h.logger.WithError(err).Error(message)
	}

	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	}

	if accessErr, ok := access.GetAccessError(err); ok {
		response["error_type"] = accessErr.Type
		response["error_code"] = accessErr.Code
	}

	h.writeJSONResponse(w, statusCode, response)
}

// writeAccessError maps engine error types to HTTP status codes.
func (h *Handlers) writeAccessError(w http.ResponseWriter, err error) {
	accessErr, ok := access.GetAccessError(err)
	if !ok {
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal error", err)
		return
	}

	switch accessErr.Type {
	case access.ErrorTypeUnknownRole, access.ErrorTypeUnknownModule, access.ErrorTypeUnknownPermission:
		h.writeErrorResponse(w, http.StatusBadRequest, accessErr.Message, err)
	case access.ErrorTypeRoleNotEditable:
		h.writeErrorResponse(w, http.StatusForbidden, accessErr.Message, err)
	case access.ErrorTypeStorageUnavailable:
		h.writeErrorResponse(w, http.StatusServiceUnavailable, accessErr.Message, err)
	default:
		h.writeErrorResponse(w, http.StatusInternalServerError, accessErr.Message, err)
	}
}

// writeJSONError is the minimal error writer used by middleware before the
// handlers are reached.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
