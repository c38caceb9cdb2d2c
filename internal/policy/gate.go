package policy

import (
	"context"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
	"github.com/clinaxis/emr-access/pkg/monitoring"
)

// Decision reasons reported by the gate.
const (
	ReasonGranted           = "granted"
	ReasonNotGranted        = "not_granted"
	ReasonUnknownRole       = "unknown_role"
	ReasonUnknownModule     = "unknown_module"
	ReasonUnknownPermission = "unknown_permission"
	ReasonResolverError     = "resolver_error"
)

// AuthorizationGate is the single permission-checking entry point for
// business code. It is a thin lookup into the resolver's effective matrix
// and never fails open: unknown vocabulary and resolver errors both resolve
// to deny.
type AuthorizationGate struct {
	resolver access.Resolver
	logger   *logger.Logger
}

// NewAuthorizationGate creates a new authorization gate.
func NewAuthorizationGate(resolver access.Resolver, log *logger.Logger) *AuthorizationGate {
	return &AuthorizationGate{
		resolver: resolver,
		logger:   log,
	}
}

// Can reports whether the role may perform the permission within the module
// for the tenant.
func (g *AuthorizationGate) Can(ctx context.Context, tenantID string, role access.Role, module access.Module, permission access.Permission) bool {
	return g.Check(ctx, &access.CheckRequest{
		TenantID:   tenantID,
		Role:       role,
		Module:     module,
		Permission: permission,
	}).Allowed
}

// Check is Can with the decision reason, for decision endpoints and
// diagnostics.
func (g *AuthorizationGate) Check(ctx context.Context, req *access.CheckRequest) *access.CheckResponse {
	resp := g.decide(ctx, req)

	monitoring.RecordAccessDecision(string(req.Role), string(req.Module), resp.Allowed, resp.Reason)
	g.logger.AccessDecision(req.TenantID, string(req.Role), string(req.Module), string(req.Permission), resp.Allowed, resp.Reason)

	return resp
}

func (g *AuthorizationGate) decide(ctx context.Context, req *access.CheckRequest) *access.CheckResponse {
	if !access.IsValidRole(req.Role) {
		return &access.CheckResponse{Allowed: false, Reason: ReasonUnknownRole}
	}

	if !access.IsValidModule(req.Module) {
		return &access.CheckResponse{Allowed: false, Reason: ReasonUnknownModule}
	}

	if !access.IsValidPermission(req.Module, req.Permission) {
		return &access.CheckResponse{Allowed: false, Reason: ReasonUnknownPermission}
	}

	matrix, err := g.resolver.Resolve(ctx, req.TenantID, req.Role)
	if err != nil {
		// Read-path failures degrade to deny rather than propagate an
		// error a forgetful caller might interpret as allow.
		g.logger.WithTenant(req.TenantID).WithError(err).WithFields(map[string]interface{}{
			"role":       string(req.Role),
			"module":     string(req.Module),
			"permission": string(req.Permission),
		}).Error("Failed to resolve effective matrix, denying access")
		return &access.CheckResponse{Allowed: false, Reason: ReasonResolverError}
	}

	set, ok := matrix[req.Module]
	if !ok || !set.Has(req.Permission) {
		return &access.CheckResponse{Allowed: false, Reason: ReasonNotGranted}
	}

	return &access.CheckResponse{Allowed: true, Reason: ReasonGranted}
}
