package policy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
)

type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalClaims are the JWT claims issued by the auth layer. The engine
// trusts them as given; identity verification happened upstream.
type PrincipalClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware extracts the authenticated principal from the bearer token
// and places it in the request context. Requests without a valid token are
// rejected before reaching any handler.
type AuthMiddleware struct {
	jwtSecret []byte
	logger    *logger.Logger
}

// NewAuthMiddleware creates the principal extraction middleware.
func NewAuthMiddleware(secret string, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(secret),
		logger:    log,
	}
}

// Handler wraps the next handler with principal extraction.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := m.validateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			m.logger.Security("invalid_token", "", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateToken parses and validates the bearer token.
func (m *AuthMiddleware) validateToken(tokenString string) (*access.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PrincipalClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, fmt.Errorf("token expired")
	}

	if claims.TenantID == "" || claims.Role == "" {
		return nil, fmt.Errorf("token missing tenant or role claim")
	}

	return &access.Principal{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Role:     access.Role(claims.Role),
	}, nil
}

// PrincipalFromContext returns the authenticated principal placed in the
// context by AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (*access.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*access.Principal)
	return principal, ok
}

// ContextWithPrincipal returns a context carrying the principal. Used by
// tests and internal callers.
func ContextWithPrincipal(ctx context.Context, principal *access.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// RequirePermission gates a route on the principal holding a permission,
// via the AuthorizationGate rather than any role-name comparison.
func RequirePermission(gate access.Gate, module access.Module, permission access.Permission, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "no authenticated principal")
				return
			}

			if !gate.Can(r.Context(), principal.TenantID, principal.Role, module, permission) {
				log.Security("route_denied", principal.UserID, map[string]interface{}{
					"tenant_id":  principal.TenantID,
					"role":       string(principal.Role),
					"module":     string(module),
					"permission": string(permission),
					"path":       r.URL.Path,
				})
				writeJSONError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
