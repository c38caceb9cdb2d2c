package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/repository"
)

type handlerFixture struct {
	router   *mux.Router
	store    *recordingStore
	resolver *CachingResolver
	gate     *AuthorizationGate
	audit    *repository.MemoryAuditTrail
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	registry := NewBaselineRegistry()
	store := newRecordingStore(repository.NewMemoryOverrideStore())
	resolver := NewResolver(registry, store, testLogger(), true)
	gate := NewAuthorizationGate(resolver, testLogger())
	audit := repository.NewMemoryAuditTrail()

	router := mux.NewRouter()
	handlers := NewHandlers(registry, store, resolver, gate, audit, testLogger())
	handlers.RegisterRoutes(router)

	return &handlerFixture{
		router:   router,
		store:    store,
		resolver: resolver,
		gate:     gate,
		audit:    audit,
	}
}

func (f *handlerFixture) do(t *testing.T, principal *access.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if principal != nil {
		req = req.WithContext(ContextWithPrincipal(context.Background(), principal))
	}

	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	return recorder
}

func adminPrincipal() *access.Principal {
	return &access.Principal{UserID: "admin-1", TenantID: "tenant-1", Role: access.RoleTenantAdmin}
}

func TestListEditableRoles(t *testing.T) {
	f := newHandlerFixture(t)

	recorder := f.do(t, adminPrincipal(), "GET", "/admin/permissions/roles", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Roles []access.Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.ElementsMatch(t, access.EditableRoles, body.Roles)
	assert.NotContains(t, body.Roles, access.RoleSuperAdmin)
}

func TestAdminRoutesRequireSettingsManage(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("physician is denied", func(t *testing.T) {
		physician := &access.Principal{UserID: "doc-1", TenantID: "tenant-1", Role: access.RolePhysician}
		recorder := f.do(t, physician, "GET", "/admin/permissions/roles", nil)
		assert.Equal(t, http.StatusForbidden, recorder.Code)
	})

	t.Run("missing principal is rejected", func(t *testing.T) {
		recorder := f.do(t, nil, "GET", "/admin/permissions/roles", nil)
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})

	t.Run("access to the editor follows the matrix, not the role name", func(t *testing.T) {
		ctx := context.Background()

		// Grant a director settings.manage via override and the editor opens
		// up without any code change.
		err := f.store.OverrideStore.Put(ctx, "tenant-1", access.RoleDirector, access.ModuleSettings,
			access.NewPermissionSet(access.PermissionView, access.PermissionManage), "admin-1")
		require.NoError(t, err)
		f.resolver.Invalidate("tenant-1", access.RoleDirector)

		director := &access.Principal{UserID: "dir-1", TenantID: "tenant-1", Role: access.RoleDirector}
		recorder := f.do(t, director, "GET", "/admin/permissions/roles", nil)
		assert.Equal(t, http.StatusOK, recorder.Code)
	})
}

func TestGetRoleMatrix(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("returns effective matrix with catalog", func(t *testing.T) {
		recorder := f.do(t, adminPrincipal(), "GET", "/admin/permissions/physician", nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		var body struct {
			Role      access.Role                           `json:"role"`
			TenantID  string                                `json:"tenant_id"`
			Effective map[access.Module][]access.Permission `json:"effective"`
			Catalog   map[access.Module][]access.Permission `json:"catalog"`
		}
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
		assert.Equal(t, access.RolePhysician, body.Role)
		assert.Equal(t, "tenant-1", body.TenantID)
		assert.Contains(t, body.Effective[access.ModulePrescriptions], access.PermissionCreate)
		assert.Len(t, body.Catalog, len(access.AllModules))
	})

	t.Run("super_admin is not readable through the editor", func(t *testing.T) {
		recorder := f.do(t, adminPrincipal(), "GET", "/admin/permissions/super_admin", nil)
		assert.Equal(t, http.StatusForbidden, recorder.Code)
	})
}

func TestSaveRoleMatrix(t *testing.T) {
	t.Run("persists submitted module sets", func(t *testing.T) {
		f := newHandlerFixture(t)

		recorder := f.do(t, adminPrincipal(), "POST", "/admin/permissions/nurse", saveRequest{
			Modules: map[access.Module][]access.Permission{
				access.ModuleLabOrders: {access.PermissionView, access.PermissionCreate},
			},
		})
		require.Equal(t, http.StatusOK, recorder.Code)

		var report access.SaveReport
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
		assert.True(t, report.AllSucceeded())
		require.Len(t, report.Results, 1)
		assert.Equal(t, access.ModuleLabOrders, report.Results[0].Module)

		assert.True(t, f.gate.Can(context.Background(), "tenant-1", access.RoleNurse, access.ModuleLabOrders, access.PermissionCreate))
	})

	t.Run("rejects verbs outside the module catalog", func(t *testing.T) {
		f := newHandlerFixture(t)

		recorder := f.do(t, adminPrincipal(), "POST", "/admin/permissions/nurse", saveRequest{
			Modules: map[access.Module][]access.Permission{
				access.ModuleReports: {access.PermissionDispense},
			},
		})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Empty(t, f.store.writes)
	})

	t.Run("rejects super_admin", func(t *testing.T) {
		f := newHandlerFixture(t)

		recorder := f.do(t, adminPrincipal(), "POST", "/admin/permissions/super_admin", saveRequest{
			Modules: map[access.Module][]access.Permission{
				access.ModulePatients: {access.PermissionView},
			},
		})
		assert.Equal(t, http.StatusForbidden, recorder.Code)
		assert.Empty(t, f.store.writes)
	})

	t.Run("rejects empty body", func(t *testing.T) {
		f := newHandlerFixture(t)

		recorder := f.do(t, adminPrincipal(), "POST", "/admin/permissions/nurse", saveRequest{})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("reports partial failure as 207", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.store.failModules[access.ModuleBilling] = true

		recorder := f.do(t, adminPrincipal(), "POST", "/admin/permissions/nurse", saveRequest{
			Modules: map[access.Module][]access.Permission{
				access.ModuleLabOrders: {access.PermissionView, access.PermissionCreate},
				access.ModuleBilling:   {access.PermissionView},
			},
		})
		require.Equal(t, http.StatusMultiStatus, recorder.Code)

		var report access.SaveReport
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
		assert.False(t, report.AllSucceeded())
		assert.Equal(t, []access.Module{access.ModuleBilling}, report.FailedModules())

		// The module that persisted is live despite the partial failure.
		assert.True(t, f.gate.Can(context.Background(), "tenant-1", access.RoleNurse, access.ModuleLabOrders, access.PermissionCreate))
	})
}

func TestResetRoleMatrixEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	err := f.store.OverrideStore.Put(ctx, "tenant-1", access.RolePhysician, access.ModulePrescriptions,
		access.NewPermissionSet(access.PermissionView), "admin-1")
	require.NoError(t, err)
	f.resolver.Invalidate("tenant-1", access.RolePhysician)
	assert.False(t, f.gate.Can(ctx, "tenant-1", access.RolePhysician, access.ModulePrescriptions, access.PermissionCreate))

	recorder := f.do(t, adminPrincipal(), "POST", "/admin/permissions/physician/reset", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var report access.SaveReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	assert.True(t, report.AllSucceeded())

	assert.True(t, f.gate.Can(ctx, "tenant-1", access.RolePhysician, access.ModulePrescriptions, access.PermissionCreate))
}

func TestGetRoleAuditTrailEndpoint(t *testing.T) {
	f := newHandlerFixture(t)

	recorder := f.do(t, adminPrincipal(), "POST", "/admin/permissions/nurse", saveRequest{
		Modules: map[access.Module][]access.Permission{
			access.ModuleLabOrders: {access.PermissionView, access.PermissionCreate},
		},
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = f.do(t, adminPrincipal(), "GET", "/admin/permissions/nurse/audit", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Changes []*access.PolicyChange `json:"changes"`
		Count   int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, access.ModuleLabOrders, body.Changes[0].Module)
	assert.Equal(t, "admin-1", body.Changes[0].ChangedBy)
}

func TestCheckAccessEndpoint(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("allows a baseline grant", func(t *testing.T) {
		physician := &access.Principal{UserID: "doc-1", TenantID: "tenant-1", Role: access.RolePhysician}
		recorder := f.do(t, physician, "POST", "/access/check", checkRequest{
			Module:     access.ModulePrescriptions,
			Permission: access.PermissionCreate,
		})
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp access.CheckResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.True(t, resp.Allowed)
		assert.Equal(t, ReasonGranted, resp.Reason)
	})

	t.Run("denies with a reason", func(t *testing.T) {
		nurse := &access.Principal{UserID: "rn-1", TenantID: "tenant-1", Role: access.RoleNurse}
		recorder := f.do(t, nurse, "POST", "/access/check", checkRequest{
			Module:     access.ModulePrescriptions,
			Permission: access.PermissionCreate,
		})
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp access.CheckResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.False(t, resp.Allowed)
		assert.Equal(t, ReasonNotGranted, resp.Reason)
	})

	t.Run("tenant comes from the principal, never the body", func(t *testing.T) {
		ctx := context.Background()
		err := f.store.OverrideStore.Put(ctx, "tenant-2", access.RoleNurse, access.ModulePrescriptions,
			access.NewPermissionSet(access.PermissionView, access.PermissionCreate), "admin-2")
		require.NoError(t, err)
		f.resolver.Invalidate("tenant-2", access.RoleNurse)

		// A tenant-1 nurse cannot borrow tenant-2's wider override.
		nurse := &access.Principal{UserID: "rn-1", TenantID: "tenant-1", Role: access.RoleNurse}
		recorder := f.do(t, nurse, "POST", "/access/check", checkRequest{
			Module:     access.ModulePrescriptions,
			Permission: access.PermissionCreate,
		})
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp access.CheckResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.False(t, resp.Allowed)
	})

	t.Run("requires a principal", func(t *testing.T) {
		recorder := f.do(t, nil, "POST", "/access/check", checkRequest{
			Module:     access.ModulePatients,
			Permission: access.PermissionView,
		})
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})
}
