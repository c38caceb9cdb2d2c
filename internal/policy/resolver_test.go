package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinaxis/emr-access/pkg/access"
	"github.com/clinaxis/emr-access/pkg/logger"
	"github.com/clinaxis/emr-access/pkg/repository"
)

func testLogger() *logger.Logger {
	return logger.New("error")
}

// countingStore wraps an OverrideStore and counts Get calls, so tests can
// observe caching behavior and whether a path touched storage at all.
type countingStore struct {
	access.OverrideStore
	gets int
}

func (s *countingStore) Get(ctx context.Context, tenantID string, role access.Role) (access.OverrideSet, error) {
	s.gets++
	return s.OverrideStore.Get(ctx, tenantID, role)
}

// brokenStore fails every operation with a storage error.
type brokenStore struct{}

func (s *brokenStore) Get(ctx context.Context, tenantID string, role access.Role) (access.OverrideSet, error) {
	return nil, access.ErrStorageUnavailable.WithContext(tenantID, role, "")
}

func (s *brokenStore) Put(ctx context.Context, tenantID string, role access.Role, module access.Module, permissions access.PermissionSet, updatedBy string) error {
	return access.ErrStorageUnavailable.WithContext(tenantID, role, module)
}

func (s *brokenStore) Delete(ctx context.Context, tenantID string, role access.Role, module access.Module) error {
	return access.ErrStorageUnavailable.WithContext(tenantID, role, module)
}

func TestResolverBaselineOnly(t *testing.T) {
	registry := NewBaselineRegistry()
	store := repository.NewMemoryOverrideStore()
	resolver := NewResolver(registry, store, testLogger(), true)

	matrix, err := resolver.Resolve(context.Background(), "tenant-1", access.RoleNurse)
	require.NoError(t, err)

	baseline, err := registry.Baseline(access.RoleNurse)
	require.NoError(t, err)

	assert.Equal(t, baseline, matrix)
	assert.True(t, matrix[access.ModuleLabOrders].Has(access.PermissionView))
	assert.False(t, matrix[access.ModuleLabOrders].Has(access.PermissionCreate))
}

func TestResolverOverrideReplacesModuleWholesale(t *testing.T) {
	registry := NewBaselineRegistry()
	store := repository.NewMemoryOverrideStore()
	resolver := NewResolver(registry, store, testLogger(), true)
	ctx := context.Background()

	// Baseline physician prescriptions: view, create, update, cancel. The
	// override grants view only; create must disappear, not merge.
	err := store.Put(ctx, "tenant-1", access.RolePhysician, access.ModulePrescriptions,
		access.NewPermissionSet(access.PermissionView), "admin-1")
	require.NoError(t, err)

	matrix, err := resolver.Resolve(ctx, "tenant-1", access.RolePhysician)
	require.NoError(t, err)

	assert.True(t, matrix[access.ModulePrescriptions].Has(access.PermissionView))
	assert.False(t, matrix[access.ModulePrescriptions].Has(access.PermissionCreate))
	assert.False(t, matrix[access.ModulePrescriptions].Has(access.PermissionUpdate))
	assert.False(t, matrix[access.ModulePrescriptions].Has(access.PermissionCancel))

	// Modules without an override fall back to baseline untouched.
	assert.True(t, matrix[access.ModulePatients].Has(access.PermissionCreate))
	assert.True(t, matrix[access.ModuleLabOrders].Has(access.PermissionCreate))
}

func TestResolverEmptyOverrideRevokesModule(t *testing.T) {
	registry := NewBaselineRegistry()
	store := repository.NewMemoryOverrideStore()
	resolver := NewResolver(registry, store, testLogger(), true)
	ctx := context.Background()

	err := store.Put(ctx, "tenant-1", access.RolePhysician, access.ModulePrescriptions,
		access.NewPermissionSet(), "admin-1")
	require.NoError(t, err)

	matrix, err := resolver.Resolve(ctx, "tenant-1", access.RolePhysician)
	require.NoError(t, err)

	set, ok := matrix[access.ModulePrescriptions]
	require.True(t, ok, "empty override keeps the module present")
	assert.Empty(t, set)
	for _, permission := range access.ModuleCatalog[access.ModulePrescriptions] {
		assert.False(t, set.Has(permission))
	}
}

func TestResolverOverrideGrantsModuleAbsentFromBaseline(t *testing.T) {
	registry := NewBaselineRegistry()
	store := repository.NewMemoryOverrideStore()
	resolver := NewResolver(registry, store, testLogger(), true)
	ctx := context.Background()

	// Nurse baseline has no billing entry at all.
	err := store.Put(ctx, "tenant-1", access.RoleNurse, access.ModuleBilling,
		access.NewPermissionSet(access.PermissionView), "admin-1")
	require.NoError(t, err)

	matrix, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
	require.NoError(t, err)

	assert.True(t, matrix[access.ModuleBilling].Has(access.PermissionView))
	assert.False(t, matrix[access.ModuleBilling].Has(access.PermissionCreate))
}

func TestResolverTenantIsolation(t *testing.T) {
	registry := NewBaselineRegistry()
	store := repository.NewMemoryOverrideStore()
	resolver := NewResolver(registry, store, testLogger(), true)
	ctx := context.Background()

	err := store.Put(ctx, "tenant-1", access.RoleNurse, access.ModuleLabOrders,
		access.NewPermissionSet(access.PermissionView, access.PermissionCreate, access.PermissionUpdate), "admin-1")
	require.NoError(t, err)

	widened, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
	require.NoError(t, err)
	untouched, err := resolver.Resolve(ctx, "tenant-2", access.RoleNurse)
	require.NoError(t, err)

	assert.True(t, widened[access.ModuleLabOrders].Has(access.PermissionCreate))
	assert.False(t, untouched[access.ModuleLabOrders].Has(access.PermissionCreate))
	assert.True(t, untouched[access.ModuleLabOrders].Has(access.PermissionView))
}

func TestResolverCaching(t *testing.T) {
	t.Run("repeat resolves hit the cache", func(t *testing.T) {
		registry := NewBaselineRegistry()
		store := &countingStore{OverrideStore: repository.NewMemoryOverrideStore()}
		resolver := NewResolver(registry, store, testLogger(), true)
		ctx := context.Background()

		_, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
		require.NoError(t, err)

		assert.Equal(t, 1, store.gets)
	})

	t.Run("invalidate forces a storage read", func(t *testing.T) {
		registry := NewBaselineRegistry()
		memory := repository.NewMemoryOverrideStore()
		store := &countingStore{OverrideStore: memory}
		resolver := NewResolver(registry, store, testLogger(), true)
		ctx := context.Background()

		_, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
		require.NoError(t, err)

		err = memory.Put(ctx, "tenant-1", access.RoleNurse, access.ModuleLabOrders,
			access.NewPermissionSet(), "admin-1")
		require.NoError(t, err)

		resolver.Invalidate("tenant-1", access.RoleNurse)

		matrix, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
		require.NoError(t, err)

		assert.Equal(t, 2, store.gets)
		assert.False(t, matrix[access.ModuleLabOrders].Has(access.PermissionView))
	})

	t.Run("disabled cache reads storage every time", func(t *testing.T) {
		registry := NewBaselineRegistry()
		store := &countingStore{OverrideStore: repository.NewMemoryOverrideStore()}
		resolver := NewResolver(registry, store, testLogger(), false)
		ctx := context.Background()

		_, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
		require.NoError(t, err)

		assert.Equal(t, 2, store.gets)
	})

	t.Run("cache is keyed per tenant and role", func(t *testing.T) {
		registry := NewBaselineRegistry()
		store := &countingStore{OverrideStore: repository.NewMemoryOverrideStore()}
		resolver := NewResolver(registry, store, testLogger(), true)
		ctx := context.Background()

		_, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, "tenant-2", access.RoleNurse)
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, "tenant-1", access.RolePhysician)
		require.NoError(t, err)

		assert.Equal(t, 3, store.gets)
	})
}

func TestResolverSuperAdmin(t *testing.T) {
	registry := NewBaselineRegistry()
	store := &countingStore{OverrideStore: repository.NewMemoryOverrideStore()}
	resolver := NewResolver(registry, store, testLogger(), true)

	matrix, err := resolver.Resolve(context.Background(), "tenant-1", access.RoleSuperAdmin)
	require.NoError(t, err)

	// The override store is never consulted for super_admin.
	assert.Equal(t, 0, store.gets)
	for module, permissions := range access.ModuleCatalog {
		for _, permission := range permissions {
			assert.True(t, matrix[module].Has(permission), "%s.%s", module, permission)
		}
	}
}

func TestResolverUnknownRole(t *testing.T) {
	registry := NewBaselineRegistry()
	resolver := NewResolver(registry, repository.NewMemoryOverrideStore(), testLogger(), true)

	_, err := resolver.Resolve(context.Background(), "tenant-1", "surgeon")
	require.Error(t, err)
	assert.True(t, errors.Is(err, access.ErrUnknownRole))
}

func TestResolverStorageFailurePropagates(t *testing.T) {
	registry := NewBaselineRegistry()
	resolver := NewResolver(registry, &brokenStore{}, testLogger(), true)

	_, err := resolver.Resolve(context.Background(), "tenant-1", access.RoleNurse)
	require.Error(t, err)
	assert.True(t, access.IsTransient(err))
}

func TestResolverReturnsIndependentCopies(t *testing.T) {
	registry := NewBaselineRegistry()
	resolver := NewResolver(registry, repository.NewMemoryOverrideStore(), testLogger(), true)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
	require.NoError(t, err)

	// Mutating a returned matrix must not poison the cache.
	first[access.ModuleLabOrders][access.PermissionFinalize] = true

	second, err := resolver.Resolve(ctx, "tenant-1", access.RoleNurse)
	require.NoError(t, err)
	assert.False(t, second[access.ModuleLabOrders].Has(access.PermissionFinalize))
}
