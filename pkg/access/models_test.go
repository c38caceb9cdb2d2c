package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionSet(t *testing.T) {
	t.Run("NewPermissionSet builds membership", func(t *testing.T) {
		set := NewPermissionSet(PermissionView, PermissionCreate)

		assert.True(t, set.Has(PermissionView))
		assert.True(t, set.Has(PermissionCreate))
		assert.False(t, set.Has(PermissionDelete))
		assert.Len(t, set, 2)
	})

	t.Run("List is sorted", func(t *testing.T) {
		set := NewPermissionSet(PermissionView, PermissionApprove, PermissionCreate)

		assert.Equal(t, []Permission{PermissionApprove, PermissionCreate, PermissionView}, set.List())
	})

	t.Run("Clone is independent", func(t *testing.T) {
		original := NewPermissionSet(PermissionView)
		clone := original.Clone()
		clone[PermissionDelete] = true

		assert.False(t, original.Has(PermissionDelete))
		assert.True(t, clone.Has(PermissionDelete))
	})

	t.Run("Equal compares membership", func(t *testing.T) {
		a := NewPermissionSet(PermissionView, PermissionCreate)
		b := NewPermissionSet(PermissionCreate, PermissionView)
		c := NewPermissionSet(PermissionView)

		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(c))
		assert.True(t, NewPermissionSet().Equal(NewPermissionSet()))
	})

	t.Run("empty set denies everything", func(t *testing.T) {
		set := NewPermissionSet()

		for _, permission := range ModuleCatalog[ModulePatients] {
			assert.False(t, set.Has(permission))
		}
	})
}

func TestRoleMatrix(t *testing.T) {
	t.Run("Clone is a deep copy", func(t *testing.T) {
		original := RoleMatrix{
			ModulePatients: NewPermissionSet(PermissionView),
		}
		clone := original.Clone()
		clone[ModulePatients][PermissionDelete] = true
		clone[ModuleBilling] = NewPermissionSet(PermissionView)

		assert.False(t, original[ModulePatients].Has(PermissionDelete))
		assert.NotContains(t, original, ModuleBilling)
	})

	t.Run("Modules is sorted", func(t *testing.T) {
		matrix := RoleMatrix{
			ModulePatients: NewPermissionSet(PermissionView),
			ModuleBilling:  NewPermissionSet(PermissionView),
			ModuleReports:  NewPermissionSet(PermissionView),
		}

		assert.Equal(t, []Module{ModuleBilling, ModulePatients, ModuleReports}, matrix.Modules())
	})
}

func TestSaveReport(t *testing.T) {
	t.Run("AllSucceeded", func(t *testing.T) {
		report := &SaveReport{
			Results: []ModuleSaveResult{
				{Module: ModulePatients, Succeeded: true},
				{Module: ModuleBilling, Succeeded: true},
			},
		}
		assert.True(t, report.AllSucceeded())

		report.Results = append(report.Results, ModuleSaveResult{Module: ModuleReports, Succeeded: false})
		assert.False(t, report.AllSucceeded())
	})

	t.Run("FailedModules", func(t *testing.T) {
		report := &SaveReport{
			Results: []ModuleSaveResult{
				{Module: ModulePatients, Succeeded: true},
				{Module: ModuleBilling, Succeeded: false},
				{Module: ModuleReports, Succeeded: false},
			},
		}

		assert.Equal(t, []Module{ModuleBilling, ModuleReports}, report.FailedModules())
	})

	t.Run("empty report succeeded", func(t *testing.T) {
		report := &SaveReport{}

		assert.True(t, report.AllSucceeded())
		assert.Empty(t, report.FailedModules())
	})
}
