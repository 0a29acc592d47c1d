package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colsync/server/internal/models"
)

func module(name string, versions ...string) *Module {
	return &Module{ModuleDescriptor: ModuleDescriptor{Name: name, Versions: versions}}
}

func TestRegistry_Register(t *testing.T) {
	noop := func(context.Context, []*models.Record) error { return nil }

	tests := []struct {
		name    string
		module  Syncable
		wantErr bool
	}{
		{"valid single version", module("notes", "1.0.0"), false},
		{"valid chain", module("notes", "2.0.0", "1.1.0", "1.0.0"), false},
		{"invalid name", module("Notes", "1.0.0"), true},
		{"no versions", module("notes"), true},
		{"not semver", module("notes", "one"), true},
		{"ascending chain", module("notes", "1.0.0", "2.0.0"), true},
		{"duplicate version", module("notes", "1.0.0", "1.0.0"), true},
		{"bad dependency field", &Module{ModuleDescriptor: ModuleDescriptor{
			Name: "notes", Versions: []string{"1.0.0"},
			Dependencies: models.DependencyDeclaration{"a..b": {TargetCollection: "x", Cardinality: models.CardinalitySingle}},
		}}, true},
		{"bad cardinality", &Module{ModuleDescriptor: ModuleDescriptor{
			Name: "notes", Versions: []string{"1.0.0"},
			Dependencies: models.DependencyDeclaration{"ownerId": {TargetCollection: "x", Cardinality: "several"}},
		}}, true},
		{"processor for latest", &Module{
			ModuleDescriptor: ModuleDescriptor{Name: "notes", Versions: []string{"1.1.0", "1.0.0"}},
			Processors:       map[string]UpgradeProcessor{"1.1.0": noop},
		}, true},
		{"processor for undeclared version", &Module{
			ModuleDescriptor: ModuleDescriptor{Name: "notes", Versions: []string{"1.1.0", "1.0.0"}},
			Processors:       map[string]UpgradeProcessor{"0.9.0": noop},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.module)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(module("notes", "1.0.0")))
	assert.Error(t, registry.Register(module("notes", "2.0.0")))
}

func TestRegistry_Validate(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&Module{ModuleDescriptor: ModuleDescriptor{
		Name: "notes", Versions: []string{"1.0.0"},
		Dependencies: models.DependencyDeclaration{"ownerId": {TargetCollection: "owners", Cardinality: models.CardinalitySingle}},
	}}))
	assert.Error(t, registry.Validate())

	require.NoError(t, registry.Register(module("owners", "1.0.0")))
	assert.NoError(t, registry.Validate())
}

func TestRegistry_Lookup(t *testing.T) {
	registry := newTestRegistry(t)

	col, err := registry.Lookup("orders")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", col.Latest())
	assert.True(t, col.HasVersion("1.1.0"))
	assert.False(t, col.HasVersion("0.1.0"))

	next, ok := col.NextVersion("1.0.0")
	assert.True(t, ok)
	assert.Equal(t, "1.1.0", next)
	_, ok = col.NextVersion("1.2.0")
	assert.False(t, ok)

	assert.NotNil(t, col.Processor("1.0.0"))
	assert.Nil(t, col.Processor("1.1.0"))

	_, err = registry.Lookup("invoices")
	assert.ErrorIs(t, err, models.ErrUnknownCollection)
}

func TestRegistry_Dependents(t *testing.T) {
	registry := newTestRegistry(t)

	assert.Equal(t, []DependentField{
		{Collection: "line_items", Field: "orderId", Cardinality: models.CardinalitySingle},
	}, registry.Dependents("orders"))

	assert.Equal(t, []DependentField{
		{Collection: "line_items", Field: "promotionIds", Cardinality: models.CardinalityMany},
	}, registry.Dependents("promotions"))

	assert.Equal(t, []DependentField{
		{Collection: "categories", Field: "parentId", Cardinality: models.CardinalitySingle},
	}, registry.Dependents("categories"))

	assert.Empty(t, registry.Dependents("line_items"))
}

func TestCollection_Info(t *testing.T) {
	registry := newTestRegistry(t)
	col, err := registry.Lookup("promotions")
	require.NoError(t, err)

	info := col.Info()
	assert.Equal(t, "promotions", info.Name)
	assert.Equal(t, []string{"1.0.0"}, info.Versions)
	assert.Equal(t, []string{"code"}, info.UniqueKeyFields)

	info.Versions[0] = "9.9.9"
	assert.Equal(t, "1.0.0", col.Latest(), "info must not alias the registry")
}
