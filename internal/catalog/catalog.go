// Package catalog declares the collections served by the sync server
package catalog

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/colsync/server/internal/config"
	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/services"
)

// Built-in collection names
const (
	Customers  = "customers"
	Orders     = "orders"
	LineItems  = "line_items"
	Promotions = "promotions"
)

// Modules returns the built-in collections
func Modules() []services.Syncable {
	return []services.Syncable{
		&services.Module{
			ModuleDescriptor: services.ModuleDescriptor{
				Name:            Customers,
				Versions:        []string{"1.0.0"},
				UniqueKeyFields: []string{"email"},
			},
		},
		&services.Module{
			ModuleDescriptor: services.ModuleDescriptor{
				Name:     Orders,
				Versions: []string{"1.2.0", "1.1.0", "1.0.0"},
				Dependencies: models.DependencyDeclaration{
					"customerId": {TargetCollection: Customers, Cardinality: models.CardinalitySingle},
				},
			},
			Processors: map[string]services.UpgradeProcessor{
				"1.0.0": renameTotal,
				"1.1.0": defaultStatus,
			},
		},
		&services.Module{
			ModuleDescriptor: services.ModuleDescriptor{
				Name:     LineItems,
				Versions: []string{"1.0.0"},
				Dependencies: models.DependencyDeclaration{
					"orderId":      {TargetCollection: Orders, Cardinality: models.CardinalitySingle},
					"promotionIds": {TargetCollection: Promotions, Cardinality: models.CardinalityMany},
				},
			},
		},
		&services.Module{
			ModuleDescriptor: services.ModuleDescriptor{
				Name:            Promotions,
				Versions:        []string{"1.0.0"},
				UniqueKeyFields: []string{"code"},
			},
		},
	}
}

// FromConfig turns declarative collections into modules without processors
func FromConfig(collections []config.CollectionConfig) []services.Syncable {
	modules := make([]services.Syncable, 0, len(collections))
	for _, c := range collections {
		modules = append(modules, &services.Module{
			ModuleDescriptor: services.ModuleDescriptor{
				Name:            c.Name,
				Versions:        c.Versions,
				Dependencies:    c.Dependencies,
				UniqueKeyFields: c.UniqueKeyFields,
			},
		})
	}
	return modules
}

// NewRegistry registers the built-in and the configured collections
func NewRegistry(collections []config.CollectionConfig) (*services.Registry, error) {
	registry := services.NewRegistry()
	modules := append(Modules(), FromConfig(collections)...)
	for _, m := range modules {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// orders 1.0.0 -> 1.1.0: total became totalCents
func renameTotal(_ context.Context, records []*models.Record) error {
	for _, r := range records {
		total := r.Get("total")
		if total.Exists() && total.Type != gjson.Number {
			return models.NewRecordError(r.ID, fmt.Errorf("total is not a number: %s", total.Raw))
		}
		if err := r.Rename("total", "totalCents"); err != nil {
			return models.NewRecordError(r.ID, err)
		}
	}
	return nil
}

// orders 1.1.0 -> 1.2.0: orders gained a status, open unless set
func defaultStatus(_ context.Context, records []*models.Record) error {
	for _, r := range records {
		if r.Get("status").Exists() {
			continue
		}
		if err := r.Set("status", "open"); err != nil {
			return models.NewRecordError(r.ID, err)
		}
	}
	return nil
}
