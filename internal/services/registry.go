package services

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/colsync/server/internal/models"
)

// UpgradeProcessor mutates records in place so they become valid for the
// next version toward the latest one. It is registered under the version it
// upgrades from. Returning models.NewRecordError names the failing record.
type UpgradeProcessor func(ctx context.Context, records []*models.Record) error

// ModuleDescriptor is the static description of a syncable collection
type ModuleDescriptor struct {
	Name            string
	Versions        []string
	Dependencies    models.DependencyDeclaration
	UniqueKeyFields []string
}

// Syncable is implemented by every collection module that takes part in sync
type Syncable interface {
	Descriptor() ModuleDescriptor
	UpgradeProcessors() map[string]UpgradeProcessor
}

// Module is a Syncable built from plain values
type Module struct {
	ModuleDescriptor
	Processors map[string]UpgradeProcessor
}

func (m *Module) Descriptor() ModuleDescriptor {
	return m.ModuleDescriptor
}

func (m *Module) UpgradeProcessors() map[string]UpgradeProcessor {
	return m.Processors
}

// Collection is a registered, validated module
type Collection struct {
	desc       ModuleDescriptor
	processors map[string]UpgradeProcessor
	index      map[string]int
}

func (c *Collection) Name() string                               { return c.desc.Name }
func (c *Collection) Versions() []string                         { return append([]string(nil), c.desc.Versions...) }
func (c *Collection) Latest() string                             { return c.desc.Versions[0] }
func (c *Collection) Dependencies() models.DependencyDeclaration { return c.desc.Dependencies }
func (c *Collection) UniqueKeyFields() []string                  { return c.desc.UniqueKeyFields }

// HasVersion reports whether v is part of the version chain
func (c *Collection) HasVersion(v string) bool {
	_, ok := c.index[v]
	return ok
}

// NextVersion returns the version following v toward the latest
func (c *Collection) NextVersion(v string) (string, bool) {
	i, ok := c.index[v]
	if !ok || i == 0 {
		return "", false
	}
	return c.desc.Versions[i-1], true
}

// Processor returns the processor upgrading records away from v, if any
func (c *Collection) Processor(v string) UpgradeProcessor {
	return c.processors[v]
}

// Info describes the collection for API responses
func (c *Collection) Info() models.CollectionInfo {
	return models.CollectionInfo{
		Name:            c.desc.Name,
		Versions:        c.Versions(),
		Dependencies:    c.desc.Dependencies,
		UniqueKeyFields: c.desc.UniqueKeyFields,
	}
}

// DependentField is a field of one collection referencing another collection
type DependentField struct {
	Collection  string
	Field       string
	Cardinality models.Cardinality
}

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Registry holds every syncable collection. It is built once at startup
// and passed to the components that need it.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	order       []string
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// Register validates and adds a module
func (r *Registry) Register(module Syncable) error {
	desc := module.Descriptor()
	if !collectionNamePattern.MatchString(desc.Name) {
		return fmt.Errorf("invalid collection name %q", desc.Name)
	}
	if err := validateVersionChain(desc.Versions); err != nil {
		return fmt.Errorf("collection %s: %w", desc.Name, err)
	}
	if err := desc.Dependencies.Validate(); err != nil {
		return fmt.Errorf("collection %s: %w", desc.Name, err)
	}
	for _, field := range desc.UniqueKeyFields {
		if err := models.ValidateFieldPath(field); err != nil {
			return fmt.Errorf("collection %s: unique key: %w", desc.Name, err)
		}
	}

	index := make(map[string]int, len(desc.Versions))
	for i, v := range desc.Versions {
		index[v] = i
	}
	processors := make(map[string]UpgradeProcessor)
	for from, proc := range module.UpgradeProcessors() {
		i, ok := index[from]
		if !ok {
			return fmt.Errorf("collection %s: processor registered for undeclared version %s", desc.Name, from)
		}
		if i == 0 {
			return fmt.Errorf("collection %s: processor registered for latest version %s", desc.Name, from)
		}
		if proc != nil {
			processors[from] = proc
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collections[desc.Name]; exists {
		return fmt.Errorf("collection %s registered twice", desc.Name)
	}
	r.collections[desc.Name] = &Collection{desc: desc, processors: processors, index: index}
	r.order = append(r.order, desc.Name)
	return nil
}

// Validate checks that every dependency targets a registered collection
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		for field, target := range r.collections[name].desc.Dependencies {
			if _, ok := r.collections[target.TargetCollection]; !ok {
				return fmt.Errorf("collection %s: field %s references unknown collection %s", name, field, target.TargetCollection)
			}
		}
	}
	return nil
}

// Lookup returns a registered collection
func (r *Registry) Lookup(name string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownCollection, name)
	}
	return c, nil
}

// Collections returns every collection in registration order
func (r *Registry) Collections() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Collection, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.collections[name])
	}
	return out
}

// Dependents returns every field, in any collection, that references target.
// Fields are ordered by collection registration order, then field name.
func (r *Registry) Dependents(target string) []DependentField {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []DependentField
	for _, name := range r.order {
		deps := r.collections[name].desc.Dependencies
		for _, field := range slices.Sorted(maps.Keys(deps)) {
			if deps[field].TargetCollection == target {
				out = append(out, DependentField{
					Collection:  name,
					Field:       field,
					Cardinality: deps[field].Cardinality,
				})
			}
		}
	}
	return out
}

// validateVersionChain requires semantic versions, latest first, strictly descending
func validateVersionChain(versions []string) error {
	if len(versions) == 0 {
		return fmt.Errorf("at least one version is required")
	}
	for i, v := range versions {
		if !semver.IsValid("v" + v) {
			return fmt.Errorf("version %q is not a semantic version", v)
		}
		if i > 0 && semver.Compare("v"+versions[i-1], "v"+v) <= 0 {
			return fmt.Errorf("versions must be ordered latest first: %s before %s", versions[i-1], v)
		}
	}
	return nil
}
