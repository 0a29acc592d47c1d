package models

import "fmt"

// Cardinality tells whether a dependency field holds one id or a list of ids
type Cardinality string

const (
	CardinalitySingle Cardinality = "single"
	CardinalityMany   Cardinality = "many"
)

// IsValid reports whether c is a known cardinality
func (c Cardinality) IsValid() bool {
	return c == CardinalitySingle || c == CardinalityMany
}

// DependencyTarget declares that a field holds id(s) of TargetCollection
type DependencyTarget struct {
	TargetCollection string      `json:"targetCollection" yaml:"targetCollection"`
	Cardinality      Cardinality `json:"fieldCardinality" yaml:"fieldCardinality"`
}

// DependencyDeclaration maps a payload field to the collection it references
type DependencyDeclaration map[string]DependencyTarget

// Validate checks every declared field
func (d DependencyDeclaration) Validate() error {
	for field, target := range d {
		if err := ValidateFieldPath(field); err != nil {
			return err
		}
		if target.TargetCollection == "" {
			return fmt.Errorf("dependency field %q: target collection is required", field)
		}
		if !target.Cardinality.IsValid() {
			return fmt.Errorf("dependency field %q: invalid cardinality %q", field, target.Cardinality)
		}
	}
	return nil
}
