package models

import (
	"fmt"
	"regexp"
)

// FilterOp is a membership test applied to a payload field
type FilterOp string

const (
	// OpIn matches records whose scalar field equals one of the values
	OpIn FilterOp = "in"
	// OpIntersects matches records whose array field shares a value with the set
	OpIntersects FilterOp = "intersects"
)

// Filter restricts a query by a payload field
type Filter struct {
	Field  string
	Op     FilterOp
	Values []string
}

// Order selects the sort order of a query
type Order int

const (
	OrderUpdatedAsc Order = iota
	OrderUpdatedDesc
	OrderByID
)

// Query describes a collection-scoped document lookup
type Query struct {
	UpdatedSince *int64
	Filters      []Filter
	Order        Order
	Limit        int
	Offset       int
}

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidateFieldPath checks that a dotted payload path is well formed
func ValidateFieldPath(path string) error {
	if !fieldPathPattern.MatchString(path) {
		return fmt.Errorf("%w: %q", ErrInvalidField, path)
	}
	return nil
}

// Validate checks the query filters
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if err := ValidateFieldPath(f.Field); err != nil {
			return err
		}
		if f.Op != OpIn && f.Op != OpIntersects {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidField, f.Op)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("limit and offset must not be negative")
	}
	return nil
}
