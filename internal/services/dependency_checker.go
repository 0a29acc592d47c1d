package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/repository"
)

// DefaultConflictBatchSize is the number of candidate ids per membership query
const DefaultConflictBatchSize = 10

// DeleteTxn tracks the ids already deleted (or scheduled for deletion)
// within one write transaction, so dependency checks later in the same
// transaction do not report them as conflicts.
type DeleteTxn struct {
	deleted map[string]map[string]bool
}

// NewDeleteTxn creates an empty DeleteTxn
func NewDeleteTxn() *DeleteTxn {
	return &DeleteTxn{deleted: make(map[string]map[string]bool)}
}

// MarkDeleted records ids of collection as deleted
func (t *DeleteTxn) MarkDeleted(collection string, ids ...string) {
	set := t.deleted[collection]
	if set == nil {
		set = make(map[string]bool, len(ids))
		t.deleted[collection] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

// IsDeleted reports whether id of collection was deleted in this transaction
func (t *DeleteTxn) IsDeleted(collection, id string) bool {
	if t == nil {
		return false
	}
	return t.deleted[collection][id]
}

// reference is a record that points at one or more candidate ids
type reference struct {
	collection string
	record     *models.Record
	targets    []string
}

// DependencyChecker answers whether records can be deleted without leaving
// dangling references in other collections
type DependencyChecker struct {
	registry  *Registry
	batchSize int
}

// NewDependencyChecker creates a new DependencyChecker
func NewDependencyChecker(registry *Registry, batchSize int) *DependencyChecker {
	if batchSize <= 0 {
		batchSize = DefaultConflictBatchSize
	}
	return &DependencyChecker{registry: registry, batchSize: batchSize}
}

// CheckDeletable returns the conflicts blocking deletion of ids from target.
// An empty report means the deletion is permitted. Records deleted earlier
// in txn, and the candidates themselves, never count as conflicts.
func (c *DependencyChecker) CheckDeletable(ctx context.Context, docs repository.DocumentRepo, target string, ids []string, txn *DeleteTxn) (models.ConflictReport, error) {
	refs, err := c.references(ctx, docs, target, ids, txn)
	if err != nil {
		return nil, err
	}

	type key struct{ target, collection string }
	grouped := make(map[key][]string)
	var order []key
	for _, ref := range refs {
		for _, t := range ref.targets {
			k := key{target: t, collection: ref.collection}
			if _, ok := grouped[k]; !ok {
				order = append(order, k)
			}
			grouped[k] = append(grouped[k], ref.record.ID)
		}
	}

	// Report follows candidate order, then dependent collection order
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := position[id]; !ok {
			position[id] = i
		}
	}
	slices.SortStableFunc(order, func(a, b key) int {
		return position[a.target] - position[b.target]
	})

	report := make(models.ConflictReport, 0, len(order))
	for _, k := range order {
		refIDs := grouped[k]
		slices.Sort(refIDs)
		report = append(report, models.Conflict{
			Target:    models.ConflictTarget{Collection: target, ID: k.target},
			Conflicts: models.ConflictRefs{Collection: k.collection, IDs: slices.Compact(refIDs)},
		})
	}
	return report, nil
}

// Referencing returns, per collection, the ids of records that reference
// any of ids in target and were not deleted in txn
func (c *DependencyChecker) Referencing(ctx context.Context, docs repository.DocumentRepo, target string, ids []string, txn *DeleteTxn) (map[string][]string, error) {
	refs, err := c.references(ctx, docs, target, ids, txn)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, ref := range refs {
		out[ref.collection] = append(out[ref.collection], ref.record.ID)
	}
	return out, nil
}

func (c *DependencyChecker) references(ctx context.Context, docs repository.DocumentRepo, target string, ids []string, txn *DeleteTxn) ([]reference, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	candidates := make(map[string]bool, len(ids))
	for _, id := range ids {
		candidates[id] = true
	}

	dependents := c.registry.Dependents(target)

	var refs []reference
	seen := make(map[string]map[string]int) // collection -> record id -> index in refs
	for _, dep := range dependents {
		op := models.OpIn
		if dep.Cardinality == models.CardinalityMany {
			op = models.OpIntersects
		}

		for start := 0; start < len(ids); start += c.batchSize {
			batch := ids[start:min(start+c.batchSize, len(ids))]
			matches, err := docs.Query(ctx, dep.Collection, models.Query{
				Filters: []models.Filter{{Field: dep.Field, Op: op, Values: batch}},
				Order:   models.OrderByID,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to query %s.%s: %w", dep.Collection, dep.Field, err)
			}

			for _, record := range matches {
				if txn.IsDeleted(dep.Collection, record.ID) {
					continue
				}
				if dep.Collection == target && candidates[record.ID] {
					continue
				}
				if seen[dep.Collection] == nil {
					seen[dep.Collection] = make(map[string]int)
				}
				i, ok := seen[dep.Collection][record.ID]
				if !ok {
					i = len(refs)
					seen[dep.Collection][record.ID] = i
					refs = append(refs, reference{collection: dep.Collection, record: record})
				}
				for _, v := range record.StringValues(dep.Field) {
					if candidates[v] && !slices.Contains(refs[i].targets, v) {
						refs[i].targets = append(refs[i].targets, v)
					}
				}
			}
		}
	}
	return refs, nil
}
