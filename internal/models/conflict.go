package models

// ConflictTarget identifies a record that could not be deleted
type ConflictTarget struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// ConflictRefs lists the records of one collection referencing a target
type ConflictRefs struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

// Conflict ties a delete candidate to the records still referencing it
type Conflict struct {
	Target    ConflictTarget `json:"target"`
	Conflicts ConflictRefs   `json:"conflicts"`
}

// ConflictReport is the result of a dependency check; empty means deletable
type ConflictReport []Conflict

// IsEmpty reports whether the deletion is permitted
func (r ConflictReport) IsEmpty() bool {
	return len(r) == 0
}

// Targets returns the distinct target ids in report order
func (r ConflictReport) Targets() []string {
	seen := make(map[string]bool, len(r))
	var ids []string
	for _, c := range r {
		if !seen[c.Target.ID] {
			seen[c.Target.ID] = true
			ids = append(ids, c.Target.ID)
		}
	}
	return ids
}
