// Package invalidation decides whether a mutation outcome requires refetching
// the cached pages of a table.
package invalidation

// Kind is the kind of a mutation.
type Kind string

// Mutation kinds.
const (
	CellUpdate   Kind = "cell_update"
	RowCreate    Kind = "row_create"
	RowDelete    Kind = "row_delete"
	ColumnCreate Kind = "column_create"
	ColumnRename Kind = "column_rename"
	ColumnDelete Kind = "column_delete"
)

// Kinds lists every mutation kind.
var Kinds = []Kind{CellUpdate, RowCreate, RowDelete, ColumnCreate, ColumnRename, ColumnDelete}

// IsStructural reports whether k changes the column shape of the table.
func (k Kind) IsStructural() bool {
	return k == ColumnCreate || k == ColumnDelete
}

// Decision is the outcome of the planner.
type Decision struct {
	// Refetch requests reloading every loaded page of every cached query of
	// the table.
	Refetch bool
	Reason  string
}

// Planner is the decision table.
type Planner struct {
	// RefetchOnError refetches after every failure, even when the rollback
	// restored the cache cleanly.
	RefetchOnError bool
}

// Default returns a planner that always refetches on failure.
func Default() Planner {
	return Planner{RefetchOnError: true}
}

// OnSuccess decides after a committed mutation.
func (p Planner) OnSuccess(k Kind) Decision {
	if k.IsStructural() {
		return Decision{Refetch: true, Reason: "column shape changed"}
	}
	return Decision{Reason: "optimistic patch trusted"}
}

// OnFailure decides after a rolled back mutation. rollbackClean is false when
// part of the rollback had to be skipped.
func (p Planner) OnFailure(k Kind, rollbackClean bool) Decision {
	switch {
	case !rollbackClean:
		return Decision{Refetch: true, Reason: "rollback incomplete"}
	case p.RefetchOnError:
		return Decision{Refetch: true, Reason: "refetch on error"}
	default:
		return Decision{Reason: "rollback restored the snapshot"}
	}
}
