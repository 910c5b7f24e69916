package grid

import "errors"

var (
	errNameRequired       = errors.New("name is required")
	errBothSet            = errors.New("a cell value cannot hold both text and number")
	errSortColumnRequired = errors.New("sort column is required")

	// ErrPrimaryColumn is returned when an operation would hide or delete the
	// primary column.
	ErrPrimaryColumn = errors.New("primary column cannot be hidden or deleted")
	// ErrLastView is returned when deleting the only view of a table.
	ErrLastView = errors.New("a table must keep at least one view")
	// ErrLastTable is returned when deleting the only table of a base.
	ErrLastTable = errors.New("a base must keep at least one table")
)
