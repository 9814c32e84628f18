package model

// TriState is a boolean filter that can also be left unset.
//
// A plain bool cannot express "don't filter on this column", and a *bool
// makes every call site juggle pointers. The zero value is Unset, so a zero
// TaskFilter applies no flag constraints.
type TriState uint8

const (
	Unset TriState = iota
	True
	False
)

// TriStateOf converts a bool into a set TriState.
func TriStateOf(b bool) TriState {
	if b {
		return True
	}
	return False
}

// Value returns the boolean the filter requires and whether it is set at all.
func (s TriState) Value() (value bool, ok bool) {
	switch s {
	case True:
		return true, true
	case False:
		return false, true
	default:
		return false, false
	}
}

func (s TriState) String() string {
	switch s {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return ""
	}
}

// TaskFilter describes which tasks a listing should return.
// All set constraints are AND-ed together.
type TaskFilter struct {
	// Keyword matches title or completion comment as a substring, with
	// Unicode case folding ("écrire" matches "Écrire").
	// Empty means no keyword constraint.
	Keyword   string
	Completed TriState
	Archived  TriState

	// OwnerID restricts the result to one user's tasks. Nil lists every owner.
	OwnerID *int64

	// ParentID restricts the result to direct subtasks of one task.
	ParentID *int64

	// RootsOnly restricts the result to tasks without a parent.
	// Ignored when ParentID is set.
	RootsOnly bool
}
