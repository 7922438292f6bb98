package domain

// Predicate is a conjunction of conditions evaluated against the loaded
// table. Both query engine implementations consume the same structure, which
// keeps their semantics aligned by construction.
type Predicate struct {
	Conds []Condition
}

// And appends a condition.
func (p *Predicate) And(c Condition) { p.Conds = append(p.Conds, c) }

// Empty reports whether the predicate matches every row.
func (p Predicate) Empty() bool { return len(p.Conds) == 0 }

// Condition is one conjunct of a Predicate.
type Condition interface {
	isCondition()
}

// ValueIn matches rows whose trimmed column value, with empty cells
// normalized to "", is in Values. Used by column-value filters, where the
// request-side empty sentinel has already been mapped to "".
type ValueIn struct {
	Column string
	Values []string
}

// KeyIn matches rows whose trimmed column value is in Values (exact,
// case-sensitive). Used by SKU identifier filters.
type KeyIn struct {
	Column string
	Values []string
}

// InFold matches rows whose trimmed column value equals any of Values
// case-insensitively. Used by the ticket filter and custom text filters.
type InFold struct {
	Column string
	Values []string
}

// ContainsFold matches rows whose column value contains any of Terms
// case-insensitively.
type ContainsFold struct {
	Column string
	Terms  []string
}

// ParentColor is the extend-SKU expansion: a row matches when its
// (trimmed parent, trimmed color) pair is in Pairs, or when its trimmed
// parent is in OrphanParents and its color cell is nullish.
type ParentColor struct {
	ParentColumn  string
	ColorColumn   string
	Pairs         [][2]string
	OrphanParents []string
}

// MatchNone matches no rows.
type MatchNone struct{}

func (ValueIn) isCondition()      {}
func (KeyIn) isCondition()        {}
func (InFold) isCondition()       {}
func (ContainsFold) isCondition() {}
func (ParentColor) isCondition()  {}
func (MatchNone) isCondition()    {}
