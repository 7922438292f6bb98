package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"flexreport/internal/domain"
)

var _ Engine = (*MemEngine)(nil)

// MemEngine evaluates predicates in Go over the loaded table. It mirrors
// DuckEngine's semantics condition by condition; parity between the two is
// covered by tests rather than assumed.
type MemEngine struct {
	mu    sync.RWMutex
	table *domain.Table
}

// NewMemEngine creates an empty in-memory engine.
func NewMemEngine() *MemEngine {
	return &MemEngine{table: domain.NewTable(nil)}
}

// Close is a no-op.
func (e *MemEngine) Close() error { return nil }

// Columns returns the loaded column names.
func (e *MemEngine) Columns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.table.Columns...)
}

// Replace swaps in a new table.
func (e *MemEngine) Replace(_ context.Context, t *domain.Table) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table = t.Clone()
	return nil
}

// Count returns the number of rows matching p.
func (e *MemEngine) Count(_ context.Context, p domain.Predicate) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	match := compile(p, e.table)
	n := 0
	for _, row := range e.table.Rows {
		if match(row) {
			n++
		}
	}
	return n, nil
}

// Select returns matching rows projected to columns, in load order.
func (e *MemEngine) Select(_ context.Context, p domain.Predicate, columns []string, offset, limit int) (*domain.Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(columns) == 0 {
		columns = e.table.Columns
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = e.table.ColIndex(c)
	}

	match := compile(p, e.table)
	out := domain.NewTable(append([]string(nil), columns...))
	skipped, taken := 0, 0
	for _, row := range e.table.Rows {
		if !match(row) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && taken >= limit {
			break
		}
		nr := make([]string, len(idx))
		for i, ci := range idx {
			if ci >= 0 && ci < len(row) {
				nr[i] = row[ci]
			}
		}
		out.Rows = append(out.Rows, nr)
		taken++
	}
	return out, nil
}

// DistinctValues returns the sorted distinct non-nullish values of column.
func (e *MemEngine) DistinctValues(_ context.Context, column string, limit int) ([]string, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ci := e.table.ColIndex(column)
	if ci < 0 {
		return nil, true, nil
	}
	seen := make(map[string]bool, 64)
	for _, row := range e.table.Rows {
		if ci >= len(row) || domain.IsNullish(row[ci]) {
			continue
		}
		seen[row[ci]] = true
		if len(seen) > limit {
			return nil, false, nil
		}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, true, nil
}

// ColumnValues returns the column's values for every row matching p.
func (e *MemEngine) ColumnValues(_ context.Context, p domain.Predicate, column string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ci := e.table.ColIndex(column)
	match := compile(p, e.table)
	values := make([]string, 0, 64)
	for _, row := range e.table.Rows {
		if !match(row) {
			continue
		}
		v := ""
		if ci >= 0 && ci < len(row) {
			v = row[ci]
		}
		values = append(values, v)
	}
	return values, nil
}

// MatchedKeys reports which keys appear among the trimmed column values of
// rows matching p.
func (e *MemEngine) MatchedKeys(_ context.Context, p domain.Predicate, column string, keys []string, fold bool) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	ci := e.table.ColIndex(column)
	match := compile(p, e.table)
	present := make(map[string]bool, 64)
	for _, row := range e.table.Rows {
		if ci < 0 || ci >= len(row) || !match(row) {
			continue
		}
		v := strings.TrimSpace(row[ci])
		if fold {
			v = strings.ToUpper(v)
		}
		present[v] = true
	}

	matched := make([]string, 0, len(keys))
	for _, k := range keys {
		probe := strings.TrimSpace(k)
		if fold {
			probe = strings.ToUpper(probe)
		}
		if present[probe] {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// MatchedTerms reports which terms appear as case-insensitive substrings of
// column over rows matching p.
func (e *MemEngine) MatchedTerms(_ context.Context, p domain.Predicate, column string, terms []string) ([]string, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	ci := e.table.ColIndex(column)
	match := compile(p, e.table)
	lowered := make([]string, 0, 64)
	for _, row := range e.table.Rows {
		if ci < 0 || ci >= len(row) || !match(row) {
			continue
		}
		lowered = append(lowered, strings.ToLower(row[ci]))
	}

	matched := make([]string, 0, len(terms))
	for _, term := range terms {
		needle := strings.ToLower(strings.TrimSpace(term))
		for _, v := range lowered {
			if strings.Contains(v, needle) {
				matched = append(matched, term)
				break
			}
		}
	}
	return matched, nil
}

// DistinctPairs returns the distinct (trimmed parent, trimmed color) pairs
// of rows whose trimmed child value is in children.
func (e *MemEngine) DistinctPairs(_ context.Context, parentCol, colorCol, childCol string, children []string) ([][2]string, error) {
	if len(children) == 0 {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	pi := e.table.ColIndex(parentCol)
	ci := e.table.ColIndex(colorCol)
	hi := e.table.ColIndex(childCol)
	if hi < 0 {
		return nil, nil
	}

	want := make(map[string]bool, len(children))
	for _, c := range children {
		want[strings.TrimSpace(c)] = true
	}

	seen := make(map[[2]string]bool, len(children))
	pairs := make([][2]string, 0, len(children))
	for _, row := range e.table.Rows {
		if hi >= len(row) || !want[strings.TrimSpace(row[hi])] {
			continue
		}
		var pair [2]string
		if pi >= 0 && pi < len(row) {
			pair[0] = strings.TrimSpace(row[pi])
		}
		if ci >= 0 && ci < len(row) {
			pair[1] = strings.TrimSpace(row[ci])
		}
		if !seen[pair] {
			seen[pair] = true
			pairs = append(pairs, pair)
		}
	}
	return pairs, nil
}

// compile builds a row matcher for a predicate against a table layout.
func compile(p domain.Predicate, t *domain.Table) func(row []string) bool {
	if p.Empty() {
		return func([]string) bool { return true }
	}
	matchers := make([]func([]string) bool, 0, len(p.Conds))
	for _, cond := range p.Conds {
		matchers = append(matchers, compileCond(cond, t))
	}
	return func(row []string) bool {
		for _, m := range matchers {
			if !m(row) {
				return false
			}
		}
		return true
	}
}

func compileCond(cond domain.Condition, t *domain.Table) func(row []string) bool {
	never := func([]string) bool { return false }

	cell := func(row []string, ci int) string {
		if ci >= 0 && ci < len(row) {
			return row[ci]
		}
		return ""
	}

	switch c := cond.(type) {
	case domain.ValueIn:
		if len(c.Values) == 0 {
			return never
		}
		ci := t.ColIndex(c.Column)
		set := make(map[string]bool, len(c.Values))
		for _, v := range c.Values {
			set[v] = true
		}
		return func(row []string) bool {
			return set[strings.TrimSpace(cell(row, ci))]
		}

	case domain.KeyIn:
		if len(c.Values) == 0 {
			return never
		}
		ci := t.ColIndex(c.Column)
		set := make(map[string]bool, len(c.Values))
		for _, v := range c.Values {
			set[strings.TrimSpace(v)] = true
		}
		return func(row []string) bool {
			return set[strings.TrimSpace(cell(row, ci))]
		}

	case domain.InFold:
		if len(c.Values) == 0 {
			return never
		}
		ci := t.ColIndex(c.Column)
		set := make(map[string]bool, len(c.Values))
		for _, v := range c.Values {
			set[strings.ToUpper(strings.TrimSpace(v))] = true
		}
		return func(row []string) bool {
			return set[strings.ToUpper(strings.TrimSpace(cell(row, ci)))]
		}

	case domain.ContainsFold:
		if len(c.Terms) == 0 {
			return never
		}
		ci := t.ColIndex(c.Column)
		needles := make([]string, len(c.Terms))
		for i, term := range c.Terms {
			needles[i] = strings.ToLower(strings.TrimSpace(term))
		}
		return func(row []string) bool {
			haystack := strings.ToLower(cell(row, ci))
			for _, n := range needles {
				if strings.Contains(haystack, n) {
					return true
				}
			}
			return false
		}

	case domain.ParentColor:
		if len(c.Pairs) == 0 && len(c.OrphanParents) == 0 {
			return never
		}
		pi := t.ColIndex(c.ParentColumn)
		ci := t.ColIndex(c.ColorColumn)
		pairSet := make(map[[2]string]bool, len(c.Pairs))
		for _, pair := range c.Pairs {
			pairSet[[2]string{strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])}] = true
		}
		orphanSet := make(map[string]bool, len(c.OrphanParents))
		for _, parent := range c.OrphanParents {
			orphanSet[strings.TrimSpace(parent)] = true
		}
		return func(row []string) bool {
			parent := strings.TrimSpace(cell(row, pi))
			color := strings.TrimSpace(cell(row, ci))
			if pairSet[[2]string{parent, color}] {
				return true
			}
			return orphanSet[parent] && domain.IsNullish(color)
		}

	case domain.MatchNone:
		return never

	default:
		return never
	}
}
