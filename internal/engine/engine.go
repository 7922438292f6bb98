// Package engine provides SQL-style filtering over the currently loaded
// table. The primary implementation runs on DuckDB; a pure in-memory
// implementation covers environments without it. Both evaluate the same
// structured predicates and must produce identical row sets.
package engine

import (
	"context"
	"log/slog"

	"flexreport/internal/domain"
)

// Engine filters the loaded table. Implementations may assume every column
// named in a predicate exists in the loaded table; callers resolve column
// names first.
type Engine interface {
	// Replace swaps in a new table, discarding the previous one.
	Replace(ctx context.Context, t *domain.Table) error

	// Columns returns the loaded column names in order.
	Columns() []string

	// Count returns the number of rows matching p.
	Count(ctx context.Context, p domain.Predicate) (int, error)

	// Select returns matching rows projected to columns, in load order.
	// limit <= 0 means no limit. An empty columns slice selects all.
	Select(ctx context.Context, p domain.Predicate, columns []string, offset, limit int) (*domain.Table, error)

	// DistinctValues returns the sorted distinct non-nullish values of a
	// column over the whole table. ok is false when the count exceeds
	// limit, in which case values is nil.
	DistinctValues(ctx context.Context, column string, limit int) (values []string, ok bool, err error)

	// ColumnValues returns the column's raw values for every row matching
	// p, in load order.
	ColumnValues(ctx context.Context, p domain.Predicate, column string) ([]string, error)

	// MatchedKeys reports which of keys appear among the trimmed values of
	// column over rows matching p. fold makes the comparison
	// case-insensitive. Order follows keys.
	MatchedKeys(ctx context.Context, p domain.Predicate, column string, keys []string, fold bool) ([]string, error)

	// MatchedTerms reports which of terms appear as case-insensitive
	// substrings of column over rows matching p. Order follows terms.
	MatchedTerms(ctx context.Context, p domain.Predicate, column string, terms []string) ([]string, error)

	// DistinctPairs returns the distinct (trimmed parent, trimmed color)
	// pairs of rows whose trimmed child value is in children.
	DistinctPairs(ctx context.Context, parentCol, colorCol, childCol string, children []string) ([][2]string, error)

	Close() error
}

// New returns a DuckDB engine when one can be opened, otherwise the
// in-memory engine. The two are interchangeable by contract.
func New(logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	duck, err := NewDuckEngine()
	if err != nil {
		logger.Warn("DuckDB unavailable, using in-memory query engine", "error", err)
		return NewMemEngine()
	}
	return duck
}
