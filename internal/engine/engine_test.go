package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexreport/internal/domain"
)

// testTable is the shared fixture: child/parent SKUs with colors, tickets,
// priorities, and awkward whitespace.
func testTable() *domain.Table {
	t := domain.NewTable([]string{"sku_hijo", "sku_padre", "color", "depto", "ticket", "asunto_lineamientos", "prioridad"})
	t.Rows = [][]string{
		{"A1", "P1", "Rojo", "Ropa", "TK-1", "Cambio de etiqueta", "PRIORIDAD_1"},
		{"A2", "P1", "Rojo", "Ropa", "TK-2", "Ajuste de precio", "prioridad_2"},
		{"A3", "P1", "Azul", "Calzado", "tk-3", "Cambio de etiqueta urgente", "PRIORITY_1"},
		{"A4", "P2", "nan", "Calzado", "TK-4", "", "PRIORIDAD_3"},
		{"A5", "P2", "", "Hogar", " TK-5 ", "Revisión general", "otra"},
		{" A6 ", "P3", "Verde", "", "TK-6", "ajuste de PRECIO", ""},
	}
	return t
}

// engines returns every implementation available in this environment. The
// DuckDB engine is skipped, not failed, when it cannot be opened.
func engines(t *testing.T) map[string]Engine {
	t.Helper()
	out := map[string]Engine{"mem": NewMemEngine()}
	if duck, err := NewDuckEngine(); err == nil {
		out["duck"] = duck
	} else {
		t.Logf("duckdb unavailable, parity runs mem-only: %v", err)
	}
	for name, e := range out {
		require.NoError(t, e.Replace(context.Background(), testTable()), name)
	}
	return out
}

func closeAll(t *testing.T, engs map[string]Engine) {
	t.Helper()
	for _, e := range engs {
		assert.NoError(t, e.Close())
	}
}

func pred(conds ...domain.Condition) domain.Predicate {
	var p domain.Predicate
	for _, c := range conds {
		p.And(c)
	}
	return p
}

func TestCountAndSelect(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			n, err := e.Count(ctx, pred())
			require.NoError(t, err)
			assert.Equal(t, 6, n)

			got, err := e.Select(ctx, pred(), []string{"sku_hijo"}, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"A1", "A2", "A3", "A4", "A5", " A6 "}, got.Column("sku_hijo"))

			// Pagination preserves load order.
			page, err := e.Select(ctx, pred(), []string{"sku_hijo"}, 2, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"A3", "A4"}, page.Column("sku_hijo"))

			// Offset past the end yields an empty page.
			empty, err := e.Select(ctx, pred(), nil, 100, 10)
			require.NoError(t, err)
			assert.Equal(t, 0, empty.RowCount())
		})
	}
}

func TestValueInTrimsCellsNotValues(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			// Cells are trimmed before comparison, so " A6 " matches "A6".
			n, err := e.Count(ctx, pred(domain.ValueIn{Column: "sku_hijo", Values: []string{"A6"}}))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			// Request values are not trimmed.
			n, err = e.Count(ctx, pred(domain.ValueIn{Column: "sku_hijo", Values: []string{" A1"}}))
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			// The empty string (pre-mapped from the sentinel) matches empty cells.
			n, err = e.Count(ctx, pred(domain.ValueIn{Column: "depto", Values: []string{""}}))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			// Case-sensitive.
			n, err = e.Count(ctx, pred(domain.ValueIn{Column: "depto", Values: []string{"ropa"}}))
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestKeyInTrimsBothSides(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			n, err := e.Count(ctx, pred(domain.KeyIn{Column: "sku_hijo", Values: []string{" A6", "A1 "}}))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// Still case-sensitive.
			n, err = e.Count(ctx, pred(domain.KeyIn{Column: "sku_hijo", Values: []string{"a1"}}))
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestInFoldIgnoresCase(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			n, err := e.Count(ctx, pred(domain.InFold{Column: "ticket", Values: []string{"tk-1", "TK-3", "tk-5"}}))
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestContainsFold(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			n, err := e.Count(ctx, pred(domain.ContainsFold{Column: "asunto_lineamientos", Terms: []string{"AJUSTE DE PRECIO"}}))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// Terms OR together inside one condition.
			n, err = e.Count(ctx, pred(domain.ContainsFold{Column: "asunto_lineamientos", Terms: []string{"etiqueta", "revisión"}}))
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestParentColor(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			// (P1, Rojo) matches rows 1 and 2; orphan parent P2 matches rows
			// with nullish colors only (nan and empty).
			cond := domain.ParentColor{
				ParentColumn:  "sku_padre",
				ColorColumn:   "color",
				Pairs:         [][2]string{{"P1", "Rojo"}},
				OrphanParents: []string{"P2"},
			}
			got, err := e.Select(ctx, pred(cond), []string{"sku_hijo"}, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"A1", "A2", "A4", "A5"}, got.Column("sku_hijo"))
		})
	}
}

func TestMatchNone(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			n, err := e.Count(ctx, pred(domain.MatchNone{}))
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestConditionsConjoin(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			p := pred(
				domain.ValueIn{Column: "depto", Values: []string{"Ropa", "Calzado"}},
				domain.InFold{Column: "ticket", Values: []string{"tk-1", "tk-4"}},
			)
			got, err := e.Select(ctx, p, []string{"sku_hijo"}, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"A1", "A4"}, got.Column("sku_hijo"))
		})
	}
}

func TestDistinctValues(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			// Nullish values ("", "nan") are excluded; the rest sort.
			values, ok, err := e.DistinctValues(ctx, "color", 100)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []string{"Azul", "Rojo", "Verde"}, values)

			// Exceeding the ceiling reports not-ok instead of truncating.
			_, ok, err = e.DistinctValues(ctx, "sku_hijo", 3)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestColumnValuesFollowsPredicate(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			values, err := e.ColumnValues(ctx, pred(domain.KeyIn{Column: "sku_padre", Values: []string{"P1"}}), "prioridad")
			require.NoError(t, err)
			assert.Equal(t, []string{"PRIORIDAD_1", "prioridad_2", "PRIORITY_1"}, values)
		})
	}
}

func TestMatchedKeys(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			// Exact (trimmed) matching against the filtered set.
			p := pred(domain.ValueIn{Column: "depto", Values: []string{"Ropa"}})
			matched, err := e.MatchedKeys(ctx, p, "sku_hijo", []string{"A1", "A3", "A6", "ZZ"}, false)
			require.NoError(t, err)
			assert.Equal(t, []string{"A1"}, matched)

			// Folded matching for tickets.
			matched, err = e.MatchedKeys(ctx, pred(), "ticket", []string{"tk-1", "tk-5", "tk-9"}, true)
			require.NoError(t, err)
			assert.Equal(t, []string{"tk-1", "tk-5"}, matched)
		})
	}
}

func TestMatchedTerms(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			matched, err := e.MatchedTerms(ctx, pred(), "asunto_lineamientos", []string{"ETIQUETA", "precio", "inexistente"})
			require.NoError(t, err)
			assert.Equal(t, []string{"ETIQUETA", "precio"}, matched)
		})
	}
}

func TestDistinctPairs(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			pairs, err := e.DistinctPairs(ctx, "sku_padre", "color", "sku_hijo", []string{"A1", "A2", "A4", "A6"})
			require.NoError(t, err)
			assert.ElementsMatch(t, [][2]string{
				{"P1", "Rojo"},
				{"P2", "nan"},
				{"P3", "Verde"},
			}, pairs)
		})
	}
}

func TestReplaceSwapsTable(t *testing.T) {
	engs := engines(t)
	defer closeAll(t, engs)
	ctx := context.Background()

	small := domain.NewTable([]string{"x"})
	small.Rows = [][]string{{"1"}}

	for name, e := range engs {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, e.Replace(ctx, small))
			assert.Equal(t, []string{"x"}, e.Columns())
			n, err := e.Count(ctx, pred())
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}
