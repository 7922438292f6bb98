package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNullish(t *testing.T) {
	for _, v := range []string{"", "  ", "nan", "NaN", " None ", "NULL", "NaT", "<NA>"} {
		assert.True(t, IsNullish(v), "value %q", v)
	}
	for _, v := range []string{"0", "na", "null.", "x", " none2"} {
		assert.False(t, IsNullish(v), "value %q", v)
	}
}

func TestTableProject(t *testing.T) {
	tbl := NewTable([]string{"a", "b", "c"})
	tbl.Rows = append(tbl.Rows, []string{"1", "2", "3"}, []string{"4", "5"})

	got := tbl.Project([]string{"c", "a", "missing"})
	require.Equal(t, []string{"c", "a"}, got.Columns)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, []string{"3", "1"}, got.Rows[0])
	// Short source rows pad with empty strings.
	assert.Equal(t, []string{"", "4"}, got.Rows[1])
}

func TestTableCloneIsDeep(t *testing.T) {
	tbl := NewTable([]string{"a"})
	tbl.Rows = append(tbl.Rows, []string{"x"})

	clone := tbl.Clone()
	clone.Rows[0][0] = "changed"
	assert.Equal(t, "x", tbl.Rows[0][0])
}

func TestTableColumnHelpers(t *testing.T) {
	tbl := NewTable([]string{"sku_hijo", "Depto"})
	tbl.Rows = append(tbl.Rows, []string{"1", "A"}, []string{"2", "B"})

	assert.Equal(t, 0, tbl.ColIndex("sku_hijo"))
	assert.Equal(t, -1, tbl.ColIndex("SKU_HIJO"))
	assert.Equal(t, 0, tbl.ColIndexFold("SKU_HIJO"))
	assert.Nil(t, tbl.Column("nope"))
	assert.Equal(t, []string{"A", "B"}, tbl.Column("Depto"))

	tbl.AppendColumn("extra", []string{"only-first"})
	assert.Equal(t, []string{"only-first", ""}, tbl.Column("extra"))
}
