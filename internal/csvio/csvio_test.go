package csvio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNormalizesHeaders(t *testing.T) {
	table, err := Parse([]byte(" SKU_Hijo ;Depto\n123.0;Ropa\n"), ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"sku_hijo", "depto"}, table.Columns)
	require.Len(t, table.Rows, 1)
	// Trailing ".0" stripped on identifier columns only.
	assert.Equal(t, "123", table.Rows[0][0])
	assert.Equal(t, "Ropa", table.Rows[0][1])
}

func TestParseProjection(t *testing.T) {
	table, err := Parse([]byte("a,b,c\n1,2,3\n"), ParseOptions{Columns: []string{" B ", "missing", "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, table.Columns)
	assert.Equal(t, []string{"2", "1"}, table.Rows[0])
}

func TestParseEmptyPayload(t *testing.T) {
	table, err := Parse(nil, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, table.RowCount())
}

func TestDetectSeparator(t *testing.T) {
	assert.Equal(t, ';', DetectSeparator("a;b;c\n1;2;3\n"))
	assert.Equal(t, '\t', DetectSeparator("a\tb\tc\n"))
	assert.Equal(t, '|', DetectSeparator("a|b|c|d\n"))
	// Comma wins ties, including the degenerate single-column case.
	assert.Equal(t, ',', DetectSeparator("justone\n"))
	assert.Equal(t, ',', DetectSeparator("a,b\nc;d\n1,2\n"))
}

func TestDecodeBytes(t *testing.T) {
	text, enc := DecodeBytes([]byte{0xEF, 0xBB, 0xBF, 'h', 'i'})
	assert.Equal(t, "hi", text)
	assert.Equal(t, "utf-8-sig", enc)

	text, enc = DecodeBytes([]byte("plain"))
	assert.Equal(t, "plain", text)
	assert.Equal(t, "utf-8", enc)

	// 0xF1 is ñ in Windows-1252/Latin-1 and invalid as standalone UTF-8.
	text, enc = DecodeBytes([]byte{'n', 0xF1, 'a'})
	assert.Equal(t, "nña", text)
	assert.Equal(t, "windows-1252", enc)
}

func TestStripTrailingDecimal(t *testing.T) {
	assert.Equal(t, "12345", stripTrailingDecimal("12345.0"))
	assert.Equal(t, "12345", stripTrailingDecimal(" 12345.0 "))
	assert.Equal(t, "12.30", stripTrailingDecimal("12.30"))
	assert.Equal(t, "abc.0", stripTrailingDecimal("abc.0"))
	assert.Equal(t, ".0", stripTrailingDecimal(".0"))
}
