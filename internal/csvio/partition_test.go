package csvio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexreport/internal/domain"
)

func writeShard(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestReadPartitionedConcatenatesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "part-002.csv", "sku,depto\n3,C\n")
	writeShard(t, dir, "part-001.csv", "sku,depto\n1,A\n2,B\n")
	writeShard(t, dir, "ignored.txt", "not,a,shard\n")

	table, err := ReadPartitioned(dir, "part-*.csv", nil, "test", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sku", "depto"}, table.Columns)
	assert.Equal(t, []string{"1", "2", "3"}, table.Column("sku"))
}

func TestReadPartitionedSchemaMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "part-001.csv", "sku,depto\n1,A\n")
	writeShard(t, dir, "part-002.csv", "sku,categoria\n2,B\n")

	_, err := ReadPartitioned(dir, "part-*.csv", nil, "test", nil)
	var mismatch *domain.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "part-002.csv", mismatch.File)
	assert.Equal(t, []string{"depto"}, mismatch.Missing)
	assert.Equal(t, []string{"categoria"}, mismatch.Extra)
}

func TestReadPartitionedSkipsUnreadableShard(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "part-001.csv", "sku,depto\n1,A\n")
	// A directory matching the glob cannot be read as a file and is skipped.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "part-002.csv"), 0o755))

	table, err := ReadPartitioned(dir, "part-*.csv", nil, "test", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, table.RowCount())
}

func TestReadPartitionedMissingDir(t *testing.T) {
	_, err := ReadPartitioned(filepath.Join(t.TempDir(), "nope"), "*.csv", nil, "test", nil)
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestReadPartitionedNoMatches(t *testing.T) {
	_, err := ReadPartitioned(t.TempDir(), "*.csv", nil, "test", nil)
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestReadPartitionedNoUsableShards(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "part-001.csv"), 0o755))

	_, err := ReadPartitioned(dir, "part-*.csv", nil, "test", nil)
	var empty *domain.EmptyResultError
	assert.True(t, errors.As(err, &empty))
}
