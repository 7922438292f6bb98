package cache

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	_ "github.com/duckdb/duckdb-go/v2" // registers the duckdb driver

	"flexreport/internal/domain"
)

// parquetIO writes and reads cache entries as parquet through an in-memory
// DuckDB instance. Parquet is columnar, so projected reads never
// materialize unrequested columns.
type parquetIO struct {
	db *sql.DB
}

func newParquetIO() (*parquetIO, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &parquetIO{db: db}, nil
}

func (p *parquetIO) Close() error { return p.db.Close() }

func (p *parquetIO) write(path string, t *domain.Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("refusing to cache a table with no columns")
	}

	// Scratch tables get unique names so concurrent saves do not collide
	// on the shared in-memory instance.
	scratch := "cache_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	defer p.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, scratch)) //nolint:errcheck

	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = quoteIdent(c) + " VARCHAR"
	}
	if _, err := p.db.Exec(fmt.Sprintf(`CREATE TABLE %s (%s)`, scratch, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create scratch table: %w", err)
	}

	if err := insertRows(p.db, scratch, t); err != nil {
		return fmt.Errorf("populate scratch table: %w", err)
	}

	copySQL := fmt.Sprintf(`COPY %s TO %s (FORMAT PARQUET)`, scratch, quoteString(path))
	if _, err := p.db.Exec(copySQL); err != nil {
		return fmt.Errorf("copy to parquet: %w", err)
	}
	return nil
}

func (p *parquetIO) read(path string, columns []string) (*domain.Table, error) {
	sel := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = quoteIdent(c)
		}
		sel = strings.Join(quoted, ", ")
	}

	rows, err := p.db.Query(fmt.Sprintf(`SELECT %s FROM read_parquet(%s)`, sel, quoteString(path)))
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	table := domain.NewTable(cols)
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

// insertRows bulk-inserts in batches sized so the placeholder count stays
// bounded regardless of column count.
func insertRows(db *sql.DB, table string, t *domain.Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	cols := len(t.Columns)
	batch := 1000 / cols
	if batch < 1 {
		batch = 1
	}

	single := "(" + strings.TrimSuffix(strings.Repeat("?,", cols), ",") + ")"
	for start := 0; start < len(t.Rows); start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		chunk := t.Rows[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat(single+",", len(chunk)), ",")
		args := make([]any, 0, len(chunk)*cols)
		for _, row := range chunk {
			for i := 0; i < cols; i++ {
				if i < len(row) {
					args = append(args, row[i])
				} else {
					args = append(args, "")
				}
			}
		}
		if _, err := db.Exec(fmt.Sprintf(`INSERT INTO %s VALUES %s`, table, placeholders), args...); err != nil {
			return err
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
