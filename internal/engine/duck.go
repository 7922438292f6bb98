package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the duckdb driver

	"flexreport/internal/domain"
)

var _ Engine = (*DuckEngine)(nil)

// seqColumn preserves load order. DuckDB gives no ordering guarantee
// without an ORDER BY, and pagination must be stable across requests.
const seqColumn = "__seq"

// nullishList is the SQL-side twin of domain.IsNullish. The two must stay
// in sync or the engines diverge on the extend-SKU orphan case.
const nullishList = `('', 'nan', 'none', 'null', 'nat', '<na>')`

// DuckEngine evaluates predicates by compiling them to SQL over an
// in-memory DuckDB table named data.
type DuckEngine struct {
	db      *sql.DB
	columns []string
}

// NewDuckEngine opens an in-memory DuckDB instance.
func NewDuckEngine() (*DuckEngine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &DuckEngine{db: db}, nil
}

// Close releases the DuckDB instance.
func (e *DuckEngine) Close() error { return e.db.Close() }

// Columns returns the loaded column names.
func (e *DuckEngine) Columns() []string { return append([]string(nil), e.columns...) }

// Replace drops the previous table and loads t.
func (e *DuckEngine) Replace(ctx context.Context, t *domain.Table) error {
	if _, err := e.db.ExecContext(ctx, `DROP TABLE IF EXISTS data`); err != nil {
		return fmt.Errorf("drop data table: %w", err)
	}

	defs := make([]string, 0, len(t.Columns)+1)
	defs = append(defs, quoteIdent(seqColumn)+" BIGINT")
	for _, c := range t.Columns {
		defs = append(defs, quoteIdent(c)+" VARCHAR")
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE data (%s)`, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create data table: %w", err)
	}

	cols := len(t.Columns) + 1
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

		ph := strings.TrimSuffix(strings.Repeat(single+",", len(chunk)), ",")
		args := make([]any, 0, len(chunk)*cols)
		for i, row := range chunk {
			args = append(args, int64(start+i))
			for j := 0; j < len(t.Columns); j++ {
				if j < len(row) {
					args = append(args, row[j])
				} else {
					args = append(args, "")
				}
			}
		}
		if _, err := e.db.ExecContext(ctx, `INSERT INTO data VALUES `+ph, args...); err != nil {
			return fmt.Errorf("populate data table: %w", err)
		}
	}

	e.columns = append([]string(nil), t.Columns...)
	return nil
}

// Count returns the number of rows matching p.
func (e *DuckEngine) Count(ctx context.Context, p domain.Predicate) (int, error) {
	where, args := buildWhere(p)
	var n int
	err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`+where, args...).Scan(&n)
	return n, err
}

// Select returns matching rows projected to columns, in load order.
func (e *DuckEngine) Select(ctx context.Context, p domain.Predicate, columns []string, offset, limit int) (*domain.Table, error) {
	if len(columns) == 0 {
		columns = e.columns
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}

	where, args := buildWhere(p)
	q := fmt.Sprintf(`SELECT %s FROM data%s ORDER BY %s`, strings.Join(quoted, ", "), where, quoteIdent(seqColumn))
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	table := domain.NewTable(append([]string(nil), columns...))
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

// DistinctValues returns the sorted distinct non-nullish values of column.
func (e *DuckEngine) DistinctValues(ctx context.Context, column string, limit int) ([]string, bool, error) {
	q := fmt.Sprintf(
		`SELECT DISTINCT %[1]s FROM data WHERE coalesce(lower(trim(%[1]s)), '') NOT IN %[2]s ORDER BY 1 LIMIT %[3]d`,
		quoteIdent(column), nullishList, limit+1,
	)
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close() //nolint:errcheck

	values := make([]string, 0, 64)
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, false, err
		}
		if v.Valid {
			values = append(values, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(values) > limit {
		return nil, false, nil
	}
	return values, true, nil
}

// ColumnValues returns the column's values for every row matching p.
func (e *DuckEngine) ColumnValues(ctx context.Context, p domain.Predicate, column string) ([]string, error) {
	where, args := buildWhere(p)
	q := fmt.Sprintf(`SELECT %s FROM data%s ORDER BY %s`, quoteIdent(column), where, quoteIdent(seqColumn))

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	values := make([]string, 0, 64)
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v.String)
	}
	return values, rows.Err()
}

// MatchedKeys reports which keys appear among the trimmed column values of
// rows matching p.
func (e *DuckEngine) MatchedKeys(ctx context.Context, p domain.Predicate, column string, keys []string, fold bool) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	expr := fmt.Sprintf("trim(%s)", quoteIdent(column))
	if fold {
		expr = "upper(" + expr + ")"
	}

	where, args := buildWhere(p)
	conj := " WHERE "
	if where != "" {
		conj = where + " AND "
	}
	q := fmt.Sprintf(`SELECT DISTINCT %s FROM data%s%s IN (%s)`, expr, conj, expr, placeholders(len(keys)))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if fold {
			k = strings.ToUpper(k)
		}
		args = append(args, k)
	}

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	found := make(map[string]bool, len(keys))
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			found[v.String] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	matched := make([]string, 0, len(keys))
	for _, k := range keys {
		probe := strings.TrimSpace(k)
		if fold {
			probe = strings.ToUpper(probe)
		}
		if found[probe] {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// MatchedTerms reports which terms appear as case-insensitive substrings of
// column over rows matching p.
func (e *DuckEngine) MatchedTerms(ctx context.Context, p domain.Predicate, column string, terms []string) ([]string, error) {
	matched := make([]string, 0, len(terms))
	for _, term := range terms {
		where, args := buildWhere(p)
		conj := " WHERE "
		if where != "" {
			conj = where + " AND "
		}
		q := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM data%scontains(lower(%s), ?))`, conj, quoteIdent(column))
		args = append(args, strings.ToLower(strings.TrimSpace(term)))

		var exists bool
		if err := e.db.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			matched = append(matched, term)
		}
	}
	return matched, nil
}

// DistinctPairs returns the distinct (trimmed parent, trimmed color) pairs
// of rows whose trimmed child value is in children.
func (e *DuckEngine) DistinctPairs(ctx context.Context, parentCol, colorCol, childCol string, children []string) ([][2]string, error) {
	if len(children) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(
		`SELECT DISTINCT trim(%s), trim(%s) FROM data WHERE trim(%s) IN (%s)`,
		quoteIdent(parentCol), quoteIdent(colorCol), quoteIdent(childCol), placeholders(len(children)),
	)
	args := make([]any, len(children))
	for i, c := range children {
		args[i] = strings.TrimSpace(c)
	}

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	pairs := make([][2]string, 0, len(children))
	for rows.Next() {
		var parent, color sql.NullString
		if err := rows.Scan(&parent, &color); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{parent.String, color.String})
	}
	return pairs, rows.Err()
}

// buildWhere compiles a predicate to a WHERE clause with bound arguments.
// An empty predicate yields an empty clause.
func buildWhere(p domain.Predicate) (string, []any) {
	if p.Empty() {
		return "", nil
	}
	parts := make([]string, 0, len(p.Conds))
	args := make([]any, 0, 8)
	for _, cond := range p.Conds {
		sqlPart, condArgs := condSQL(cond)
		parts = append(parts, sqlPart)
		args = append(args, condArgs...)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func condSQL(cond domain.Condition) (string, []any) {
	switch c := cond.(type) {
	case domain.ValueIn:
		if len(c.Values) == 0 {
			return "1=0", nil
		}
		args := make([]any, len(c.Values))
		for i, v := range c.Values {
			args[i] = v
		}
		return fmt.Sprintf("coalesce(trim(%s), '') IN (%s)", quoteIdent(c.Column), placeholders(len(c.Values))), args

	case domain.KeyIn:
		if len(c.Values) == 0 {
			return "1=0", nil
		}
		args := make([]any, len(c.Values))
		for i, v := range c.Values {
			args[i] = strings.TrimSpace(v)
		}
		return fmt.Sprintf("trim(%s) IN (%s)", quoteIdent(c.Column), placeholders(len(c.Values))), args

	case domain.InFold:
		if len(c.Values) == 0 {
			return "1=0", nil
		}
		args := make([]any, len(c.Values))
		for i, v := range c.Values {
			args[i] = strings.ToUpper(strings.TrimSpace(v))
		}
		return fmt.Sprintf("upper(trim(%s)) IN (%s)", quoteIdent(c.Column), placeholders(len(c.Values))), args

	case domain.ContainsFold:
		if len(c.Terms) == 0 {
			return "1=0", nil
		}
		parts := make([]string, len(c.Terms))
		args := make([]any, len(c.Terms))
		for i, t := range c.Terms {
			parts[i] = fmt.Sprintf("contains(lower(%s), ?)", quoteIdent(c.Column))
			args[i] = strings.ToLower(strings.TrimSpace(t))
		}
		return "(" + strings.Join(parts, " OR ") + ")", args

	case domain.ParentColor:
		var parts []string
		var args []any
		if len(c.Pairs) > 0 {
			tuples := strings.TrimSuffix(strings.Repeat("(?, ?),", len(c.Pairs)), ",")
			parts = append(parts, fmt.Sprintf("(trim(%s), trim(%s)) IN (%s)", quoteIdent(c.ParentColumn), quoteIdent(c.ColorColumn), tuples))
			for _, pair := range c.Pairs {
				args = append(args, strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1]))
			}
		}
		if len(c.OrphanParents) > 0 {
			parts = append(parts, fmt.Sprintf(
				"(trim(%s) IN (%s) AND coalesce(lower(trim(%s)), '') IN %s)",
				quoteIdent(c.ParentColumn), placeholders(len(c.OrphanParents)), quoteIdent(c.ColorColumn), nullishList,
			))
			for _, parent := range c.OrphanParents {
				args = append(args, strings.TrimSpace(parent))
			}
		}
		if len(parts) == 0 {
			return "1=0", nil
		}
		return "(" + strings.Join(parts, " OR ") + ")", args

	case domain.MatchNone:
		return "1=0", nil

	default:
		// Unknown condition types match nothing rather than everything.
		return "1=0", nil
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
