// Package csvio parses CSV extracts into tables, handling the encoding and
// separator variance of upstream exports, and reads partitioned directories
// of shard files.
package csvio

import (
	"bytes"
	"encoding/csv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"flexreport/internal/domain"
)

// ParseOptions controls how a CSV payload is turned into a table.
type ParseOptions struct {
	// Columns, when non-empty, projects the parsed table to these columns.
	// Missing columns are dropped silently.
	Columns []string
}

// Parse decodes and parses one CSV payload into a table. Column names are
// trimmed and lower-cased; every value is kept as a string. SKU and EAN
// columns get a trailing ".0" stripped, an artifact of numeric round-trips
// in upstream spreadsheet tools.
func Parse(data []byte, opts ParseOptions) (*domain.Table, error) {
	text, _ := DecodeBytes(data)
	sep := DetectSeparator(text)

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return domain.NewTable(nil), nil
	}

	header := records[0]
	columns := make([]string, len(header))
	for i, c := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(c))
	}

	table := domain.NewTable(columns)
	for _, rec := range records[1:] {
		row := make([]string, len(columns))
		for i := range columns {
			if i < len(rec) {
				row[i] = rec[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}

	fixIdentifierColumns(table)

	if len(opts.Columns) > 0 {
		table = table.Project(normalizeNames(opts.Columns))
	}
	return table, nil
}

// DecodeBytes converts raw bytes to a UTF-8 string, detecting the encoding.
// Returns the decoded text and the encoding name used.
func DecodeBytes(data []byte) (string, string) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return string(data[3:]), "utf-8-sig"
	}
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	// Windows-1252 is a superset of Latin-1 for the printable range, which
	// covers the legacy exports seen in practice.
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err == nil {
		return string(decoded), "windows-1252"
	}
	decoded, _ = charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(decoded), "latin-1"
}

// DetectSeparator picks the delimiter yielding the most columns over a
// small sample of lines. Comma wins ties.
func DetectSeparator(text string) rune {
	candidates := []rune{',', ';', '\t', '|'}
	sample := sampleLines(text, 5)

	best := ','
	bestCount := 1
	for _, cand := range candidates {
		count := 0
		for _, line := range sample {
			r := csv.NewReader(strings.NewReader(line))
			r.Comma = cand
			r.FieldsPerRecord = -1
			r.LazyQuotes = true
			rec, err := r.Read()
			if err == nil && len(rec) > count {
				count = len(rec)
			}
		}
		if count > bestCount {
			best = cand
			bestCount = count
		}
	}
	return best
}

func sampleLines(text string, n int) []string {
	lines := make([]string, 0, n)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

// fixIdentifierColumns strips a trailing ".0" from values in columns whose
// name suggests a SKU or EAN identifier.
func fixIdentifierColumns(t *domain.Table) {
	for i, col := range t.Columns {
		if !strings.Contains(col, "sku") && !strings.Contains(col, "ean") {
			continue
		}
		for _, row := range t.Rows {
			if i < len(row) {
				row[i] = stripTrailingDecimal(row[i])
			}
		}
	}
}

// stripTrailingDecimal turns "12345.0" into "12345"; anything that is not
// digits followed by ".0" is left alone.
func stripTrailingDecimal(v string) string {
	s := strings.TrimSpace(v)
	if !strings.HasSuffix(s, ".0") {
		return v
	}
	head := s[:len(s)-2]
	if head == "" {
		return v
	}
	for _, r := range head {
		if r < '0' || r > '9' {
			return v
		}
	}
	return head
}

func normalizeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(strings.TrimSpace(n))
	}
	return out
}
