package filter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"flexreport/internal/csvio"
	"flexreport/internal/domain"
)

// ListKind names a server-side identifier list.
type ListKind string

const (
	ListSKUHijo  ListKind = "sku_hijo"
	ListSKUPadre ListKind = "sku_padre"
	ListTicket   ListKind = "ticket"
)

// ParseListKind validates a kind string from the API.
func ParseListKind(s string) (ListKind, error) {
	switch ListKind(s) {
	case ListSKUHijo, ListSKUPadre, ListTicket:
		return ListKind(s), nil
	}
	return "", domain.ErrValidation("unknown identifier list kind %q", s)
}

// ListStore holds the uploaded identifier lists. Requests with the
// matching use-file flag union the stored list with their manual one.
type ListStore struct {
	mu    sync.RWMutex
	lists map[ListKind][]string
}

// NewListStore creates an empty store.
func NewListStore() *ListStore {
	return &ListStore{lists: make(map[ListKind][]string)}
}

// Set replaces one list.
func (s *ListStore) Set(kind ListKind, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[kind] = append([]string(nil), values...)
}

// Get returns one list, possibly empty.
func (s *ListStore) Get(kind ListKind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.lists[kind]...)
}

// Clear empties one list.
func (s *ListStore) Clear(kind ListKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, kind)
}

// ParseIdentifierFile extracts the first column of an uploaded file into a
// trimmed, de-duplicated identifier list. Supports .xlsx plus CSV and plain
// text.
func ParseIdentifierFile(filename string, data []byte) ([]string, error) {
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return parseXLSXColumn(data)
	}
	return parseTextColumn(data)
}

func parseXLSXColumn(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			values = append(values, row[0])
		}
	}
	return dedupeTrimmed(values), nil
}

func parseTextColumn(data []byte) ([]string, error) {
	// Identifier files have no mandated header row, so every record's
	// first cell is part of the list, preserved as written.
	text, _ := csvio.DecodeBytes(data)
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = csvio.DetectSeparator(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse identifier file: %w", err)
	}
	values := make([]string, 0, len(records))
	for _, rec := range records {
		if len(rec) > 0 {
			values = append(values, rec[0])
		}
	}
	return dedupeTrimmed(values), nil
}

func dedupeTrimmed(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
