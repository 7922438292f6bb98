// Package filter turns structured filter requests into query-engine
// predicates, computes not-found diagnostics and priority metadata, and
// paginates results.
package filter

import "strings"

// Ordered candidate spellings for the identifier columns. Exact matches win
// over fuzzy ones, and earlier candidates win over later ones.
var (
	skuHijoCandidates  = []string{"ean_hijo", "sku_hijo", "sku_hijo_largo"}
	skuPadreCandidates = []string{"ean_padre", "sku_padre", "sku_padre_largo"}
	colorCandidates    = []string{"color"}
	priorityCandidates = []string{"prioridad", "priority"}
)

const (
	ticketColumn      = "ticket"
	lineamientoColumn = "asunto_lineamientos"
)

// resolveCandidate finds the first candidate present in columns, first by
// case-insensitive equality, then ignoring case, underscores, hyphens and
// spaces. Returns the actual column name, or "".
func resolveCandidate(columns []string, candidates []string) string {
	for _, cand := range candidates {
		for _, col := range columns {
			if strings.EqualFold(col, cand) {
				return col
			}
		}
	}
	for _, cand := range candidates {
		squashed := squash(cand)
		for _, col := range columns {
			if squash(col) == squashed {
				return col
			}
		}
	}
	return ""
}

// resolveFold finds a column by case-insensitive name. Returns the actual
// column name, or "".
func resolveFold(columns []string, name string) string {
	for _, col := range columns {
		if strings.EqualFold(col, name) {
			return col
		}
	}
	return ""
}

func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case '_', '-', ' ':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
