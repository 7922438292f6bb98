package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"flexreport/internal/domain"
	"flexreport/internal/loader"
)

// Service applies filter requests against the loaded table.
type Service struct {
	lists  *ListStore
	logger *slog.Logger
}

// NewService creates the filter service.
func NewService(lists *ListStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{lists: lists, logger: logger.With("component", "filter")}
}

// Lists exposes the identifier list store.
func (s *Service) Lists() *ListStore { return s.lists }

// prepared carries everything derived from one request before querying.
type prepared struct {
	pred domain.Predicate

	hijoIDs   []string
	padreIDs  []string
	ticketIDs []string
	terms     []string

	hijoCol        string
	padreCol       string
	ticketCol      string
	lineamientoCol string
	priorityCol    string

	outputCols []string
}

// Apply runs a filter request and returns one page of results plus
// diagnostics. An empty loaded table yields a well-formed empty result.
func (s *Service) Apply(ctx context.Context, sess *loader.Session, req *domain.FilterRequest) (*domain.FilterResult, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 1
	}

	prep, err := s.prepare(ctx, sess, req)
	if err != nil {
		return nil, err
	}

	result := &domain.FilterResult{
		Data:                 []map[string]string{},
		ColumnsInData:        prep.outputCols,
		Page:                 page,
		PageSize:             pageSize,
		SKUsNotFoundHijo:     []string{},
		SKUsNotFoundPadre:    []string{},
		TicketsNotFound:      []string{},
		LineamientosNotFound: []string{},
		HasPriorityColumn:    prep.priorityCol != "",
	}

	count, err := sess.Engine.Count(ctx, prep.pred)
	if err != nil {
		return nil, fmt.Errorf("count filtered rows: %w", err)
	}
	result.RowCountFiltered = count

	if err := s.fillDiagnostics(ctx, sess, prep, result); err != nil {
		return nil, err
	}

	// The priority column rides along in the selection so page tags can be
	// computed without a second query, then stays out of the row maps
	// unless it was requested.
	selectCols, _ := withPriority(prep.outputCols, prep.priorityCol)
	offset := (page - 1) * pageSize
	pageTable, err := sess.Engine.Select(ctx, prep.pred, selectCols, offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("select page: %w", err)
	}

	for _, row := range pageTable.Rows {
		m := make(map[string]string, len(prep.outputCols))
		for i, col := range prep.outputCols {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		result.Data = append(result.Data, m)
	}

	if prep.priorityCol != "" {
		info, err := s.priorityInfo(ctx, sess, prep, pageTable)
		if err != nil {
			return nil, err
		}
		result.PriorityInfo = info
	}
	return result, nil
}

// Collect runs a filter request without pagination and returns the full
// projected result set, per-row priority tags aligned with the rows (nil
// when no priority column exists), and the aggregate counts. Exports use
// this so their content matches the paged view exactly.
func (s *Service) Collect(ctx context.Context, sess *loader.Session, req *domain.FilterRequest) (*domain.Table, []string, map[string]int, error) {
	prep, err := s.prepare(ctx, sess, req)
	if err != nil {
		return nil, nil, nil, err
	}

	selectCols, stripPriority := withPriority(prep.outputCols, prep.priorityCol)
	full, err := sess.Engine.Select(ctx, prep.pred, selectCols, 0, 0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("select filtered rows: %w", err)
	}

	var tags []string
	var counts map[string]int
	if prep.priorityCol != "" {
		pi := full.ColIndex(prep.priorityCol)
		tags = make([]string, len(full.Rows))
		counts = newPriorityCounts()
		for i, row := range full.Rows {
			tag := ""
			if pi >= 0 && pi < len(row) {
				tag = strings.ToUpper(strings.TrimSpace(row[pi]))
			}
			tags[i] = tag
			counts[priorityBucket(tag)]++
		}
	}

	if stripPriority {
		full = full.Project(prep.outputCols)
	}
	return full, tags, counts, nil
}

// prepare resolves columns, assembles identifier lists, and builds the
// predicate for one request.
func (s *Service) prepare(ctx context.Context, sess *loader.Session, req *domain.FilterRequest) (*prepared, error) {
	cols := sess.Columns
	prep := &prepared{
		hijoCol:        resolveCandidate(cols, skuHijoCandidates),
		padreCol:       resolveCandidate(cols, skuPadreCandidates),
		ticketCol:      resolveFold(cols, ticketColumn),
		lineamientoCol: resolveFold(cols, lineamientoColumn),
		priorityCol:    resolveCandidate(cols, priorityCandidates),
	}

	// Output projection: requested columns that exist, else all.
	if len(req.Columns) > 0 {
		for _, c := range req.Columns {
			if actual := resolveFold(cols, strings.TrimSpace(c)); actual != "" {
				prep.outputCols = append(prep.outputCols, actual)
			}
		}
	}
	if len(prep.outputCols) == 0 {
		prep.outputCols = append([]string(nil), cols...)
	}

	// Column-value filters. A column missing from the table is skipped.
	for col, values := range req.ValueFilters {
		if len(values) == 0 {
			continue
		}
		actual := resolveFold(cols, col)
		if actual == "" {
			s.logger.Warn("value filter column not in table, skipping", "column", col)
			continue
		}
		mapped := make([]string, len(values))
		for i, v := range values {
			if v == domain.EmptyValueSentinel {
				mapped[i] = ""
			} else {
				mapped[i] = v
			}
		}
		prep.pred.And(domain.ValueIn{Column: actual, Values: mapped})
	}

	// Child SKU filter, optionally extended to sibling rows sharing the
	// same (parent, color).
	prep.hijoIDs = s.unionList(req.UseSKUHijoFile, ListSKUHijo, req.SKUHijoManualList, false)
	if len(prep.hijoIDs) > 0 {
		switch {
		case prep.hijoCol == "":
			s.logger.Warn("no child SKU column found, reporting all requested SKUs as not found")
		case req.ExtendSKUHijo && prep.padreCol != "" && resolveCandidate(cols, colorCandidates) != "":
			colorCol := resolveCandidate(cols, colorCandidates)
			if err := s.extendHijo(ctx, sess, prep, colorCol); err != nil {
				return nil, err
			}
		default:
			prep.pred.And(domain.KeyIn{Column: prep.hijoCol, Values: prep.hijoIDs})
		}
	}

	// Parent SKU filter, no expansion.
	prep.padreIDs = s.unionList(req.UseSKUPadreFile, ListSKUPadre, req.SKUPadreManualList, false)
	if len(prep.padreIDs) > 0 {
		if prep.padreCol == "" {
			s.logger.Warn("no parent SKU column found, reporting all requested SKUs as not found")
		} else {
			prep.pred.And(domain.KeyIn{Column: prep.padreCol, Values: prep.padreIDs})
		}
	}

	// Ticket filter: case-insensitive exact.
	prep.ticketIDs = s.unionList(req.UseTicketFile, ListTicket, req.TicketManualList, true)
	if len(prep.ticketIDs) > 0 {
		if prep.ticketCol == "" {
			s.logger.Warn("ticket column not in table, reporting all requested tickets as not found")
		} else {
			prep.pred.And(domain.InFold{Column: prep.ticketCol, Values: prep.ticketIDs})
		}
	}

	// Lineamiento filter: case-insensitive substring.
	prep.terms = cleanList(req.LineamientoList)
	if len(prep.terms) > 0 {
		if prep.lineamientoCol == "" {
			s.logger.Warn("lineamiento column not in table, reporting all requested terms as not found")
		} else {
			prep.pred.And(domain.ContainsFold{Column: prep.lineamientoCol, Terms: prep.terms})
		}
	}

	// Custom per-column exact text filters.
	for col, terms := range req.TextFilters {
		cleaned := cleanList(terms)
		if len(cleaned) == 0 {
			continue
		}
		actual := resolveFold(cols, col)
		if actual == "" {
			s.logger.Warn("text filter column not in table, skipping", "column", col)
			continue
		}
		prep.pred.And(domain.InFold{Column: actual, Values: cleaned})
	}

	return prep, nil
}

// extendHijo expands the child SKU filter to all rows sharing a matching
// (parent, color) pair. Pairs whose color is nullish instead match on
// parent alone with a nullish color. No pairs at all means the filter
// matches nothing, never everything.
func (s *Service) extendHijo(ctx context.Context, sess *loader.Session, prep *prepared, colorCol string) error {
	pairs, err := sess.Engine.DistinctPairs(ctx, prep.padreCol, colorCol, prep.hijoCol, prep.hijoIDs)
	if err != nil {
		return fmt.Errorf("collect parent/color pairs: %w", err)
	}

	cond := domain.ParentColor{ParentColumn: prep.padreCol, ColorColumn: colorCol}
	seenOrphan := make(map[string]bool)
	for _, pair := range pairs {
		if domain.IsNullish(pair[1]) {
			if !seenOrphan[pair[0]] {
				seenOrphan[pair[0]] = true
				cond.OrphanParents = append(cond.OrphanParents, pair[0])
			}
			continue
		}
		cond.Pairs = append(cond.Pairs, pair)
	}

	if len(cond.Pairs) == 0 && len(cond.OrphanParents) == 0 {
		prep.pred.And(domain.MatchNone{})
		return nil
	}
	prep.pred.And(cond)
	return nil
}

// fillDiagnostics computes the not-found lists against the filtered result
// set: an identifier is not found when it appears in no filtered row, which
// distinguishes a bad combination with other filters from genuine absence.
func (s *Service) fillDiagnostics(ctx context.Context, sess *loader.Session, prep *prepared, result *domain.FilterResult) error {
	if len(prep.hijoIDs) > 0 {
		if prep.hijoCol == "" {
			result.SKUsNotFoundHijo = sortedCopy(prep.hijoIDs)
		} else {
			matched, err := sess.Engine.MatchedKeys(ctx, prep.pred, prep.hijoCol, prep.hijoIDs, false)
			if err != nil {
				return fmt.Errorf("child SKU diagnostics: %w", err)
			}
			result.SKUsNotFoundHijo = sortedDiff(prep.hijoIDs, matched)
		}
	}
	if len(prep.padreIDs) > 0 {
		if prep.padreCol == "" {
			result.SKUsNotFoundPadre = sortedCopy(prep.padreIDs)
		} else {
			matched, err := sess.Engine.MatchedKeys(ctx, prep.pred, prep.padreCol, prep.padreIDs, false)
			if err != nil {
				return fmt.Errorf("parent SKU diagnostics: %w", err)
			}
			result.SKUsNotFoundPadre = sortedDiff(prep.padreIDs, matched)
		}
	}
	if len(prep.ticketIDs) > 0 {
		if prep.ticketCol == "" {
			result.TicketsNotFound = sortedCopy(prep.ticketIDs)
		} else {
			matched, err := sess.Engine.MatchedKeys(ctx, prep.pred, prep.ticketCol, prep.ticketIDs, true)
			if err != nil {
				return fmt.Errorf("ticket diagnostics: %w", err)
			}
			result.TicketsNotFound = sortedDiff(prep.ticketIDs, matched)
		}
	}
	if len(prep.terms) > 0 {
		if prep.lineamientoCol == "" {
			result.LineamientosNotFound = sortedCopy(prep.terms)
		} else {
			matched, err := sess.Engine.MatchedTerms(ctx, prep.pred, prep.lineamientoCol, prep.terms)
			if err != nil {
				return fmt.Errorf("lineamiento diagnostics: %w", err)
			}
			result.LineamientosNotFound = sortedDiff(prep.terms, matched)
		}
	}
	return nil
}

// priorityInfo builds the per-page tags and whole-set counts.
func (s *Service) priorityInfo(ctx context.Context, sess *loader.Session, prep *prepared, pageTable *domain.Table) (*domain.PriorityInfo, error) {
	values, err := sess.Engine.ColumnValues(ctx, prep.pred, prep.priorityCol)
	if err != nil {
		return nil, fmt.Errorf("priority counts: %w", err)
	}
	counts := newPriorityCounts()
	for _, v := range values {
		counts[priorityBucket(strings.ToUpper(strings.TrimSpace(v)))]++
	}

	info := &domain.PriorityInfo{
		Column:  prep.priorityCol,
		RowTags: make(map[string]string, len(pageTable.Rows)),
		Counts:  counts,
	}
	pi := pageTable.ColIndex(prep.priorityCol)
	for i, row := range pageTable.Rows {
		tag := ""
		if pi >= 0 && pi < len(row) {
			tag = strings.ToUpper(strings.TrimSpace(row[pi]))
		}
		info.RowTags[strconv.Itoa(i)] = tag
	}
	return info, nil
}

// unionList merges the stored file list (when enabled) with the manual
// list, trimming and de-duplicating. fold lowercases, for ticket matching.
func (s *Service) unionList(useFile bool, kind ListKind, manual []string, fold bool) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(manual))
	add := func(values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if fold {
				v = strings.ToLower(v)
			}
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	if useFile {
		add(s.lists.Get(kind))
	}
	add(manual)
	return out
}

// withPriority appends the priority column to a projection when absent.
func withPriority(outputCols []string, priorityCol string) (selectCols []string, appended bool) {
	if priorityCol == "" {
		return outputCols, false
	}
	for _, c := range outputCols {
		if c == priorityCol {
			return outputCols, false
		}
	}
	return append(append([]string(nil), outputCols...), priorityCol), true
}

func newPriorityCounts() map[string]int {
	return map[string]int{
		"PRIORIDAD_1": 0,
		"PRIORIDAD_2": 0,
		"PRIORIDAD_3": 0,
		"other":       0,
	}
}

// priorityBucket maps an upper-cased tag to its count bucket. Both Spanish
// and English spellings land in the same bucket.
func priorityBucket(tag string) string {
	switch tag {
	case "PRIORIDAD_1", "PRIORITY_1":
		return "PRIORIDAD_1"
	case "PRIORIDAD_2", "PRIORITY_2":
		return "PRIORIDAD_2"
	case "PRIORIDAD_3", "PRIORITY_3":
		return "PRIORIDAD_3"
	default:
		return "other"
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func sortedDiff(all, matched []string) []string {
	have := make(map[string]bool, len(matched))
	for _, m := range matched {
		have[m] = true
	}
	out := make([]string, 0)
	for _, v := range all {
		if !have[v] {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
