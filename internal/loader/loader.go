// Package loader turns a registered source name into a ready-to-query
// table: it applies the cache decision, fetches and normalizes data,
// enriches it from secondary sources, populates the query engine, and
// computes the filter option lists.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"flexreport/internal/cache"
	"flexreport/internal/config"
	"flexreport/internal/csvio"
	"flexreport/internal/domain"
	"flexreport/internal/engine"
	"flexreport/internal/fetch"
	"flexreport/internal/progress"
)

// optionWorkers bounds the goroutines computing filter options.
const optionWorkers = 4

// Session is a consistent read view of the currently loaded table. It is
// only valid inside a WithSession callback.
type Session struct {
	Engine   engine.Engine
	Source   *domain.Source
	Columns  []string
	RowCount int
}

// Loader owns the current table singleton and the load pipeline.
type Loader struct {
	registry      *config.Registry
	fetchers      *fetch.Dispatcher
	cache         *cache.Cache
	broadcaster   *progress.Broadcaster
	prefs         *PrefStore
	logger        *slog.Logger
	engineFactory func() engine.Engine

	fetchTimeout time.Duration
	probeTimeout time.Duration
	optionLimit  int

	// loadGate bounds concurrent loads; filters and exports only take the
	// session read lock.
	loadGate *semaphore.Weighted

	mu       sync.RWMutex
	eng      engine.Engine
	current  *domain.Source
	columns  []string
	rowCount int
}

// New creates a loader. engineFactory produces a fresh engine per load;
// pass nil to use the default DuckDB-with-fallback factory.
func New(cfg *config.Config, registry *config.Registry, fetchers *fetch.Dispatcher, c *cache.Cache, b *progress.Broadcaster, prefs *PrefStore, logger *slog.Logger, engineFactory func() engine.Engine) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "loader")
	if engineFactory == nil {
		engineFactory = func() engine.Engine { return engine.New(logger) }
	}
	return &Loader{
		registry:      registry,
		fetchers:      fetchers,
		cache:         c,
		broadcaster:   b,
		prefs:         prefs,
		logger:        logger,
		engineFactory: engineFactory,
		fetchTimeout:  cfg.FetchTimeout,
		probeTimeout:  cfg.ProbeTimeout,
		optionLimit:   cfg.FilterOptionLimit,
		loadGate:      semaphore.NewWeighted(int64(cfg.LoadWorkers)),
	}
}

// Close releases the current engine.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eng != nil {
		err := l.eng.Close()
		l.eng = nil
		return err
	}
	return nil
}

// WithSession runs fn with a consistent read view of the loaded table. The
// table cannot be replaced while fn runs.
func (l *Loader) WithSession(fn func(s *Session) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.eng == nil {
		return domain.ErrValidation("no table is loaded")
	}
	return fn(&Session{
		Engine:   l.eng,
		Source:   l.current,
		Columns:  append([]string(nil), l.columns...),
		RowCount: l.rowCount,
	})
}

// Load loads a source by name, honoring the cache decision.
func (l *Loader) Load(ctx context.Context, name string, columns []string) (*domain.LoadResult, error) {
	return l.load(ctx, name, columns, false)
}

// Refresh loads a source, unconditionally discarding any cache entry first.
func (l *Loader) Refresh(ctx context.Context, name string, columns []string) (*domain.LoadResult, error) {
	return l.load(ctx, name, columns, true)
}

func (l *Loader) load(ctx context.Context, name string, columns []string, force bool) (*domain.LoadResult, error) {
	if err := l.loadGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.loadGate.Release(1)

	src, ok := l.registry.Lookup(name)
	if !ok {
		return nil, domain.ErrNotFound("source %q is not registered", name)
	}

	start := time.Now()
	tracker := l.broadcaster.Tracker(src.DisplayName)
	explicit := len(columns) > 0
	columns = l.resolveColumns(src, columns)

	tracker.Report("cache_check", 5, "checking cache")
	decision, info := l.decide(ctx, src, force)

	var table *domain.Table
	fromCache := false
	if decision == domain.DecisionUsingCache {
		table = l.cache.Load(src.DisplayName, columns)
		if table != nil {
			fromCache = true
			tracker.Report("cache_read", 60, "loaded from cache")
		} else {
			// Corruption detected after the decision; fall through to a
			// fresh fetch rather than failing the load.
			decision = domain.DecisionDownloadingFresh
			info.Message = strings.TrimSpace(info.Message + "; cache entry unreadable, fetching fresh")
			l.logger.Warn("cache entry unreadable after using_cache decision", "source", src.DisplayName)
		}
	}

	if table == nil {
		fresh, err := l.obtain(ctx, src, columns, tracker, map[string]bool{})
		if err != nil {
			return nil, err
		}
		table = fresh

		if src.Cacheable {
			tracker.Report("caching", 85, "writing cache")
			l.cache.Save(src.DisplayName, table, src.Location, l.bestEffortStamp(ctx, src))
		}
	}

	tracker.Report("finalizing", 90, "populating query engine")
	eng := l.engineFactory()
	if err := eng.Replace(ctx, table); err != nil {
		eng.Close() //nolint:errcheck
		return nil, fmt.Errorf("populate query engine: %w", err)
	}

	options := l.filterOptions(ctx, eng, src, table)

	l.mu.Lock()
	if l.eng != nil {
		l.eng.Close() //nolint:errcheck
	}
	l.eng = eng
	l.current = src
	l.columns = append([]string(nil), table.Columns...)
	l.rowCount = table.RowCount()
	l.mu.Unlock()

	if explicit && l.prefs != nil {
		l.prefs.Set(src.DisplayName, columns)
	}

	elapsed := time.Since(start).Seconds()
	message := fmt.Sprintf("loaded %d rows from %s", table.RowCount(), src.DisplayName)
	if table.RowCount() == 0 {
		message = fmt.Sprintf("source %s loaded successfully but contains no rows", src.DisplayName)
	}
	tracker.Report("done", 100, message)
	l.logger.Info("load complete",
		"source", src.DisplayName,
		"rows", table.RowCount(),
		"columns", len(table.Columns),
		"from_cache", fromCache,
		"decision", decision,
		"elapsed_s", elapsed,
	)

	return &domain.LoadResult{
		Message:         message,
		RowCount:        table.RowCount(),
		Columns:         append([]string(nil), table.Columns...),
		FilterOptions:   options,
		SourceType:      src.Type,
		FromCache:       fromCache,
		LoadTimeSeconds: elapsed,
		CacheDecision:   decision,
		CacheInfo:       info,
	}, nil
}

// resolveColumns applies the projection precedence: explicit caller list,
// recorded preference, configured default, all columns.
func (l *Loader) resolveColumns(src *domain.Source, columns []string) []string {
	if len(columns) > 0 {
		return normalizeColumns(columns)
	}
	if l.prefs != nil {
		if pref := l.prefs.Get(src.DisplayName); len(pref) > 0 {
			return normalizeColumns(pref)
		}
	}
	if len(src.Filter.DefaultColumns) > 0 {
		return normalizeColumns(src.Filter.DefaultColumns)
	}
	return nil
}

// decide evaluates the cache state machine for one load request.
func (l *Loader) decide(ctx context.Context, src *domain.Source, force bool) (domain.CacheDecision, domain.CacheInfo) {
	name := src.DisplayName

	if force {
		l.cache.Clear(name)
		return domain.DecisionDownloadingFresh, domain.CacheInfo{
			Status:  domain.CacheStatusNotCached,
			Message: "forced refresh, cache cleared",
		}
	}
	if !src.Cacheable {
		return domain.DecisionNoCache, domain.CacheInfo{
			Status:  domain.CacheStatusNotCached,
			Message: "source is not cacheable",
		}
	}
	if !l.cache.Has(name) {
		return domain.DecisionNoCache, domain.CacheInfo{
			Status:  domain.CacheStatusNotCached,
			Message: "no cache entry",
		}
	}
	if l.cache.Expired(name) {
		l.cache.Clear(name)
		return domain.DecisionDownloadingFresh, domain.CacheInfo{
			Status:  domain.CacheStatusExpiredByAge,
			Message: "cache entry exceeded maximum age",
		}
	}

	if src.Type.Verifiable() {
		check := l.cache.CheckRemoteUpdate(ctx, name, l.probeFunc(src))
		switch {
		case check.Error != "":
			l.logger.Warn("remote verification failed, using cache", "source", name, "error", check.Error)
			return domain.DecisionUsingCache, domain.CacheInfo{
				Status:  domain.CacheStatusVerificationFailed,
				Message: check.Error,
			}
		case check.UpdateAvailable:
			l.cache.Clear(name)
			return domain.DecisionDownloadingFresh, domain.CacheInfo{
				Verified: true,
				Status:   domain.CacheStatusVerifiedStale,
				Message:  check.Reason,
			}
		default:
			return domain.DecisionUsingCache, domain.CacheInfo{
				Verified: true,
				Status:   domain.CacheStatusVerifiedFresh,
				Message:  check.Reason,
			}
		}
	}

	return domain.DecisionUsingCache, domain.CacheInfo{
		Status:  domain.CacheStatusUnverified,
		Message: "source type does not support remote verification",
	}
}

// probeFunc returns the staleness probe for a source.
func (l *Loader) probeFunc(src *domain.Source) func(context.Context) (domain.RemoteStamp, error) {
	return func(ctx context.Context) (domain.RemoteStamp, error) {
		ctx, cancel := context.WithTimeout(ctx, l.probeTimeout)
		defer cancel()
		if src.Type == domain.SourcePartitionedDir {
			return fetch.ProbeDir(src.Location, src.FilePattern)
		}
		fetcher, err := l.fetchers.Resolve(src)
		if err != nil {
			return domain.RemoteStamp{}, err
		}
		return fetcher.Probe(ctx, src.Location)
	}
}

// bestEffortStamp probes the remote fingerprint for cache metadata. Probe
// failures just leave the stamp empty.
func (l *Loader) bestEffortStamp(ctx context.Context, src *domain.Source) domain.RemoteStamp {
	if !src.Type.Verifiable() {
		return domain.RemoteStamp{}
	}
	stamp, err := l.probeFunc(src)(ctx)
	if err != nil {
		return domain.RemoteStamp{}
	}
	return stamp
}

// obtain fetches and fully transforms a source's table. visited guards
// against enrichment cycles.
func (l *Loader) obtain(ctx context.Context, src *domain.Source, columns []string, tracker *progress.Tracker, visited map[string]bool) (*domain.Table, error) {
	key := strings.ToUpper(src.DisplayName)
	if visited[key] {
		return nil, domain.ErrValidation("enrichment cycle detected at source %q", src.DisplayName)
	}
	visited[key] = true

	tracker.Report("downloading", 20, "fetching source data")
	table, err := l.fetchTable(ctx, src, columns)
	if err != nil {
		return nil, err
	}

	tracker.Report("processing", 55, "normalizing and filtering")
	l.applyPrefilter(src, table)

	if src.Enrichment != nil {
		if err := l.applyEnrichment(ctx, src, table, visited); err != nil {
			// Enrichment failures degrade to the unenriched table.
			l.logger.Warn("enrichment failed, continuing without it", "source", src.DisplayName, "enrichment", src.Enrichment.Source, "error", err)
		}
	}

	cleanDateColumns(table)
	l.dropEmptyRequired(src, table)
	l.dropExcludedRows(src, table)
	return table, nil
}

// fetchTable retrieves and parses the raw table for a source.
func (l *Loader) fetchTable(ctx context.Context, src *domain.Source, columns []string) (*domain.Table, error) {
	if src.Type == domain.SourcePartitionedDir {
		table, err := csvio.ReadPartitioned(src.Location, src.FilePattern, columns, src.DisplayName, l.logger)
		if err != nil {
			return nil, err
		}
		return table, nil
	}

	fetcher, err := l.fetchers.Resolve(src)
	if err != nil {
		return nil, err
	}

	fctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()
	data, err := fetcher.Fetch(fctx, src.Location)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}
		return nil, domain.ErrSourceUnavailable("source %s: fetch failed: %v", src.DisplayName, err)
	}

	table, err := csvio.Parse(data, csvio.ParseOptions{Columns: columns})
	if err != nil {
		return nil, domain.ErrSourceUnavailable("source %s: cannot parse payload: %v", src.DisplayName, err)
	}
	return table, nil
}

// applyPrefilter keeps only rows matching the configured equality
// condition.
func (l *Loader) applyPrefilter(src *domain.Source, t *domain.Table) {
	col := strings.ToLower(strings.TrimSpace(src.Filter.PrefilterColumn))
	if col == "" {
		return
	}
	ci := t.ColIndexFold(col)
	if ci < 0 {
		l.logger.Warn("prefilter column not in table, skipping prefilter", "source", src.DisplayName, "column", col)
		return
	}
	want := strings.TrimSpace(src.Filter.PrefilterValue)
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		if ci < len(row) && strings.TrimSpace(row[ci]) == want {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
}

// applyEnrichment left-joins the secondary source's configured columns onto
// t. Each primary row takes the first matching secondary row, so the
// primary row count never changes; duplicate join keys on the secondary
// side are logged.
func (l *Loader) applyEnrichment(ctx context.Context, src *domain.Source, t *domain.Table, visited map[string]bool) error {
	enr := src.Enrichment
	secondary, ok := l.registry.Lookup(enr.Source)
	if !ok {
		return domain.ErrNotFound("enrichment source %q is not registered", enr.Source)
	}

	joinCol := strings.ToLower(strings.TrimSpace(enr.JoinColumn))
	primaryIdx := t.ColIndexFold(joinCol)
	if primaryIdx < 0 {
		return domain.ErrValidation("join column %q not present in source %s", joinCol, src.DisplayName)
	}

	secTable, err := l.enrichmentTable(ctx, secondary, joinCol, visited)
	if err != nil {
		return err
	}
	secJoinIdx := secTable.ColIndexFold(joinCol)
	if secJoinIdx < 0 {
		return domain.ErrValidation("join column %q not present in enrichment source %s", joinCol, secondary.DisplayName)
	}

	wanted := normalizeColumns(enr.Columns)
	secIdx := make([]int, 0, len(wanted))
	secNames := make([]string, 0, len(wanted))
	for _, c := range wanted {
		if i := secTable.ColIndexFold(c); i >= 0 && !strings.EqualFold(c, joinCol) {
			secIdx = append(secIdx, i)
			secNames = append(secNames, secTable.Columns[i])
		}
	}
	if len(secIdx) == 0 {
		return domain.ErrValidation("none of the enrichment columns exist in source %s", secondary.DisplayName)
	}

	index := make(map[string][]string, secTable.RowCount())
	duplicates := 0
	for _, row := range secTable.Rows {
		if secJoinIdx >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[secJoinIdx])
		if key == "" {
			continue
		}
		if _, exists := index[key]; exists {
			duplicates++
			continue
		}
		vals := make([]string, len(secIdx))
		for i, si := range secIdx {
			if si < len(row) {
				vals[i] = row[si]
			}
		}
		index[key] = vals
	}
	if duplicates > 0 {
		l.logger.Warn("enrichment join key is not unique on the secondary side, keeping first match",
			"source", src.DisplayName, "enrichment", secondary.DisplayName, "duplicate_keys", duplicates)
	}

	for _, name := range secNames {
		if t.HasColumn(name) {
			name = name + "_enr"
		}
		t.Columns = append(t.Columns, name)
	}
	for r, row := range t.Rows {
		key := ""
		if primaryIdx < len(row) {
			key = strings.TrimSpace(row[primaryIdx])
		}
		vals, ok := index[key]
		if !ok {
			vals = make([]string, len(secIdx))
		}
		t.Rows[r] = append(row, vals...)
	}
	return nil
}

// enrichmentTable loads the secondary table, going through the cache when
// possible. Nested enrichment is not applied, which also bounds recursion.
func (l *Loader) enrichmentTable(ctx context.Context, src *domain.Source, joinCol string, visited map[string]bool) (*domain.Table, error) {
	if src.Cacheable && l.cache.Has(src.DisplayName) && !l.cache.Expired(src.DisplayName) {
		if t := l.cache.Load(src.DisplayName, nil); t != nil {
			return t, nil
		}
	}

	stripped := *src
	stripped.Enrichment = nil
	table, err := l.obtain(ctx, &stripped, nil, l.broadcaster.Tracker(src.DisplayName), visited)
	if err != nil {
		return nil, err
	}
	if src.Cacheable {
		l.cache.Save(src.DisplayName, table, src.Location, l.bestEffortStamp(ctx, src))
	}
	return table, nil
}

// dropEmptyRequired removes rows with a nullish value in any configured
// not-empty column.
func (l *Loader) dropEmptyRequired(src *domain.Source, t *domain.Table) {
	idx := make([]int, 0, len(src.Filter.NotEmptyColumns))
	for _, c := range src.Filter.NotEmptyColumns {
		if i := t.ColIndexFold(strings.TrimSpace(c)); i >= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		keep := true
		for _, i := range idx {
			if i >= len(row) || domain.IsNullish(row[i]) {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
}

// dropExcludedRows removes rows matching the configured per-column
// exclusion lists.
func (l *Loader) dropExcludedRows(src *domain.Source, t *domain.Table) {
	type exclusion struct {
		idx    int
		values map[string]bool
	}
	exclusions := make([]exclusion, 0, len(src.Filter.ExcludeRows))
	for col, values := range src.Filter.ExcludeRows {
		i := t.ColIndexFold(strings.TrimSpace(col))
		if i < 0 || len(values) == 0 {
			continue
		}
		set := make(map[string]bool, len(values))
		for _, v := range values {
			set[strings.TrimSpace(v)] = true
		}
		exclusions = append(exclusions, exclusion{idx: i, values: set})
	}
	if len(exclusions) == 0 {
		return
	}
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		keep := true
		for _, ex := range exclusions {
			if ex.idx < len(row) && ex.values[strings.TrimSpace(row[ex.idx])] {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
}

// filterOptions computes the distinct value list per configured filter
// column, in parallel. A column whose distinct count exceeds the ceiling is
// omitted with a warning rather than failing the load.
func (l *Loader) filterOptions(ctx context.Context, eng engine.Engine, src *domain.Source, t *domain.Table) map[string][]string {
	columns := make([]string, 0, len(src.Filter.FilterColumns))
	for _, c := range src.Filter.FilterColumns {
		if i := t.ColIndexFold(strings.TrimSpace(c)); i >= 0 {
			columns = append(columns, t.Columns[i])
		}
	}
	if len(columns) == 0 {
		return map[string][]string{}
	}

	var mu sync.Mutex
	options := make(map[string][]string, len(columns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(optionWorkers)
	for _, col := range columns {
		g.Go(func() error {
			values, ok, err := eng.DistinctValues(gctx, col, l.optionLimit)
			if err != nil {
				l.logger.Warn("filter option generation failed for column", "source", src.DisplayName, "column", col, "error", err)
				return nil
			}
			if !ok {
				l.logger.Warn("too many distinct values, omitting filter options for column", "source", src.DisplayName, "column", col, "limit", l.optionLimit)
				return nil
			}
			hide := src.Filter.HideValues[col]
			if len(hide) > 0 {
				hidden := make(map[string]bool, len(hide))
				for _, h := range hide {
					hidden[strings.TrimSpace(h)] = true
				}
				filtered := values[:0]
				for _, v := range values {
					if !hidden[strings.TrimSpace(v)] {
						filtered = append(filtered, v)
					}
				}
				values = filtered
			}
			sort.Strings(values)
			mu.Lock()
			options[col] = values
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // per-column failures are degraded, not propagated
	return options
}

var repeatedSlashes = regexp.MustCompile(`/{2,}`)

// dateColumnHints mark columns that carry date strings needing cleanup.
var dateColumnHints = []string{"fecha", "date", "ingreso", "actualizacion", "creacion", "modificacion"}

// cleanDateColumns collapses repeated slashes and trims whitespace in
// date-named columns, an artifact of template concatenation upstream.
func cleanDateColumns(t *domain.Table) {
	for i, col := range t.Columns {
		if !isDateColumn(col) {
			continue
		}
		for _, row := range t.Rows {
			if i < len(row) {
				row[i] = strings.TrimSpace(repeatedSlashes.ReplaceAllString(row[i], "/"))
			}
		}
	}
}

func isDateColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range dateColumnHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func normalizeColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
