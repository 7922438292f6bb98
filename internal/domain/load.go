package domain

// CacheDecision is the outcome of the cache-vs-fresh evaluation for one load.
type CacheDecision string

const (
	DecisionNoCache          CacheDecision = "no_cache"
	DecisionUsingCache       CacheDecision = "using_cache"
	DecisionDownloadingFresh CacheDecision = "downloading_fresh"
)

// CacheStatus qualifies a CacheDecision with how it was reached.
type CacheStatus string

const (
	CacheStatusNotCached          CacheStatus = "not_cached"
	CacheStatusVerifiedFresh      CacheStatus = "verified_fresh"
	CacheStatusVerifiedStale      CacheStatus = "verified_stale"
	CacheStatusVerificationFailed CacheStatus = "verification_failed"
	CacheStatusExpiredByAge       CacheStatus = "expired_by_age"
	CacheStatusUnverified         CacheStatus = "unverified"
)

// CacheInfo annotates a LoadResult with the staleness verification outcome.
type CacheInfo struct {
	Verified bool        `json:"verified"`
	Status   CacheStatus `json:"status"`
	Message  string      `json:"message"`
}

// LoadResult is the payload returned for a completed load or refresh.
type LoadResult struct {
	Message         string              `json:"message"`
	RowCount        int                 `json:"row_count"`
	Columns         []string            `json:"columns"`
	FilterOptions   map[string][]string `json:"filter_options"`
	SourceType      SourceType          `json:"source_type"`
	FromCache       bool                `json:"from_cache"`
	LoadTimeSeconds float64             `json:"load_time_seconds"`
	CacheDecision   CacheDecision       `json:"cache_decision"`
	CacheInfo       CacheInfo           `json:"cache_info"`
}

// RemoteStamp is the remote-side fingerprint used for staleness comparison.
type RemoteStamp struct {
	LastModified int64  `json:"last_modified"` // unix seconds, 0 when unknown
	ETag         string `json:"etag,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// RemoteCheck is the result of a staleness probe. Errors never propagate as
// failures; they ride in Error so callers can fail open.
type RemoteCheck struct {
	UpdateAvailable bool   `json:"update_available"`
	Reason          string `json:"reason"`
	Error           string `json:"error,omitempty"`
}
