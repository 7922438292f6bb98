package domain

// SourceType identifies how a source's bytes are retrieved.
type SourceType string

const (
	SourceCloudBlob      SourceType = "cloud-blob"
	SourceSharedDocument SourceType = "shared-document"
	SourceLocalFile      SourceType = "local-file"
	SourcePartitionedDir SourceType = "partitioned-local-directory"
)

// Verifiable reports whether the source type supports a remote staleness
// check. Local single files are loaded too cheaply to bother verifying.
func (s SourceType) Verifiable() bool {
	switch s {
	case SourceCloudBlob, SourceSharedDocument, SourcePartitionedDir:
		return true
	}
	return false
}

// Source describes one logical named table and how to load and filter it.
type Source struct {
	DisplayName string     `yaml:"display_name"`
	Type        SourceType `yaml:"source_type"`
	Location    string     `yaml:"location"`
	FilePattern string     `yaml:"file_pattern,omitempty"`
	Cacheable   bool       `yaml:"cacheable"`

	Filter     FilterConfig `yaml:"filter,omitempty"`
	Enrichment *Enrichment  `yaml:"enrichment,omitempty"`

	// RefreshSchedule is an optional cron spec for scheduled cache refresh.
	RefreshSchedule string `yaml:"refresh_schedule,omitempty"`
}

// FilterConfig holds the per-source filtering behavior.
type FilterConfig struct {
	// FilterColumns are exposed as UI filters; distinct values are computed
	// per column at load time.
	FilterColumns []string `yaml:"filter_columns,omitempty"`
	// NotEmptyColumns drop any row with a nullish value in them.
	NotEmptyColumns []string `yaml:"not_empty_columns,omitempty"`
	// HideValues removes specific values from a column's filter options
	// without removing the rows.
	HideValues map[string][]string `yaml:"hide_values,omitempty"`
	// ExcludeRows drops rows whose column value matches any listed value.
	ExcludeRows map[string][]string `yaml:"exclude_rows,omitempty"`
	// DefaultColumns is the projection applied when the caller selects none.
	DefaultColumns []string `yaml:"default_columns,omitempty"`
	// PrefilterColumn/PrefilterValue drop rows where the column does not
	// equal the value, applied before everything else.
	PrefilterColumn string `yaml:"prefilter_column,omitempty"`
	PrefilterValue  string `yaml:"prefilter_value,omitempty"`
}

// Enrichment names a secondary source left-joined onto the primary table.
type Enrichment struct {
	Source     string   `yaml:"source"`
	JoinColumn string   `yaml:"join_column"`
	Columns    []string `yaml:"columns"`
}
