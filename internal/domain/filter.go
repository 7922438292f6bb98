package domain

// EmptyValueSentinel is the request-side spelling for "the cell is empty".
// Filter values equal to it match the literal empty string after trimming.
const EmptyValueSentinel = "[Vacío]"

// FilterRequest is the structured filter passed per query.
type FilterRequest struct {
	// ValueFilters maps column name (case-insensitive) to the accepted set of
	// trimmed values. EmptyValueSentinel selects empty cells.
	ValueFilters map[string][]string `json:"value_filters,omitempty"`

	// Child/parent SKU filters: the file-sourced list (when the flag is set)
	// is unioned with the manual list.
	UseSKUHijoFile    bool     `json:"use_sku_hijo_file,omitempty"`
	SKUHijoManualList []string `json:"sku_hijo_manual_list,omitempty"`
	ExtendSKUHijo     bool     `json:"extend_sku_hijo,omitempty"`

	UseSKUPadreFile    bool     `json:"use_sku_padre_file,omitempty"`
	SKUPadreManualList []string `json:"sku_padre_manual_list,omitempty"`

	UseTicketFile    bool     `json:"use_ticket_file,omitempty"`
	TicketManualList []string `json:"ticket_manual_list,omitempty"`

	LineamientoList []string `json:"lineamiento_list,omitempty"`

	// TextFilters are additional per-column case-insensitive exact matches.
	TextFilters map[string][]string `json:"text_filters,omitempty"`

	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`

	// Columns is the output projection; empty means all loaded columns.
	Columns []string `json:"columns,omitempty"`

	// IncludePriority requests per-row priority tags and aggregate counts.
	IncludePriority bool `json:"include_priority,omitempty"`
}

// PriorityInfo carries priority-tag metadata for a filtered result.
type PriorityInfo struct {
	Column string `json:"column"`
	// RowTags maps page-relative row index (0-based, as a string key for
	// JSON) to the row's raw priority tag.
	RowTags map[string]string `json:"row_tags"`
	// Counts aggregates the entire filtered set by normalized tag
	// (prioridad_1, priority_2, ..., "other").
	Counts map[string]int `json:"counts"`
}

// FilterResult is the payload for one filter request.
type FilterResult struct {
	RowCountFiltered int                 `json:"row_count_filtered"`
	Data             []map[string]string `json:"data"`
	ColumnsInData    []string            `json:"columns_in_data"`
	Page             int                 `json:"page"`
	PageSize         int                 `json:"page_size"`

	SKUsNotFoundHijo     []string `json:"skus_no_encontrados_hijo"`
	SKUsNotFoundPadre    []string `json:"skus_no_encontrados_padre"`
	TicketsNotFound      []string `json:"tickets_no_encontrados"`
	LineamientosNotFound []string `json:"lineamientos_no_encontrados"`

	HasPriorityColumn bool          `json:"has_priority_column"`
	PriorityInfo      *PriorityInfo `json:"priority_info,omitempty"`
}
