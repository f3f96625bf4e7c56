package audit

import "time"

// TimelineFilters narrows the audit timeline. From and To are inclusive dates.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one entry of audit_logs.
type TimelineRow struct {
	At       time.Time
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
}

// PagingInfo describes the current page.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}

// Result is one page of the timeline.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}

// FiltersViewModel holds the filter values echoed back to the template.
type FiltersViewModel struct {
	From   time.Time
	To     time.Time
	Actor  string
	Entity string
	Action string
}

// ViewModel feeds the audit timeline template.
type ViewModel struct {
	Filters   FiltersViewModel
	Rows      []TimelineRow
	Paging    PagingInfo
	ExportURL string
	PrevURL   string
	NextURL   string
}
