package models

// Match type constants (which channel fields a rule pattern is tested against).
const (
	MatchTypeName   = "name"
	MatchTypeNumber = "number"
	MatchTypeEPG    = "epg"
)

// Sort order constants (stored verbatim in a rule's sort_order).
const (
	SortNone       = "none"
	SortNameAsc    = "name_asc"
	SortNameDesc   = "name_desc"
	SortNumberAsc  = "number_asc"
	SortNumberDesc = "number_desc"
	SortEventsLast = "events_last"
)

// SortRegexPrefix marks a custom partition sort, e.g. "regex:^ESPN".
const SortRegexPrefix = "regex:"
