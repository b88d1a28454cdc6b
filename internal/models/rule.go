package models

import "time"

// Rule selects DVR channels by pattern and maps them to a target collection.
// Patterns are tried in order with OR semantics; a single patterns entry may
// hold a comma-separated set of number/range fragments which is expanded
// before matching.
type Rule struct {
	ID             string    `json:"id,omitempty"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Patterns       []string  `json:"patterns"`
	MatchTypes     []string  `json:"match_types"`
	IncludeSources []string  `json:"include_sources,omitempty"`
	ExcludeSources []string  `json:"exclude_sources,omitempty"`
	SortOrder      string    `json:"sort_order,omitempty"`
	CollectionSlug string    `json:"collection_slug"`
	Schedule       *Schedule `json:"schedule,omitempty"`

	// AutoSync regenerates Patterns from a Dispatcharr group's channel
	// numbers before every sync. A rule with AutoSync set must carry the
	// group ID it is derived from.
	AutoSync        bool  `json:"auto_sync,omitempty"`
	AutoSyncGroupID int64 `json:"auto_sync_group_id,omitempty"`

	// RefreshBeforeSync asks for the linked group's M3U account to be
	// refreshed upstream before the rule is planned.
	RefreshBeforeSync bool `json:"refresh_before_sync,omitempty"`

	// SyncIntervalMinutes, when >0, gives the rule its own sync job in
	// addition to the global interval.
	SyncIntervalMinutes int `json:"sync_interval_minutes,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// HasMatchType reports whether the rule enables the given match type.
func (r *Rule) HasMatchType(t string) bool {
	for _, mt := range r.MatchTypes {
		if mt == t {
			return true
		}
	}
	return false
}

// Schedule restricts when a rule may sync. Days holds weekday names
// (case-insensitive); Start and End are "HH:MM" wall-clock bounds. A window
// with Start > End wraps past midnight.
type Schedule struct {
	Enabled bool     `json:"enabled"`
	Days    []string `json:"days,omitempty"`
	Start   string   `json:"start,omitempty"`
	End     string   `json:"end,omitempty"`
}
