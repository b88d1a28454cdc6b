package models

import "time"

// SyncResult is the outcome of one sync pass: which collections were
// written, which rules were skipped and why, and which failed.
type SyncResult struct {
	Timestamp   time.Time              `json:"timestamp"`
	Collections []CollectionSyncResult `json:"collections"`
	Skipped     []SyncSkip             `json:"skipped"`
	Errors      []SyncError            `json:"errors"`
}

// CollectionSyncResult records one applied collection transition.
type CollectionSyncResult struct {
	RuleID   string   `json:"rule_id"`
	RuleName string   `json:"rule_name"`
	Slug     string   `json:"slug"`
	Total    int      `json:"total"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Additive bool     `json:"additive"`
}

// SyncSkip records a rule that was deliberately not synced.
type SyncSkip struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Reason   string `json:"reason"`
}

// SyncError records a rule that failed to sync. A pass-level failure has an
// empty RuleID.
type SyncError struct {
	RuleID   string `json:"rule_id,omitempty"`
	RuleName string `json:"rule_name,omitempty"`
	Error    string `json:"error"`
}

// SyncRun is a persisted sync pass.
type SyncRun struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Result     SyncResult `json:"result"`
}
