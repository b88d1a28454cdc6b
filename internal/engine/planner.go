package engine

import (
	"sort"
	"time"

	"github.com/voyagen/collectarr/internal/models"
)

// SyncPlan is the computed transition for one rule's target collection.
// Items is the complete ordered membership to write back; Added and Removed
// are the membership deltas against the current remote items. In additive
// mode Removed is always empty.
type SyncPlan struct {
	Slug     string   `json:"slug"`
	Items    []string `json:"items"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Additive bool     `json:"additive"`
}

// Planner turns one rule plus point-in-time snapshots into a SyncPlan. It
// performs no I/O; the caller fetches the snapshots, applies the plan and
// owns write serialization.
type Planner struct {
	now func() time.Time
}

// NewPlanner returns a Planner on the wall clock.
func NewPlanner() *Planner {
	return &Planner{now: time.Now}
}

// NewPlannerAt returns a Planner with a fixed clock, for previews and tests.
func NewPlannerAt(now func() time.Time) *Planner {
	return &Planner{now: now}
}

// PlanRule computes the collection transition for rule. channels is the
// channel inventory, currentItems the collection's present membership, and
// enabledRules the pass snapshot used to detect collections shared between
// rules. Disabled and out-of-window rules return skip errors; a rule
// without a collection returns ErrNoCollection.
//
// When two or more enabled rules target the same collection the plan is
// additive: matched channels merge into the current membership and nothing
// is removed, so co-owning rules never strip each other's channels. A rule
// that owns its collection alone replaces the membership outright.
func (p *Planner) PlanRule(rule *models.Rule, channels []models.Channel, currentItems []string, enabledRules []models.Rule) (*SyncPlan, error) {
	if !rule.Enabled {
		return nil, ErrRuleDisabled
	}
	if !IsScheduledNow(rule, p.now()) {
		return nil, ErrOutsideSchedule
	}
	if rule.CollectionSlug == "" {
		return nil, ErrNoCollection
	}

	matched := MatchRule(rule, channels)
	byID := channelIndex(channels)

	plan := &SyncPlan{
		Slug:    rule.CollectionSlug,
		Added:   []string{},
		Removed: []string{},
	}

	if sharesCollection(rule, enabledRules) {
		plan.Additive = true
		union := make([]string, 0, len(currentItems)+len(matched))
		seen := make(map[string]bool, len(currentItems)+len(matched))
		for _, id := range currentItems {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}
		for _, id := range matched {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
				plan.Added = append(plan.Added, id)
			}
		}
		plan.Items = SortChannels(union, byID, rule.SortOrder)
	} else {
		keep := make([]string, 0, len(matched))
		seen := make(map[string]bool, len(matched))
		for _, id := range matched {
			if !seen[id] {
				seen[id] = true
				keep = append(keep, id)
			}
		}
		current := make(map[string]bool, len(currentItems))
		for _, id := range currentItems {
			current[id] = true
		}
		for _, id := range keep {
			if !current[id] {
				plan.Added = append(plan.Added, id)
			}
		}
		for id := range current {
			if !seen[id] {
				plan.Removed = append(plan.Removed, id)
			}
		}
		plan.Items = SortChannels(keep, byID, rule.SortOrder)
	}

	sort.Strings(plan.Added)
	sort.Strings(plan.Removed)
	return plan, nil
}

// sharesCollection reports whether the rule's collection is targeted by two
// or more enabled rules, counting the planned rule itself. The check
// reflects only the enabled set of the current pass, so disabling a
// co-owner reverts the survivor to replace mode on its next run.
func sharesCollection(rule *models.Rule, enabledRules []models.Rule) bool {
	n := 0
	self := false
	for i := range enabledRules {
		r := &enabledRules[i]
		if !r.Enabled || r.CollectionSlug != rule.CollectionSlug {
			continue
		}
		if r.ID == rule.ID {
			self = true
		}
		n++
	}
	if !self {
		n++
	}
	return n >= 2
}

func channelIndex(channels []models.Channel) map[string]models.Channel {
	m := make(map[string]models.Channel, len(channels))
	for _, ch := range channels {
		m[ch.ID] = ch
	}
	return m
}
