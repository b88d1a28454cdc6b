package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voyagen/collectarr/internal/cache"
	"github.com/voyagen/collectarr/internal/dvr"
	"github.com/voyagen/collectarr/internal/engine"
	"github.com/voyagen/collectarr/internal/models"
	"github.com/voyagen/collectarr/internal/store"
)

const (
	collectionLockTTL = 30 * time.Second
	ttlInventory      = 1 * time.Minute
	ttlCollections    = 30 * time.Second
)

// DVRClient is the slice of the Channels DVR client the sync service uses.
type DVRClient interface {
	ListDevices(ctx context.Context) ([]models.Source, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	ListCollections(ctx context.Context) ([]models.Collection, error)
	GetCollection(ctx context.Context, slug string) (*models.Collection, error)
	UpdateCollectionItems(ctx context.Context, slug string, items []string) error
}

// GroupProvider is the slice of the Dispatcharr client used by auto-sync
// rules.
type GroupProvider interface {
	ListEnabledGroups(ctx context.Context) ([]models.Group, error)
	ListGroupChannels(ctx context.Context, groupID int64) ([]models.GroupChannel, error)
	RefreshAccount(ctx context.Context, accountID int64) error
}

// Status reports whether a pass is running and the last pass result.
type Status struct {
	Running    bool               `json:"running"`
	LastResult *models.SyncResult `json:"last_result,omitempty"`
}

// PreviewResult lists the channels a rule would select, in apply order.
type PreviewResult struct {
	Channels []models.Channel `json:"channels"`
	Total    int              `json:"total"`
}

// Sync evaluates rules against the DVR channel inventory and reconciles the
// target collections. One pass runs at a time; concurrent callers queue
// behind the pass mutex. groups and redis may be nil: without Dispatcharr
// every auto-sync rule fails as a config error, without Redis collection
// locks and DVR caching are skipped.
type Sync struct {
	store   store.Store
	dvr     DVRClient
	groups  GroupProvider
	redis   *cache.Redis
	planner *engine.Planner

	mu      sync.Mutex
	running atomic.Bool

	lastMu sync.RWMutex
	last   *models.SyncResult
}

// NewSync creates the sync service.
func NewSync(st store.Store, dvrClient DVRClient, groups GroupProvider, redis *cache.Redis) *Sync {
	return &Sync{
		store:   st,
		dvr:     dvrClient,
		groups:  groups,
		redis:   redis,
		planner: engine.NewPlanner(),
	}
}

// SyncAll runs one pass over every rule.
func (s *Sync) SyncAll(ctx context.Context) (*models.SyncResult, error) {
	return s.run(ctx, "")
}

// SyncRule runs one pass restricted to a single rule.
func (s *Sync) SyncRule(ctx context.Context, ruleID string) (*models.SyncResult, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	return s.run(ctx, ruleID)
}

func (s *Sync) run(ctx context.Context, onlyRuleID string) (*models.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running.Store(true)
	defer s.running.Store(false)

	started := time.Now().UTC()
	result := &models.SyncResult{
		Timestamp:   started,
		Collections: []models.CollectionSyncResult{},
		Skipped:     []models.SyncSkip{},
		Errors:      []models.SyncError{},
	}

	// One rule snapshot per pass: shared-collection detection and the loop
	// below must see the same rule set.
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	targets := rules
	if onlyRuleID != "" {
		targets = nil
		for i := range rules {
			if rules[i].ID == onlyRuleID {
				targets = rules[i : i+1]
				break
			}
		}
		if targets == nil {
			return nil, fmt.Errorf("rule %s: %w", onlyRuleID, store.ErrNotFound)
		}
	}

	channels, err := s.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch channel inventory: %w", err)
	}

	for i := range targets {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, models.SyncError{Error: "sync cancelled: " + err.Error()})
			break
		}
		s.syncOne(ctx, &targets[i], channels, rules, result)
	}

	finished := time.Now().UTC()
	run := &models.SyncRun{StartedAt: started, FinishedAt: finished, Result: *result}
	if err := s.store.SaveSyncRun(ctx, run); err != nil {
		log.Printf("sync: save run: %v", err)
	}

	s.lastMu.Lock()
	s.last = result
	s.lastMu.Unlock()

	s.invalidateCollections(ctx)
	log.Printf("sync: pass finished in %s: %d collections, %d skipped, %d errors",
		finished.Sub(started).Round(time.Millisecond),
		len(result.Collections), len(result.Skipped), len(result.Errors))
	return result, nil
}

// syncOne plans and applies a single rule, filing the outcome into the
// matching result bucket.
func (s *Sync) syncOne(ctx context.Context, rule *models.Rule, channels []models.Channel, allRules []models.Rule, result *models.SyncResult) {
	skip := func(reason string) {
		result.Skipped = append(result.Skipped, models.SyncSkip{RuleID: rule.ID, RuleName: rule.Name, Reason: reason})
	}
	fail := func(err error) {
		// Config errors repeat every pass until the rule is fixed; transient
		// upstream errors clear on their own.
		if engine.IsConfig(err) {
			log.Printf("sync: rule %q misconfigured: %v", rule.Name, err)
		} else {
			log.Printf("sync: rule %q: %v", rule.Name, err)
		}
		result.Errors = append(result.Errors, models.SyncError{RuleID: rule.ID, RuleName: rule.Name, Error: err.Error()})
	}

	if !rule.Enabled {
		skip(engine.ErrRuleDisabled.Error())
		return
	}
	if !engine.IsScheduledNow(rule, time.Now()) {
		skip(engine.ErrOutsideSchedule.Error())
		return
	}
	if rule.CollectionSlug == "" {
		fail(engine.ErrNoCollection)
		return
	}

	// Regenerate auto-sync patterns before planning so the plan sees the
	// group's current channel numbers.
	if rule.AutoSync {
		if err := s.regeneratePatterns(ctx, rule); err != nil {
			fail(err)
			return
		}
	}

	current, err := s.collectionItems(ctx, rule.CollectionSlug)
	if err != nil {
		fail(fmt.Errorf("fetch collection %q: %w", rule.CollectionSlug, err))
		return
	}

	plan, err := s.planner.PlanRule(rule, channels, current, allRules)
	if err != nil {
		if engine.IsSkip(err) {
			skip(err.Error())
			return
		}
		fail(err)
		return
	}

	if len(plan.Added) == 0 && len(plan.Removed) == 0 {
		skip("no changes")
		return
	}

	if err := s.applyPlan(ctx, plan); err != nil {
		fail(err)
		return
	}

	result.Collections = append(result.Collections, models.CollectionSyncResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Slug:     plan.Slug,
		Total:    len(plan.Items),
		Added:    plan.Added,
		Removed:  plan.Removed,
		Additive: plan.Additive,
	})
	log.Printf("sync: rule %q -> %s: %d channels (+%d -%d)",
		rule.Name, plan.Slug, len(plan.Items), len(plan.Added), len(plan.Removed))
}

// applyPlan writes the plan's membership, holding the collection's Redis
// lock when one is available. A held lock surfaces as a retryable error.
func (s *Sync) applyPlan(ctx context.Context, plan *engine.SyncPlan) error {
	if s.redis != nil {
		unlock, err := cache.TryLock(ctx, s.redis, cache.CollectionLockKey(plan.Slug), collectionLockTTL)
		if err != nil {
			if errors.Is(err, cache.ErrLocked) {
				return fmt.Errorf("collection %q is busy: %w", plan.Slug, err)
			}
			return fmt.Errorf("lock collection %q: %w", plan.Slug, err)
		}
		defer unlock()
	}

	if err := s.dvr.UpdateCollectionItems(ctx, plan.Slug, plan.Items); err != nil {
		return fmt.Errorf("update collection %q: %w", plan.Slug, err)
	}
	return nil
}

// collectionItems returns the collection's current membership; a collection
// the DVR does not know yet is simply empty.
func (s *Sync) collectionItems(ctx context.Context, slug string) ([]string, error) {
	col, err := s.dvr.GetCollection(ctx, slug)
	if err != nil {
		if errors.Is(err, dvr.ErrCollectionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return col.Items, nil
}

// Preview matches and sorts a rule against the live inventory without
// writing anything. Works on disabled rules.
func (s *Sync) Preview(ctx context.Context, rule *models.Rule) (*PreviewResult, error) {
	channels, err := s.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch channel inventory: %w", err)
	}

	matched := engine.MatchAll(channels, rule)
	byID := make(map[string]models.Channel, len(matched))
	ids := make([]string, 0, len(matched))
	for _, ch := range matched {
		byID[ch.ID] = ch
		ids = append(ids, ch.ID)
	}

	ordered := engine.SortChannels(ids, byID, rule.SortOrder)
	out := make([]models.Channel, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, byID[id])
	}
	return &PreviewResult{Channels: out, Total: len(out)}, nil
}

// Status reports the service's current state.
func (s *Sync) Status() *Status {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return &Status{Running: s.running.Load(), LastResult: s.last}
}

// Sources returns the DVR's channel-providing devices.
func (s *Sync) Sources(ctx context.Context) ([]models.Source, error) {
	return s.dvr.ListDevices(ctx)
}

// Inventory returns the merged DVR channel inventory, served from Redis for
// up to a minute when a cache is configured.
func (s *Sync) Inventory(ctx context.Context) ([]models.Channel, error) {
	const key = "dvr:channels"
	if s.redis != nil {
		if v, err := cache.Get[[]models.Channel](ctx, s.redis, key); err == nil {
			return v, nil
		}
	}
	channels, err := s.dvr.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		if err := cache.Set(ctx, s.redis, key, channels, ttlInventory); err != nil {
			log.Printf("cache: set %s: %v", key, err)
		}
	}
	return channels, nil
}

// Collections returns all DVR collections, briefly cached.
func (s *Sync) Collections(ctx context.Context) ([]models.Collection, error) {
	const key = "dvr:collections:all"
	if s.redis != nil {
		if v, err := cache.Get[[]models.Collection](ctx, s.redis, key); err == nil {
			return v, nil
		}
	}
	collections, err := s.dvr.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		if err := cache.Set(ctx, s.redis, key, collections, ttlCollections); err != nil {
			log.Printf("cache: set %s: %v", key, err)
		}
	}
	return collections, nil
}

// Collection returns one DVR collection by slug, briefly cached.
func (s *Sync) Collection(ctx context.Context, slug string) (*models.Collection, error) {
	key := "dvr:collections:" + slug
	if s.redis != nil {
		if v, err := cache.Get[models.Collection](ctx, s.redis, key); err == nil {
			return &v, nil
		}
	}
	col, err := s.dvr.GetCollection(ctx, slug)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		if err := cache.Set(ctx, s.redis, key, col, ttlCollections); err != nil {
			log.Printf("cache: set %s: %v", key, err)
		}
	}
	return col, nil
}

// invalidateCollections drops every cached collection after a pass wrote
// new memberships.
func (s *Sync) invalidateCollections(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := cache.DelPattern(ctx, s.redis, "dvr:collections*"); err != nil {
		log.Printf("cache: del pattern dvr:collections*: %v", err)
	}
}
