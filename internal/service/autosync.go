package service

import (
	"context"
	"fmt"
	"log"

	"github.com/voyagen/collectarr/internal/engine"
	"github.com/voyagen/collectarr/internal/models"
)

// regeneratePatterns rebuilds an auto-sync rule's patterns from its linked
// Dispatcharr group and persists the rule. The rule keeps matching by number
// only: the group's channel numbers are collapsed into a single range
// expression.
func (s *Sync) regeneratePatterns(ctx context.Context, rule *models.Rule) error {
	if s.groups == nil {
		return fmt.Errorf("auto-sync rule %q: dispatcharr is not configured", rule.Name)
	}
	if rule.AutoSyncGroupID == 0 {
		return engine.ErrMissingGroup
	}

	if rule.RefreshBeforeSync {
		// Stale group data still syncs; a failed refresh is not fatal.
		if err := s.refreshGroupAccount(ctx, rule.AutoSyncGroupID); err != nil {
			log.Printf("sync: refresh before sync for rule %q: %v", rule.Name, err)
		}
	}

	chans, err := s.groups.ListGroupChannels(ctx, rule.AutoSyncGroupID)
	if err != nil {
		return fmt.Errorf("group %d channels: %w", rule.AutoSyncGroupID, err)
	}

	numbers := make([]int, 0, len(chans))
	for _, ch := range chans {
		if n := int(ch.Number); n > 0 {
			numbers = append(numbers, n)
		}
	}
	pattern := engine.GeneratePattern(numbers)
	if pattern == "" {
		return fmt.Errorf("group %d has no numbered channels", rule.AutoSyncGroupID)
	}

	rule.Patterns = []string{pattern}
	rule.MatchTypes = []string{models.MatchTypeNumber}
	if _, err := s.store.UpdateRule(ctx, rule.ID, rule); err != nil {
		return fmt.Errorf("persist regenerated patterns: %w", err)
	}
	log.Printf("sync: rule %q patterns regenerated from group %d: %s", rule.Name, rule.AutoSyncGroupID, pattern)
	return nil
}

// refreshGroupAccount triggers an M3U refresh on the account a provider
// group belongs to and waits for the trigger to be accepted.
func (s *Sync) refreshGroupAccount(ctx context.Context, groupID int64) error {
	groups, err := s.groups.ListEnabledGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	for _, g := range groups {
		if g.ID == groupID {
			if g.M3UAccountID == nil {
				return fmt.Errorf("group %d is local, nothing to refresh", groupID)
			}
			return s.groups.RefreshAccount(ctx, *g.M3UAccountID)
		}
	}
	return fmt.Errorf("group %d not found among enabled groups", groupID)
}
