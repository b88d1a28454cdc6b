package store

import (
	"context"
	"errors"

	"github.com/voyagen/collectarr/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines persistence for rules and sync run history.
type Store interface {
	// ListRules returns all rules ordered by creation time.
	ListRules(ctx context.Context) ([]models.Rule, error)
	// GetRule returns a single rule by id.
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	// CreateRule inserts a rule, assigning an id when the rule has none,
	// and returns the stored rule with its timestamps.
	CreateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	// UpdateRule replaces the rule's stored fields by id.
	UpdateRule(ctx context.Context, id string, rule *models.Rule) (*models.Rule, error)
	// DeleteRule removes a rule by id.
	DeleteRule(ctx context.Context, id string) error

	// SaveSyncRun appends one sync pass to the run history.
	SaveSyncRun(ctx context.Context, run *models.SyncRun) error
	// LatestSyncRun returns the most recent sync run.
	LatestSyncRun(ctx context.Context) (*models.SyncRun, error)
}
