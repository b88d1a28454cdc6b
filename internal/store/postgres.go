package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagen/collectarr/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// ruleDoc is the JSONB part of a rule row. Fields the API filters or sorts
// on live in their own columns; everything else goes in the document.
type ruleDoc struct {
	Patterns            []string         `json:"patterns"`
	MatchTypes          []string         `json:"match_types"`
	IncludeSources      []string         `json:"include_sources,omitempty"`
	ExcludeSources      []string         `json:"exclude_sources,omitempty"`
	SortOrder           string           `json:"sort_order,omitempty"`
	Schedule            *models.Schedule `json:"schedule,omitempty"`
	AutoSync            bool             `json:"auto_sync,omitempty"`
	AutoSyncGroupID     int64            `json:"auto_sync_group_id,omitempty"`
	RefreshBeforeSync   bool             `json:"refresh_before_sync,omitempty"`
	SyncIntervalMinutes int              `json:"sync_interval_minutes,omitempty"`
}

func newRuleDoc(r *models.Rule) ruleDoc {
	return ruleDoc{
		Patterns:            r.Patterns,
		MatchTypes:          r.MatchTypes,
		IncludeSources:      r.IncludeSources,
		ExcludeSources:      r.ExcludeSources,
		SortOrder:           r.SortOrder,
		Schedule:            r.Schedule,
		AutoSync:            r.AutoSync,
		AutoSyncGroupID:     r.AutoSyncGroupID,
		RefreshBeforeSync:   r.RefreshBeforeSync,
		SyncIntervalMinutes: r.SyncIntervalMinutes,
	}
}

func (d ruleDoc) apply(r *models.Rule) {
	r.Patterns = d.Patterns
	r.MatchTypes = d.MatchTypes
	r.IncludeSources = d.IncludeSources
	r.ExcludeSources = d.ExcludeSources
	r.SortOrder = d.SortOrder
	r.Schedule = d.Schedule
	r.AutoSync = d.AutoSync
	r.AutoSyncGroupID = d.AutoSyncGroupID
	r.RefreshBeforeSync = d.RefreshBeforeSync
	r.SyncIntervalMinutes = d.SyncIntervalMinutes
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var r models.Rule
	var doc []byte
	if err := row.Scan(&r.ID, &r.Name, &r.Enabled, &r.CollectionSlug, &doc, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	var d ruleDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("unmarshal rule doc: %w", err)
	}
	d.apply(&r)
	return &r, nil
}

// ListRules returns all rules ordered by creation time.
func (p *Postgres) ListRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, enabled, collection_slug, doc, created_at, updated_at
		 FROM rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRules scan: %w", err)
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRules rows: %w", err)
	}
	return rules, nil
}

// GetRule returns a single rule by id.
func (p *Postgres) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, enabled, collection_slug, doc, created_at, updated_at
		 FROM rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRule: %w", err)
	}
	return r, nil
}

// CreateRule inserts a rule, assigning a uuid when the rule has none.
func (p *Postgres) CreateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	out := *rule
	if out.ID == "" {
		out.ID = uuid.NewString()
	}

	doc, err := json.Marshal(newRuleDoc(&out))
	if err != nil {
		return nil, fmt.Errorf("marshal rule doc: %w", err)
	}

	err = p.pool.QueryRow(ctx,
		`INSERT INTO rules (id, name, enabled, collection_slug, doc)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		out.ID, out.Name, out.Enabled, out.CollectionSlug, doc,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("CreateRule: %w", err)
	}
	return &out, nil
}

// UpdateRule replaces the rule's stored fields by id.
func (p *Postgres) UpdateRule(ctx context.Context, id string, rule *models.Rule) (*models.Rule, error) {
	out := *rule
	out.ID = id

	doc, err := json.Marshal(newRuleDoc(&out))
	if err != nil {
		return nil, fmt.Errorf("marshal rule doc: %w", err)
	}

	err = p.pool.QueryRow(ctx,
		`UPDATE rules
		 SET name = $2, enabled = $3, collection_slug = $4, doc = $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		id, out.Name, out.Enabled, out.CollectionSlug, doc,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateRule: %w", err)
	}
	return &out, nil
}

// DeleteRule removes a rule by id.
func (p *Postgres) DeleteRule(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteRule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSyncRun appends one sync pass to the run history.
func (p *Postgres) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("marshal sync result: %w", err)
	}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO sync_runs (started_at, finished_at, result)
		 VALUES ($1, $2, $3) RETURNING id`,
		run.StartedAt, run.FinishedAt, result,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("SaveSyncRun: %w", err)
	}
	return nil
}

// LatestSyncRun returns the most recent sync run.
func (p *Postgres) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	var run models.SyncRun
	var result []byte
	err := p.pool.QueryRow(ctx,
		`SELECT id, started_at, finished_at, result
		 FROM sync_runs ORDER BY finished_at DESC, id DESC LIMIT 1`,
	).Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LatestSyncRun: %w", err)
	}
	if err := json.Unmarshal(result, &run.Result); err != nil {
		return nil, fmt.Errorf("unmarshal sync result: %w", err)
	}
	return &run, nil
}
