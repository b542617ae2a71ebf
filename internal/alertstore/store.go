// Package alertstore persists alert workflow state (status, action plans,
// comments) in PostgreSQL, keyed by company and alert id.
package alertstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("alertstore: create pool: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// ActionStep is one step of an alert's action plan. Position falls back to
// the step's index in the submitted plan when absent.
type ActionStep struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Done     bool   `json:"done"`
	Position *int   `json:"position,omitempty"`
}

// Comment is idempotent by id: re-submitting an existing comment is a no-op.
type Comment struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Author string `json:"author"`
	Date   string `json:"date,omitempty"`
}

type PatchBody struct {
	Status     string       `json:"status,omitempty"`
	Type       string       `json:"type,omitempty"`
	ActionPlan []ActionStep `json:"actionPlan,omitempty"`
	Comments   []Comment    `json:"comments,omitempty"`
}

type StatePatch struct {
	ID    string    `json:"id"`
	Patch PatchBody `json:"patch"`
}

// AlertState is the assembled view of one alert's workflow state.
type AlertState struct {
	Status     string       `json:"status"`
	Type       string       `json:"type"`
	TakenBy    *string      `json:"takenBy"`
	TakenAt    *time.Time   `json:"takenAt"`
	UpdatedAt  *time.Time   `json:"updatedAt"`
	ActionPlan []ActionStep `json:"actionPlan"`
	Comments   []Comment    `json:"comments"`
}

// StateRow is one row of the status listings, snake_case like the table.
type StateRow struct {
	AlertID   string     `json:"alert_id"`
	Status    string     `json:"status"`
	Type      string     `json:"type"`
	TakenBy   *string    `json:"taken_by"`
	TakenAt   *time.Time `json:"taken_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ListFilter narrows a status listing. Zero values mean "no constraint".
type ListFilter struct {
	Query  string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const upsertStateSQL = `
INSERT INTO alerts.alert_states (company, alert_id, status, type, taken_by, taken_at, updated_at)
VALUES ($1, $2, COALESCE($3, 'new'), COALESCE($4, 'success'), $5, $6, now())
ON CONFLICT (company, alert_id)
DO UPDATE SET
  status     = COALESCE(EXCLUDED.status, alerts.alert_states.status),
  type       = COALESCE(EXCLUDED.type,   alerts.alert_states.type),
  taken_by   = COALESCE(alerts.alert_states.taken_by, EXCLUDED.taken_by),
  taken_at   = COALESCE(alerts.alert_states.taken_at, EXCLUDED.taken_at),
  updated_at = now()`

const upsertActionSQL = `
INSERT INTO alerts.alert_actions
  (company, alert_id, action_id, label, done, position, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (company, alert_id, action_id)
DO UPDATE SET
  label      = EXCLUDED.label,
  done       = EXCLUDED.done,
  position   = EXCLUDED.position,
  updated_at = now()`

const insertCommentSQL = `
INSERT INTO alerts.alert_comments
  (company, alert_id, comment_id, text, author, at_local, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (company, alert_id, comment_id) DO NOTHING`

// PatchStates applies a batch of per-alert patches in one transaction: the
// state upsert, then action-plan upserts, then comment inserts. The first
// taken_by/taken_at of an alert are never overwritten. It returns the number
// of patches submitted, counting blank-id entries that were skipped.
func (s *Store) PatchStates(ctx context.Context, company, username string, patches []StatePatch) (int, error) {
	now := time.Now().UTC()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range patches {
			if p.ID == "" {
				continue
			}

			var takenBy *string
			var takenAt *time.Time
			if p.Patch.Status == "in_progress" {
				takenBy = nilIfEmpty(username)
				takenAt = &now
			}
			if _, err := tx.Exec(ctx, upsertStateSQL,
				company, p.ID, nilIfEmpty(p.Patch.Status), nilIfEmpty(p.Patch.Type), takenBy, takenAt); err != nil {
				return fmt.Errorf("upsert state %q: %w", p.ID, err)
			}

			for i, step := range p.Patch.ActionPlan {
				if step.ID == "" {
					continue
				}
				position := i
				if step.Position != nil {
					position = *step.Position
				}
				if _, err := tx.Exec(ctx, upsertActionSQL,
					company, p.ID, step.ID, step.Label, step.Done, position, nilIfEmpty(username)); err != nil {
					return fmt.Errorf("upsert action %q/%q: %w", p.ID, step.ID, err)
				}
			}

			for _, c := range p.Patch.Comments {
				if c.ID == "" {
					continue
				}
				author := c.Author
				if author == "" {
					author = username
				}
				if _, err := tx.Exec(ctx, insertCommentSQL,
					company, p.ID, c.ID, c.Text, nilIfEmpty(author), nilIfEmpty(c.Date)); err != nil {
					return fmt.Errorf("insert comment %q/%q: %w", p.ID, c.ID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(patches), nil
}

const markInProgressSQL = `
INSERT INTO alerts.alert_states (company, alert_id, status, type, taken_by, taken_at, updated_at)
VALUES ($1, $2, 'in_progress', COALESCE($3, 'success'), $4, $5, now())
ON CONFLICT (company, alert_id)
DO UPDATE SET
  status     = 'in_progress',
  type       = COALESCE($3, alerts.alert_states.type),
  taken_by   = COALESCE(alerts.alert_states.taken_by, $4),
  taken_at   = COALESCE(alerts.alert_states.taken_at, $5),
  updated_at = now()`

const markResolvedSQL = `
INSERT INTO alerts.alert_states (company, alert_id, status, type, taken_by, taken_at, updated_at)
VALUES ($1, $2, 'resolved', COALESCE($3, 'success'), $4, NULL, now())
ON CONFLICT (company, alert_id)
DO UPDATE SET
  status     = 'resolved',
  type       = COALESCE($3, alerts.alert_states.type),
  taken_by   = COALESCE(alerts.alert_states.taken_by, $4),
  updated_at = now()`

// MarkInProgress forces the listed alerts to in_progress, stamping
// taken_by/taken_at only if the alert was never taken.
func (s *Store) MarkInProgress(ctx context.Context, company, username string, ids []string, alertType string) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(ctx, markInProgressSQL,
				company, id, nilIfEmpty(alertType), nilIfEmpty(username), now); err != nil {
				return fmt.Errorf("mark in_progress %q: %w", id, err)
			}
		}
		return nil
	})
}

// MarkResolved forces the listed alerts to resolved. A resolve never sets
// taken_at: resolving an alert nobody took leaves it untaken.
func (s *Store) MarkResolved(ctx context.Context, company, username string, ids []string, alertType string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(ctx, markResolvedSQL,
				company, id, nilIfEmpty(alertType), nilIfEmpty(username)); err != nil {
				return fmt.Errorf("mark resolved %q: %w", id, err)
			}
		}
		return nil
	})
}

// GetStates assembles the full workflow state of the given alerts. An empty
// ids list returns every alert of the company.
func (s *Store) GetStates(ctx context.Context, company string, ids []string) (map[string]*AlertState, error) {
	// nil text[] disables the id filter
	var idList []string
	if len(ids) > 0 {
		idList = ids
	}

	out := make(map[string]*AlertState)
	ensure := func(alertID string) *AlertState {
		st, ok := out[alertID]
		if !ok {
			st = &AlertState{ActionPlan: []ActionStep{}, Comments: []Comment{}}
			out[alertID] = st
		}
		return st
	}

	rows, err := s.pool.Query(ctx, `
		SELECT alert_id, status, type, taken_by, taken_at, updated_at
		FROM alerts.alert_states
		WHERE company = $1 AND ($2::text[] IS NULL OR alert_id = ANY($2))`,
		company, idList)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	for rows.Next() {
		var alertID string
		var st AlertState
		if err := rows.Scan(&alertID, &st.Status, &st.Type, &st.TakenBy, &st.TakenAt, &st.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan state: %w", err)
		}
		st.ActionPlan = []ActionStep{}
		st.Comments = []Comment{}
		out[alertID] = &st
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read states: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT alert_id, action_id, label, done, position
		FROM alerts.alert_actions
		WHERE company = $1 AND ($2::text[] IS NULL OR alert_id = ANY($2))
		ORDER BY position ASC, created_at ASC`,
		company, idList)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	for rows.Next() {
		var alertID string
		var step ActionStep
		if err := rows.Scan(&alertID, &step.ID, &step.Label, &step.Done, &step.Position); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan action: %w", err)
		}
		st := ensure(alertID)
		st.ActionPlan = append(st.ActionPlan, step)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT alert_id, comment_id, text, author, at_local, created_at
		FROM alerts.alert_comments
		WHERE company = $1 AND ($2::text[] IS NULL OR alert_id = ANY($2))
		ORDER BY created_at ASC`,
		company, idList)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	for rows.Next() {
		var alertID string
		var c Comment
		var author, atLocal *string
		var createdAt time.Time
		if err := rows.Scan(&alertID, &c.ID, &c.Text, &author, &atLocal, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if author != nil {
			c.Author = *author
		}
		if atLocal != nil && *atLocal != "" {
			c.Date = *atLocal
		} else {
			c.Date = createdAt.Format(time.RFC3339)
		}
		st := ensure(alertID)
		st.Comments = append(st.Comments, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}

	return out, nil
}

// ListByStatus returns the company's alerts in any of the given statuses,
// newest activity first.
func (s *Store) ListByStatus(ctx context.Context, company string, statuses []string, filter ListFilter) ([]StateRow, error) {
	f := filter.normalized()

	var pattern *string
	if f.Query != "" {
		p := "%" + f.Query + "%"
		pattern = &p
	}

	rows, err := s.pool.Query(ctx, `
		SELECT alert_id, status, type, taken_by, taken_at, updated_at
		FROM alerts.alert_states
		WHERE company = $1
		  AND status = ANY($2)
		  AND ($3::timestamptz IS NULL OR updated_at >= $3)
		  AND ($4::timestamptz IS NULL OR updated_at <= $4)
		  AND ($5::text IS NULL OR alert_id ILIKE $5)
		ORDER BY updated_at DESC
		LIMIT $6 OFFSET $7`,
		company, statuses, f.Since, f.Until, pattern, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("query listing: %w", err)
	}
	defer rows.Close()

	out := make([]StateRow, 0, f.Limit)
	for rows.Next() {
		var r StateRow
		if err := rows.Scan(&r.AlertID, &r.Status, &r.Type, &r.TakenBy, &r.TakenAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	return out, nil
}
