package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/meshflow/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id           uuid PRIMARY KEY,
	plan_id      text        NOT NULL,
	goal         text        NOT NULL,
	status       text        NOT NULL,
	attempt      integer     NOT NULL DEFAULT 1,
	error        text,
	snapshot     jsonb       NOT NULL,
	created_at   timestamptz NOT NULL,
	started_at   timestamptz,
	completed_at timestamptz,
	updated_at   timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS workflow_runs_status_idx ON workflow_runs (status);
CREATE INDEX IF NOT EXISTS workflow_runs_created_at_idx ON workflow_runs (created_at DESC);
`

// RunRepo — история run'ов в PostgreSQL.
//
// Хранит последний снимок каждого run в JSONB. Источник истины —
// реестр оркестратора; таблица нужна для просмотра вытесненных run'ов.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// EnsureSchema создаёт таблицу, если её нет.
func (r *RunRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save сохраняет снимок run (upsert по ID).
func (r *RunRepo) Save(ctx context.Context, snap *domain.RunSnapshot) error {
	if snap == nil {
		return ErrNoSnapshot
	}

	snapshotJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var planID, goal string
	if snap.Plan != nil {
		planID, goal = snap.Plan.PlanID, snap.Plan.Goal
	}

	query := `
		INSERT INTO workflow_runs (id, plan_id, goal, status, attempt, error, snapshot,
		                           created_at, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempt = EXCLUDED.attempt,
		    error = EXCLUDED.error,
		    snapshot = EXCLUDED.snapshot,
		    started_at = EXCLUDED.started_at,
		    completed_at = EXCLUDED.completed_at,
		    updated_at = now()
	`
	_, err = r.pool.Exec(ctx, query,
		snap.RunID,
		planID,
		goal,
		string(snap.Status),
		snap.Attempt,
		nullString(snap.Error),
		snapshotJSON,
		snap.CreatedAt,
		snap.StartedAt,
		snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetByID возвращает последний сохранённый снимок run.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RunSnapshot, error) {
	query := `SELECT snapshot FROM workflow_runs WHERE id = $1`

	var raw []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeSnapshot(raw)
}

// List возвращает снимки run'ов с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]*domain.RunSnapshot, error) {
	filter = filter.normalize()

	query := `
		SELECT snapshot
		FROM workflow_runs
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR plan_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		nullString(filter.PlanID),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.RunSnapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// HandleEvent сохраняет снимок из событий уровня run.
// События шагов снимка не несут и пропускаются.
func (r *RunRepo) HandleEvent(ctx context.Context, ev domain.Event) error {
	if !persistable(ev) {
		return nil
	}
	return r.Save(ctx, ev.Snapshot)
}

// persistable сообщает, что событие несёт снимок для сохранения.
func persistable(ev domain.Event) bool {
	switch ev.Type {
	case domain.EventRunStarted, domain.EventRunFinished, domain.EventRunRetried, domain.EventRunCancelled:
		return ev.Snapshot != nil
	default:
		return false
	}
}

// --- Helpers ---

// Ограничения выборки.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunFilter — параметры фильтрации истории.
type RunFilter struct {
	Status domain.RunStatus
	PlanID string
	Limit  int
	Offset int
}

func (f RunFilter) normalize() RunFilter {
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

func decodeSnapshot(raw []byte) (*domain.RunSnapshot, error) {
	var snap domain.RunSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
