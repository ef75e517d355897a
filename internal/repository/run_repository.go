package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type RunRepository interface {
	// CreateIfNoneRunning inserts run only when the client has no running run.
	// It reports false, with no write, when one already exists.
	CreateIfNoneRunning(ctx context.Context, run *models.Run) (bool, error)
	AppendDecision(ctx context.Context, clientID string, rec models.DecisionRecord) error
	// Finish moves a running run to its terminal status. False means the run
	// was no longer running.
	Finish(ctx context.Context, clientID, runID string, status models.RunStatus, reason string, costUSD float64, at time.Time) (bool, error)
	GetByID(ctx context.Context, clientID, runID string) (*models.Run, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]*models.Run, error)
	SpendSince(ctx context.Context, clientID string, since time.Time) (float64, error)

	// Cross-tenant scans used by the watchdog.
	ListStale(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.Run, error)
	FailIfRunning(ctx context.Context, runID, reason string, at time.Time) (bool, error)
	Lookup(ctx context.Context, runID string) (*models.Run, error)
	// ListUnrecordedStale returns runs failed as stale that have no resolved
	// stale_run incident.
	ListUnrecordedStale(ctx context.Context, afterID string, limit int) ([]*models.Run, error)
}

const runColumns = `id, client_id, status, reason, cost_usd, started_at, finished_at`

const (
	queryRunCreate = `
		INSERT INTO runs (id, client_id, status, reason, cost_usd, started_at)
		SELECT $1::text, $2::text, 'running', '', 0, $3::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM runs WHERE client_id = $2 AND status = 'running'
		)
		ON CONFLICT DO NOTHING
	`
	queryRunAppendDecision = `
		INSERT INTO run_decisions (run_id, seq, stage, input_summary, output_summary, rationale, cost_usd, input_tokens, output_tokens, created_at)
		SELECT $1::text, $3::int, $4::text, $5::text, $6::text, $7::text, $8::float8, $9::int, $10::int, $11::timestamptz
		WHERE EXISTS (SELECT 1 FROM runs WHERE id = $1 AND client_id = $2::text)
	`
	queryRunFinish = `
		UPDATE runs
		SET status = $3,
			reason = $4,
			cost_usd = $5,
			finished_at = $6
		WHERE id = $1 AND client_id = $2 AND status = 'running'
	`
	queryRunGet       = `SELECT ` + runColumns + ` FROM runs WHERE id = $1 AND client_id = $2`
	queryRunDecisions = `
		SELECT run_id, seq, stage, input_summary, output_summary, rationale, cost_usd, input_tokens, output_tokens, created_at
		FROM run_decisions WHERE run_id = $1 ORDER BY seq
	`
	queryRunListByClient = `SELECT ` + runColumns + ` FROM runs WHERE client_id = $1 ORDER BY started_at DESC LIMIT $2`
	queryRunSpendSince   = `SELECT COALESCE(SUM(cost_usd), 0) FROM runs WHERE client_id = $1 AND started_at >= $2`

	queryRunListStale = `
		SELECT ` + runColumns + ` FROM runs
		WHERE status = 'running' AND started_at < $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`
	queryRunFailIfRunning = `
		UPDATE runs
		SET status = 'failed',
			reason = $2,
			finished_at = $3
		WHERE id = $1 AND status = 'running'
	`
	queryRunLookup = `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	queryRunListUnrecordedStale = `
		SELECT ` + runColumns + ` FROM runs r
		WHERE r.status = 'failed' AND r.reason = $1 AND r.id > $2
			AND NOT EXISTS (
				SELECT 1 FROM incidents i
				WHERE i.entity_id = r.id AND i.kind = 'stale_run' AND i.resolved_at IS NOT NULL
			)
		ORDER BY r.id
		LIMIT $3
	`
)

const maxRunPage = 500

type runRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.ClientID, &run.Status, &run.Reason, &run.CostUSD, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.FinishedAt = timePtr(finished)
	return &run, nil
}

func (r *runRepository) CreateIfNoneRunning(ctx context.Context, run *models.Run) (bool, error) {
	res, err := r.db.ExecContext(ctx, queryRunCreate, run.ID, run.ClientID, run.StartedAt)
	if err != nil {
		slog.Info(err.Error())
		return false, mapPQ(err)
	}
	created, err := rowsChanged(res)
	if err != nil {
		return false, err
	}
	if created {
		run.Status = models.RunStatusRunning
	}
	return created, nil
}

func (r *runRepository) AppendDecision(ctx context.Context, clientID string, rec models.DecisionRecord) error {
	res, err := r.db.ExecContext(ctx, queryRunAppendDecision, rec.RunID, clientID, rec.Seq, rec.Stage,
		rec.InputSummary, rec.OutputSummary, rec.Rationale, rec.CostUSD, rec.InputTokens, rec.OutputTokens, rec.CreatedAt)
	if err != nil {
		slog.Info(err.Error())
		return mapPQ(err)
	}
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *runRepository) Finish(ctx context.Context, clientID, runID string, status models.RunStatus, reason string, costUSD float64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, queryRunFinish, runID, clientID, status, reason, costUSD, at)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return rowsChanged(res)
}

func (r *runRepository) GetByID(ctx context.Context, clientID, runID string) (*models.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, queryRunGet, runID, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, queryRunDecisions, runID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d models.DecisionRecord
		if err := rows.Scan(&d.RunID, &d.Seq, &d.Stage, &d.InputSummary, &d.OutputSummary, &d.Rationale,
			&d.CostUSD, &d.InputTokens, &d.OutputTokens, &d.CreatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		run.Decisions = append(run.Decisions, d)
	}
	return run, rows.Err()
}

func (r *runRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.Run, error) {
	return r.list(ctx, queryRunListByClient, clientID, clampLimit(limit, maxRunPage))
}

func (r *runRepository) SpendSince(ctx context.Context, clientID string, since time.Time) (float64, error) {
	var total float64
	if err := r.db.QueryRowContext(ctx, queryRunSpendSince, clientID, since).Scan(&total); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return total, nil
}

func (r *runRepository) ListStale(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.Run, error) {
	return r.list(ctx, queryRunListStale, cutoff, afterID, clampLimit(limit, maxRunPage))
}

func (r *runRepository) FailIfRunning(ctx context.Context, runID, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, queryRunFailIfRunning, runID, reason, at)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return rowsChanged(res)
}

func (r *runRepository) Lookup(ctx context.Context, runID string) (*models.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, queryRunLookup, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return run, nil
}

func (r *runRepository) ListUnrecordedStale(ctx context.Context, afterID string, limit int) ([]*models.Run, error) {
	return r.list(ctx, queryRunListUnrecordedStale, models.RunReasonStale, afterID, clampLimit(limit, maxRunPage))
}

func (r *runRepository) list(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
