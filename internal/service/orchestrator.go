package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/stage"
)

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

type SkipReason string

const (
	SkipPaused               SkipReason = "paused"
	SkipSubscriptionInactive SkipReason = "subscription_inactive"
	SkipRunInProgress        SkipReason = "run_in_progress"
)

type CycleResult struct {
	ClientID   string     `json:"client_id"`
	RunID      string     `json:"run_id,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	// Superseded is set when the run had already been failed by the watchdog
	// and the final write was discarded.
	Superseded bool    `json:"superseded,omitempty"`
	Decisions  int     `json:"decisions"`
	CostUSD    float64 `json:"cost_usd"`
}

// CycleRunner is what the triggers (cron, queue, admin API) call.
type CycleRunner interface {
	RunCycle(ctx context.Context, clientID string) (CycleResult, error)
}

type Orchestrator struct {
	clients  repository.ClientRepository
	runs     repository.RunRepository
	posts    repository.PostRepository
	oracle   EligibilityOracle
	registry *stage.Registry
	cfg      stage.Config
	archive  RunArchiver
	logger   *slog.Logger
	tracer   trace.Tracer

	now   func() time.Time
	newID func() string
}

type OrchestratorOption func(*Orchestrator)

func WithArchive(a RunArchiver) OrchestratorOption {
	return func(o *Orchestrator) { o.archive = a }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	clients repository.ClientRepository,
	runs repository.RunRepository,
	posts repository.PostRepository,
	oracle EligibilityOracle,
	registry *stage.Registry,
	cfg stage.Config,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		clients:  clients,
		runs:     runs,
		posts:    posts,
		oracle:   oracle,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		tracer:   otel.Tracer("postpilot/service"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunCycle runs one cycle for the client. Skips and stage failures are
// reported in the result; the error is only set for store failures outside
// stage execution.
func (o *Orchestrator) RunCycle(ctx context.Context, clientID string) (CycleResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_cycle", trace.WithAttributes(attribute.String("client_id", clientID)))
	defer span.End()

	result := CycleResult{ClientID: clientID}
	log := o.logger.With("client_id", clientID)

	client, err := o.clients.GetByID(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("load client %s: %w", clientID, err)
	}

	client, skip, err := o.gate(ctx, client, log)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	if skip != "" {
		result.Outcome = OutcomeSkipped
		result.SkipReason = skip
		span.SetAttributes(attribute.String("skip_reason", string(skip)))
		log.Info("cycle skipped", "reason", skip)
		return result, nil
	}

	run := &models.Run{ID: o.newID(), ClientID: client.ID, StartedAt: o.now().UTC()}
	created, err := o.runs.CreateIfNoneRunning(ctx, run)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("create run: %w", err)
	}
	if !created {
		result.Outcome = OutcomeSkipped
		result.SkipReason = SkipRunInProgress
		log.Info("cycle skipped", "reason", SkipRunInProgress)
		return result, nil
	}
	result.RunID = run.ID
	span.SetAttributes(attribute.String("run_id", run.ID))
	log = log.With("run_id", run.ID)
	log.Info("run started")

	in := stage.NewInput(client, run, o.cfg)
	failure := o.executeStages(ctx, in, log)
	result.Decisions = len(in.Results)
	result.CostUSD = in.RunCostUSD()

	status, reason := models.RunStatusCompleted, models.RunReasonCompleted
	if failure != nil {
		status, reason = models.RunStatusFailed, failure.Error()
		span.SetStatus(codes.Error, reason)
	}
	result.Reason = reason

	// Finalize even when the trigger was cancelled mid-cycle.
	bg := context.WithoutCancel(ctx)
	finished, err := o.runs.Finish(bg, client.ID, run.ID, status, reason, result.CostUSD, o.now().UTC())
	if err != nil {
		span.RecordError(err)
		result.Outcome = OutcomeFailed
		return result, fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	if !finished {
		result.Superseded = true
		result.Outcome = OutcomeFailed
		log.Warn("run was no longer running at finalization, final write discarded", "wanted", status)
		return result, nil
	}

	if failure != nil {
		result.Outcome = OutcomeFailed
		log.Warn("run failed", "reason", reason)
	} else {
		result.Outcome = OutcomeCompleted
		log.Info("run completed", "cost_usd", result.CostUSD)
	}
	o.archiveRun(bg, client.ID, run.ID, log)
	return result, nil
}

// gate applies, in order: internal bypass, paused, lazy trial expiry, then
// the subscription check.
func (o *Orchestrator) gate(ctx context.Context, client *models.Client, log *slog.Logger) (*models.Client, SkipReason, error) {
	if client.Internal {
		return client, "", nil
	}
	if client.Paused {
		return client, SkipPaused, nil
	}

	now := o.now().UTC()
	if updated := o.oracle.ExpireTrialIfPastDue(client, now); updated != client {
		changed, err := o.clients.ExpireTrial(ctx, client.ID, now)
		if err != nil {
			return client, "", fmt.Errorf("expire trial: %w", err)
		}
		if changed {
			log.Info("trial expired", "trial_ends_at", client.TrialEndsAt)
		}
		client = updated
	}

	if !o.oracle.IsSubscriptionActive(client) {
		return client, SkipSubscriptionInactive, nil
	}
	return client, "", nil
}

func (o *Orchestrator) executeStages(ctx context.Context, in *stage.Input, log *slog.Logger) error {
	bg := context.WithoutCancel(ctx)
	for i, st := range o.registry.Stages() {
		name := st.Name()
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: string(name), Err: err}
		}

		started := time.Now()
		res, err := o.execute(ctx, st, in)
		if err != nil {
			log.Warn("stage failed", "stage", name, "err", err)
			return &StageError{Stage: string(name), Err: err}
		}

		rec := res.Decision(in.Run.ID, i+1, name, o.now().UTC())
		if err := o.runs.AppendDecision(bg, in.Client.ID, rec); err != nil {
			return &StageError{Stage: string(name), Err: fmt.Errorf("record decision: %w", err)}
		}
		in.Results[name] = res
		log.Debug("stage completed", "stage", name, "duration", time.Since(started), "cost_usd", res.CostUSD)
	}
	return nil
}

// execute runs one stage, turning a panic into that stage's error.
func (o *Orchestrator) execute(ctx context.Context, st stage.Stage, in *stage.Input) (res stage.Result, err error) {
	ctx, span := o.tracer.Start(ctx, "stage."+string(st.Name()))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			o.logger.Error("stage panicked", "stage", st.Name(), "client_id", in.Client.ID, "run_id", in.Run.ID,
				"panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return st.Execute(ctx, in)
}

func (o *Orchestrator) archiveRun(ctx context.Context, clientID, runID string, log *slog.Logger) {
	if o.archive == nil {
		return
	}
	run, err := o.runs.GetByID(ctx, clientID, runID)
	if err != nil {
		log.Warn("archive: load run", "err", err)
		return
	}
	var posts []*models.Post
	if o.posts != nil {
		if posts, err = o.posts.ListByRun(ctx, clientID, runID); err != nil {
			log.Warn("archive: load posts", "err", err)
		}
	}
	key, err := o.archive.Archive(ctx, run, posts)
	if err != nil {
		log.Warn("archive run failed", "err", err)
		return
	}
	log.Info("run archived", "key", key)
}
