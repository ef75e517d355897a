// Package watchdog finds state that diverged from what the orchestrator
// intended and corrects it. Each Probe follows sense, decide, act, verify;
// the Watchdog pages through the sensed entities and records incidents.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
)

// Candidate is one sensed entity. EntityID doubles as the keyset cursor
// unless Cursor is set.
type Candidate struct {
	EntityType string
	EntityID   string
	ClientID   string
	Detail     string
	Cursor     string

	// post candidates only
	Platform   string
	PlatformID string
}

type Decision struct {
	Divergent   bool
	Detail      string
	Remediation string
	// KeepOpen leaves the incident open for an operator to resolve.
	KeepOpen bool
}

type Probe interface {
	Name() string
	Kind() models.IncidentKind
	Sense(ctx context.Context, afterID string, limit int) ([]Candidate, error)
	Decide(ctx context.Context, c Candidate) (Decision, error)
	// Act applies the correction with a conditional write. false means the
	// entity moved on meanwhile and the probe abstains.
	Act(ctx context.Context, c Candidate) (bool, error)
	Verify(ctx context.Context, c Candidate) (bool, error)
}

// Recoverer is implemented by probes whose Act changes state. Unrecorded
// senses entities the probe already corrected whose incident was never
// resolved, so a pass interrupted between Act and the incident write is
// completed later.
type Recoverer interface {
	Unrecorded(ctx context.Context, afterID string, limit int) ([]Candidate, error)
	Remediation() string
}

type Config struct {
	PageSize int
	MaxPages int
}

type ProbeReport struct {
	Probe             string `json:"probe"`
	Scanned           int    `json:"scanned"`
	Divergent         int    `json:"divergent"`
	Corrected         int    `json:"corrected"`
	Abstained         int    `json:"abstained"`
	IncidentsOpened   int    `json:"incidents_opened"`
	IncidentsResolved int    `json:"incidents_resolved"`
	Recovered         int    `json:"recovered"`
	Errors            int    `json:"errors"`
	Truncated         bool   `json:"truncated"`
}

type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Probes    []ProbeReport `json:"probes"`
}

// Writes counts the state changes a pass made.
func (r Report) Writes() int {
	n := 0
	for _, p := range r.Probes {
		n += p.Corrected + p.IncidentsOpened + p.IncidentsResolved
	}
	return n
}

type Watchdog struct {
	incidents repository.IncidentRepository
	probes    []Probe
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string
}

func New(incidents repository.IncidentRepository, cfg Config, logger *slog.Logger, probes ...Probe) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	return &Watchdog{
		incidents: incidents,
		probes:    probes,
		cfg:       cfg,
		logger:    logger.With("component", "watchdog"),
		tracer:    otel.Tracer("postpilot/watchdog"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// RunPass runs every probe once over at most PageSize*MaxPages entities each.
// Failures on one entity are counted and left for the next pass.
func (w *Watchdog) RunPass(ctx context.Context) Report {
	ctx, span := w.tracer.Start(ctx, "watchdog.pass")
	defer span.End()

	report := Report{StartedAt: w.now().UTC()}
	started := time.Now()
	for _, p := range w.probes {
		if ctx.Err() != nil {
			break
		}
		pr := w.runProbe(ctx, p)
		report.Probes = append(report.Probes, pr)
		span.SetAttributes(attribute.Int(p.Name()+".divergent", pr.Divergent))
	}
	report.Duration = time.Since(started)
	w.logger.Info("watchdog pass finished", "writes", report.Writes(), "duration", report.Duration)
	return report
}

func (w *Watchdog) runProbe(ctx context.Context, p Probe) ProbeReport {
	ctx, span := w.tracer.Start(ctx, "watchdog.probe."+p.Name())
	defer span.End()

	pr := ProbeReport{Probe: p.Name()}
	log := w.logger.With("probe", p.Name())
	pr.Truncated = w.scan(ctx, p.Sense, &pr, log, func(c Candidate) {
		pr.Scanned++
		w.handle(ctx, p, c, &pr, log.With("entity_id", c.EntityID, "client_id", c.ClientID))
	})

	if rec, ok := p.(Recoverer); ok && ctx.Err() == nil {
		truncated := w.scan(ctx, rec.Unrecorded, &pr, log, func(c Candidate) {
			w.recordLate(ctx, p, rec, c, &pr, log.With("entity_id", c.EntityID, "client_id", c.ClientID))
		})
		pr.Truncated = pr.Truncated || truncated
	}
	return pr
}

// scan pages through sense, at most MaxPages of PageSize each. It reports
// whether the page limit cut the scan short.
func (w *Watchdog) scan(ctx context.Context, sense func(context.Context, string, int) ([]Candidate, error),
	pr *ProbeReport, log *slog.Logger, each func(Candidate)) bool {
	cursor := ""
	for page := 0; page < w.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			return false
		}
		candidates, err := sense(ctx, cursor, w.cfg.PageSize)
		if err != nil {
			pr.Errors++
			log.Error("sense failed", "err", err)
			return false
		}
		for _, c := range candidates {
			each(c)
		}
		if len(candidates) < w.cfg.PageSize {
			return false
		}
		last := candidates[len(candidates)-1]
		cursor = last.Cursor
		if cursor == "" {
			cursor = last.EntityID
		}
	}
	log.Warn("pass stopped at page limit", "pages", w.cfg.MaxPages)
	return true
}

func (w *Watchdog) handle(ctx context.Context, p Probe, c Candidate, pr *ProbeReport, log *slog.Logger) {
	d, err := p.Decide(ctx, c)
	if err != nil {
		pr.Errors++
		log.Warn("decide failed, retrying next pass", "err", err)
		return
	}
	if !d.Divergent {
		return
	}
	pr.Divergent++

	applied, err := p.Act(ctx, c)
	if err != nil {
		pr.Errors++
		log.Error("act failed", "err", err)
		return
	}
	if !applied {
		pr.Abstained++
		log.Info("entity changed before correction, abstaining")
		return
	}

	ok, err := p.Verify(ctx, c)
	if err != nil || !ok {
		pr.Errors++
		log.Error("correction not visible on re-read", "err", err)
		return
	}
	if !d.KeepOpen {
		pr.Corrected++
	}

	if err := w.record(ctx, p, c, d, pr); err != nil {
		pr.Errors++
		log.Error("record incident failed", "err", err)
		return
	}
	log.Info("divergence handled", "kind", p.Kind(), "detail", d.Detail)
}

// recordLate writes the incident for an entity a previous pass corrected but
// could not record.
func (w *Watchdog) recordLate(ctx context.Context, p Probe, rec Recoverer, c Candidate, pr *ProbeReport, log *slog.Logger) {
	ok, err := p.Verify(ctx, c)
	if err != nil || !ok {
		pr.Errors++
		log.Error("corrected entity not visible on re-read", "err", err)
		return
	}
	opened, resolved := pr.IncidentsOpened, pr.IncidentsResolved
	if err := w.record(ctx, p, c, Decision{Detail: c.Detail, Remediation: rec.Remediation()}, pr); err != nil {
		pr.Errors++
		log.Error("record incident failed", "err", err)
		return
	}
	if pr.IncidentsOpened > opened || pr.IncidentsResolved > resolved {
		pr.Recovered++
		log.Info("incident recorded for earlier correction", "kind", p.Kind())
	}
}

// record opens at most one incident per (entity, kind) and resolves it unless
// the decision keeps it open.
func (w *Watchdog) record(ctx context.Context, p Probe, c Candidate, d Decision, pr *ProbeReport) error {
	detail := d.Detail
	if detail == "" {
		detail = c.Detail
	}
	now := w.now().UTC()
	incident := &models.Incident{
		ID:         w.newID(),
		ClientID:   c.ClientID,
		Kind:       p.Kind(),
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Detail:     detail,
		DetectedAt: now,
	}
	created, err := w.incidents.Open(ctx, incident)
	if err != nil {
		return err
	}
	if created {
		pr.IncidentsOpened++
	}
	if d.KeepOpen {
		return nil
	}

	id := incident.ID
	if !created {
		existing, err := w.incidents.FindOpen(ctx, c.EntityID, p.Kind())
		if err != nil {
			return err
		}
		id = existing.ID
	}
	resolved, err := w.incidents.Resolve(ctx, id, d.Remediation, now)
	if err != nil {
		return err
	}
	if resolved {
		pr.IncidentsResolved++
	}
	return nil
}
