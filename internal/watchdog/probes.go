package watchdog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/repository"
)

// StaleRunProbe fails runs left running past the threshold.
type StaleRunProbe struct {
	runs      repository.RunRepository
	threshold time.Duration
	now       func() time.Time
}

func NewStaleRunProbe(runs repository.RunRepository, threshold time.Duration) *StaleRunProbe {
	return &StaleRunProbe{runs: runs, threshold: threshold, now: time.Now}
}

func (p *StaleRunProbe) Name() string             { return "stale_run" }
func (p *StaleRunProbe) Kind() models.IncidentKind { return models.IncidentStaleRun }

func (p *StaleRunProbe) Sense(ctx context.Context, afterID string, limit int) ([]Candidate, error) {
	runs, err := p.runs.ListStale(ctx, p.now().UTC().Add(-p.threshold), afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(runs))
	for _, r := range runs {
		out = append(out, Candidate{
			EntityType: models.EntityRun,
			EntityID:   r.ID,
			ClientID:   r.ClientID,
			Detail:     fmt.Sprintf("run running since %s", r.StartedAt.UTC().Format(time.RFC3339)),
		})
	}
	return out, nil
}

// Decide treats every sensed run as stale; the query already applied the cutoff.
func (p *StaleRunProbe) Decide(ctx context.Context, c Candidate) (Decision, error) {
	return Decision{
		Divergent:   true,
		Detail:      c.Detail,
		Remediation: p.Remediation(),
	}, nil
}

func (p *StaleRunProbe) Remediation() string { return "run marked failed: " + models.RunReasonStale }

func (p *StaleRunProbe) Unrecorded(ctx context.Context, afterID string, limit int) ([]Candidate, error) {
	runs, err := p.runs.ListUnrecordedStale(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(runs))
	for _, r := range runs {
		out = append(out, Candidate{
			EntityType: models.EntityRun,
			EntityID:   r.ID,
			ClientID:   r.ClientID,
			Detail:     fmt.Sprintf("run started %s failed as stale", r.StartedAt.UTC().Format(time.RFC3339)),
		})
	}
	return out, nil
}

func (p *StaleRunProbe) Act(ctx context.Context, c Candidate) (bool, error) {
	return p.runs.FailIfRunning(ctx, c.EntityID, models.RunReasonStale, p.now().UTC())
}

func (p *StaleRunProbe) Verify(ctx context.Context, c Candidate) (bool, error) {
	run, err := p.runs.Lookup(ctx, c.EntityID)
	if err != nil {
		return false, err
	}
	return run.Status == models.RunStatusFailed && run.Reason == models.RunReasonStale, nil
}

// PhantomPostProbe fails published posts the platform no longer has.
type PhantomPostProbe struct {
	posts     repository.PostRepository
	platforms *platform.Registry
	lookback  time.Duration
	timeout   time.Duration
	now       func() time.Time
}

func NewPhantomPostProbe(posts repository.PostRepository, platforms *platform.Registry, lookback, timeout time.Duration) *PhantomPostProbe {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PhantomPostProbe{posts: posts, platforms: platforms, lookback: lookback, timeout: timeout, now: time.Now}
}

func (p *PhantomPostProbe) Name() string             { return "phantom_post" }
func (p *PhantomPostProbe) Kind() models.IncidentKind { return models.IncidentPhantomPost }

func (p *PhantomPostProbe) Sense(ctx context.Context, afterID string, limit int) ([]Candidate, error) {
	var since time.Time
	if p.lookback > 0 {
		since = p.now().UTC().Add(-p.lookback)
	}
	posts, err := p.posts.ListPublished(ctx, since, afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(posts))
	for _, post := range posts {
		out = append(out, Candidate{
			EntityType: models.EntityPost,
			EntityID:   post.ID,
			ClientID:   post.ClientID,
			Platform:   post.Platform,
			PlatformID: post.PlatformID,
		})
	}
	return out, nil
}

// Decide asks the platform. Posts on an unconfigured platform are left alone.
func (p *PhantomPostProbe) Decide(ctx context.Context, c Candidate) (Decision, error) {
	pc, ok := p.platforms.Get(c.Platform)
	if !ok || c.PlatformID == "" {
		return Decision{}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	exists, err := pc.Exists(callCtx, c.PlatformID)
	if err != nil {
		return Decision{}, fmt.Errorf("check %s %s: %w", c.Platform, c.PlatformID, err)
	}
	if exists {
		return Decision{}, nil
	}
	return Decision{
		Divergent:   true,
		Detail:      fmt.Sprintf("%s item %s not found", c.Platform, c.PlatformID),
		Remediation: p.Remediation(),
	}, nil
}

func (p *PhantomPostProbe) Remediation() string { return "post marked failed: " + models.PostErrPhantom }

func (p *PhantomPostProbe) Unrecorded(ctx context.Context, afterID string, limit int) ([]Candidate, error) {
	posts, err := p.posts.ListUnrecordedPhantoms(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(posts))
	for _, post := range posts {
		out = append(out, Candidate{
			EntityType: models.EntityPost,
			EntityID:   post.ID,
			ClientID:   post.ClientID,
			Detail:     fmt.Sprintf("%s item %s not found", post.Platform, post.PlatformID),
			Platform:   post.Platform,
			PlatformID: post.PlatformID,
		})
	}
	return out, nil
}

func (p *PhantomPostProbe) Act(ctx context.Context, c Candidate) (bool, error) {
	return p.posts.FailIfPublished(ctx, c.EntityID, models.PostErrPhantom, p.now().UTC())
}

func (p *PhantomPostProbe) Verify(ctx context.Context, c Candidate) (bool, error) {
	post, err := p.posts.Lookup(ctx, c.EntityID)
	if err != nil {
		return false, err
	}
	return post.Status == models.PostStatusFailed && post.ErrorMessage != nil && *post.ErrorMessage == models.PostErrPhantom, nil
}

// CredentialProbe reports platforms whose credentials stopped working. It
// changes no state; the incident stays open until an operator resolves it.
type CredentialProbe struct {
	platforms *platform.Registry
	timeout   time.Duration
}

func NewCredentialProbe(platforms *platform.Registry, timeout time.Duration) *CredentialProbe {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CredentialProbe{platforms: platforms, timeout: timeout}
}

func (p *CredentialProbe) Name() string             { return "credential_health" }
func (p *CredentialProbe) Kind() models.IncidentKind { return models.IncidentOther }

func (p *CredentialProbe) Sense(ctx context.Context, afterID string, limit int) ([]Candidate, error) {
	checkers := p.platforms.HealthCheckers()
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		if name > afterID {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}
	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		out = append(out, Candidate{EntityType: models.EntityPlatform, EntityID: name, Platform: name})
	}
	return out, nil
}

func (p *CredentialProbe) Decide(ctx context.Context, c Candidate) (Decision, error) {
	hc, ok := p.platforms.HealthCheckers()[c.Platform]
	if !ok {
		return Decision{}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := hc.CheckHealth(callCtx); err != nil {
		return Decision{
			Divergent:   true,
			Detail:      fmt.Sprintf("%s credential check failed: %v", c.Platform, err),
			Remediation: "operator notified",
			KeepOpen:    true,
		}, nil
	}
	return Decision{}, nil
}

func (p *CredentialProbe) Act(ctx context.Context, c Candidate) (bool, error)    { return true, nil }
func (p *CredentialProbe) Verify(ctx context.Context, c Candidate) (bool, error) { return true, nil }
