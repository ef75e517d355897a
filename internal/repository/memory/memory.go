// Package memory is an in-process store with the same conditional update
// semantics as the Postgres repositories. Used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postpilot/internal/migrate"
	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
)

type Store struct {
	mu        sync.Mutex
	clients   map[string]*models.Client
	runs      map[string]*models.Run
	posts     map[string]*models.Post
	incidents map[string]*models.Incident
}

func New() *Store {
	return &Store{
		clients:   map[string]*models.Client{},
		runs:      map[string]*models.Run{},
		posts:     map[string]*models.Post{},
		incidents: map[string]*models.Incident{},
	}
}

func (s *Store) Clients() repository.ClientRepository     { return &clientRepo{s} }
func (s *Store) Runs() repository.RunRepository           { return &runRepo{s} }
func (s *Store) Posts() repository.PostRepository         { return &postRepo{s} }
func (s *Store) Incidents() repository.IncidentRepository { return &incidentRepo{s} }

// CurrentVersion reports the embedded schema version; memory stores are
// always current.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	return migrate.LatestVersion(), nil
}

type clientRepo struct{ s *Store }

func (r *clientRepo) Create(ctx context.Context, client *models.Client) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.clients[client.ID]; ok {
		return repository.ErrConflict
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	client.UpdatedAt = client.CreatedAt
	c := *client
	r.s.clients[c.ID] = &c
	return nil
}

func (r *clientRepo) GetByID(ctx context.Context, id string) (*models.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *clientRepo) ListPage(ctx context.Context, afterID string, limit int) ([]*models.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Client
	for _, c := range pageMatching(r.s.clients, afterID, limit, func(*models.Client) bool { return true }) {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *clientRepo) ExpireTrial(ctx context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clients[id]
	if !ok || !c.TrialPastDue(now) {
		return false, nil
	}
	c.SubscriptionStatus = models.SubscriptionExpired
	c.UpdatedAt = now
	return true, nil
}

func (r *clientRepo) SetPaused(ctx context.Context, id string, paused bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clients[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Paused = paused
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *clientRepo) UpdateSubscription(ctx context.Context, id string, status models.SubscriptionStatus, trialEndsAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clients[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.SubscriptionStatus = status
	c.TrialEndsAt = trialEndsAt
	c.UpdatedAt = time.Now().UTC()
	return nil
}

type runRepo struct{ s *Store }

func copyRun(run *models.Run) *models.Run {
	cp := *run
	cp.Decisions = append([]models.DecisionRecord(nil), run.Decisions...)
	return &cp
}

func (r *runRepo) CreateIfNoneRunning(ctx context.Context, run *models.Run) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.clients[run.ClientID]; !ok {
		return false, repository.ErrNotFound
	}
	for _, existing := range r.s.runs {
		if existing.ClientID == run.ClientID && existing.Status == models.RunStatusRunning {
			return false, nil
		}
	}
	if _, ok := r.s.runs[run.ID]; ok {
		return false, nil
	}
	run.Status = models.RunStatusRunning
	run.Reason = ""
	r.s.runs[run.ID] = copyRun(run)
	return true, nil
}

func (r *runRepo) AppendDecision(ctx context.Context, clientID string, rec models.DecisionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[rec.RunID]
	if !ok || run.ClientID != clientID {
		return repository.ErrNotFound
	}
	for _, d := range run.Decisions {
		if d.Seq == rec.Seq {
			return repository.ErrConflict
		}
	}
	run.Decisions = append(run.Decisions, rec)
	return nil
}

func (r *runRepo) Finish(ctx context.Context, clientID, runID string, status models.RunStatus, reason string, costUSD float64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok || run.ClientID != clientID || run.Status != models.RunStatusRunning {
		return false, nil
	}
	run.Status = status
	run.Reason = reason
	run.CostUSD = costUSD
	run.FinishedAt = &at
	return true, nil
}

func (r *runRepo) GetByID(ctx context.Context, clientID, runID string) (*models.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok || run.ClientID != clientID {
		return nil, repository.ErrNotFound
	}
	return copyRun(run), nil
}

func (r *runRepo) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Run
	for _, run := range r.s.runs {
		if run.ClientID == clientID {
			cp := copyRun(run)
			cp.Decisions = nil
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *runRepo) SpendSince(ctx context.Context, clientID string, since time.Time) (float64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total float64
	for _, run := range r.s.runs {
		if run.ClientID == clientID && !run.StartedAt.Before(since) {
			total += run.CostUSD
		}
	}
	return total, nil
}

func (r *runRepo) ListStale(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stale := func(run *models.Run) bool {
		return run.Status == models.RunStatusRunning && run.StartedAt.Before(cutoff)
	}
	var out []*models.Run
	for _, run := range pageMatching(r.s.runs, afterID, limit, stale) {
		out = append(out, copyRun(run))
	}
	return out, nil
}

func (r *runRepo) FailIfRunning(ctx context.Context, runID, reason string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok || run.Status != models.RunStatusRunning {
		return false, nil
	}
	run.Status = models.RunStatusFailed
	run.Reason = reason
	run.FinishedAt = &at
	return true, nil
}

func (r *runRepo) Lookup(ctx context.Context, runID string) (*models.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRun(run), nil
}

func (r *runRepo) ListUnrecordedStale(ctx context.Context, afterID string, limit int) ([]*models.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	unrecorded := func(run *models.Run) bool {
		return run.Status == models.RunStatusFailed && run.Reason == models.RunReasonStale &&
			!r.s.hasResolvedIncident(run.ID, models.IncidentStaleRun)
	}
	var out []*models.Run
	for _, run := range pageMatching(r.s.runs, afterID, limit, unrecorded) {
		out = append(out, copyRun(run))
	}
	return out, nil
}

// hasResolvedIncident must be called with s.mu held.
func (s *Store) hasResolvedIncident(entityID string, kind models.IncidentKind) bool {
	for _, inc := range s.incidents {
		if inc.EntityID == entityID && inc.Kind == kind && !inc.Open() {
			return true
		}
	}
	return false
}

// pageMatching applies the filter before the limit, like a WHERE clause.
func pageMatching[T any](m map[string]T, afterID string, limit int, keep func(T) bool) []T {
	ids := make([]string, 0, len(m))
	for id, v := range m {
		if id > afterID && keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

type postRepo struct{ s *Store }

func copyPost(p *models.Post) *models.Post {
	cp := *p
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		cp.ErrorMessage = &msg
	}
	return &cp
}

func (r *postRepo) Create(ctx context.Context, post *models.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.posts[post.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.s.runs[post.RunID]; !ok {
		return repository.ErrNotFound
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.UpdatedAt = post.CreatedAt
	r.s.posts[post.ID] = copyPost(post)
	return nil
}

func (r *postRepo) SetPlatformID(ctx context.Context, clientID, postID, platformID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.ClientID != clientID || p.Status != models.PostStatusDraft || p.PlatformID != "" {
		return false, nil
	}
	p.PlatformID = platformID
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *postRepo) MarkPublished(ctx context.Context, clientID, postID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.ClientID != clientID || p.Status != models.PostStatusDraft {
		return false, nil
	}
	p.Status = models.PostStatusPublished
	p.PublishedAt = &at
	p.UpdatedAt = at
	return true, nil
}

func (r *postRepo) MarkFailed(ctx context.Context, clientID, postID, message string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.ClientID != clientID || p.Status != models.PostStatusDraft {
		return false, nil
	}
	p.Status = models.PostStatusFailed
	p.ErrorMessage = &message
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *postRepo) ListByRun(ctx context.Context, clientID, runID string) ([]*models.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Post
	for _, p := range r.s.posts {
		if p.ClientID == clientID && p.RunID == runID {
			out = append(out, copyPost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *postRepo) StatusCounts(ctx context.Context, clientID string, since time.Time) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var failed, total int
	for _, p := range r.s.posts {
		if p.ClientID != clientID || p.CreatedAt.Before(since) {
			continue
		}
		total++
		if p.Status == models.PostStatusFailed {
			failed++
		}
	}
	return failed, total, nil
}

func (r *postRepo) ListPublished(ctx context.Context, since time.Time, afterID string, limit int) ([]*models.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	published := func(p *models.Post) bool {
		return p.Status == models.PostStatusPublished && p.PublishedAt != nil && !p.PublishedAt.Before(since)
	}
	var out []*models.Post
	for _, p := range pageMatching(r.s.posts, afterID, limit, published) {
		out = append(out, copyPost(p))
	}
	return out, nil
}

func (r *postRepo) FailIfPublished(ctx context.Context, postID, message string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.Status != models.PostStatusPublished {
		return false, nil
	}
	p.Status = models.PostStatusFailed
	p.ErrorMessage = &message
	p.UpdatedAt = at
	return true, nil
}

func (r *postRepo) Lookup(ctx context.Context, postID string) (*models.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPost(p), nil
}

func (r *postRepo) ListUnrecordedPhantoms(ctx context.Context, afterID string, limit int) ([]*models.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	unrecorded := func(p *models.Post) bool {
		return p.Status == models.PostStatusFailed && p.ErrorMessage != nil && *p.ErrorMessage == models.PostErrPhantom &&
			!r.s.hasResolvedIncident(p.ID, models.IncidentPhantomPost)
	}
	var out []*models.Post
	for _, p := range pageMatching(r.s.posts, afterID, limit, unrecorded) {
		out = append(out, copyPost(p))
	}
	return out, nil
}

type incidentRepo struct{ s *Store }

func copyIncident(i *models.Incident) *models.Incident {
	cp := *i
	return &cp
}

func (r *incidentRepo) Open(ctx context.Context, incident *models.Incident) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.incidents[incident.ID]; ok {
		return false, nil
	}
	for _, existing := range r.s.incidents {
		if existing.EntityID == incident.EntityID && existing.Kind == incident.Kind && existing.Open() {
			return false, nil
		}
	}
	inc := copyIncident(incident)
	inc.Remediation = ""
	inc.ResolvedAt = nil
	r.s.incidents[inc.ID] = inc
	return true, nil
}

func (r *incidentRepo) Resolve(ctx context.Context, id, remediation string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inc, ok := r.s.incidents[id]
	if !ok || !inc.Open() {
		return false, nil
	}
	inc.Remediation = remediation
	inc.ResolvedAt = &at
	return true, nil
}

func (r *incidentRepo) FindOpen(ctx context.Context, entityID string, kind models.IncidentKind) (*models.Incident, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inc := range r.s.incidents {
		if inc.EntityID == entityID && inc.Kind == kind && inc.Open() {
			return copyIncident(inc), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *incidentRepo) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inc, ok := r.s.incidents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyIncident(inc), nil
}

func (r *incidentRepo) List(ctx context.Context, openOnly bool, limit int) ([]*models.Incident, error) {
	return r.filter(limit, func(i *models.Incident) bool { return !openOnly || i.Open() }), nil
}

func (r *incidentRepo) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.Incident, error) {
	return r.filter(limit, func(i *models.Incident) bool { return i.ClientID == clientID }), nil
}

func (r *incidentRepo) filter(limit int, keep func(*models.Incident) bool) []*models.Incident {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Incident
	for _, inc := range r.s.incidents {
		if keep(inc) {
			out = append(out, copyIncident(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
