package watchdog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/repository/memory"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fakePlatform struct {
	exists    map[string]bool
	existsErr error
	healthErr error
}

func (f *fakePlatform) Name() string { return "linkedin" }

func (f *fakePlatform) Publish(ctx context.Context, content string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakePlatform) Exists(ctx context.Context, id string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists[id], nil
}

func (f *fakePlatform) CheckHealth(ctx context.Context) error { return f.healthErr }

func seedClient(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	if err := store.Clients().Create(context.Background(), &models.Client{ID: id, Name: id, SubscriptionStatus: models.SubscriptionActive}); err != nil {
		t.Fatal(err)
	}
}

func seedRun(t *testing.T, store *memory.Store, clientID, runID string, started time.Time) {
	t.Helper()
	ok, err := store.Runs().CreateIfNoneRunning(context.Background(), &models.Run{ID: runID, ClientID: clientID, StartedAt: started})
	if err != nil || !ok {
		t.Fatalf("seed run: %v %v", ok, err)
	}
}

func seedPublished(t *testing.T, store *memory.Store, clientID, runID, postID, platformID string) {
	t.Helper()
	ctx := context.Background()
	posts := store.Posts()
	if err := posts.Create(ctx, &models.Post{ID: postID, ClientID: clientID, RunID: runID, Platform: "linkedin",
		Body: "hi", Status: models.PostStatusDraft, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if _, err := posts.SetPlatformID(ctx, clientID, postID, platformID); err != nil {
		t.Fatal(err)
	}
	if ok, err := posts.MarkPublished(ctx, clientID, postID, now.Add(-time.Hour)); err != nil || !ok {
		t.Fatalf("publish: %v %v", ok, err)
	}
}

func newWatchdog(store *memory.Store, cfg Config, probes ...Probe) *Watchdog {
	w := New(store.Incidents(), cfg, nil, probes...)
	w.now = func() time.Time { return now }
	return w
}

func TestStaleRunIsFailedOnceWithOneIncident(t *testing.T) {
	store := memory.New()
	seedClient(t, store, "c1")
	seedRun(t, store, "c1", "run-stale", now.Add(-2*time.Hour))
	seedClient(t, store, "c2")
	seedRun(t, store, "c2", "run-fresh", now.Add(-time.Minute))

	probe := NewStaleRunProbe(store.Runs(), time.Hour)
	probe.now = func() time.Time { return now }
	w := newWatchdog(store, Config{PageSize: 10, MaxPages: 2}, probe)

	first := w.RunPass(context.Background())
	if got := first.Probes[0]; got.Divergent != 1 || got.Corrected != 1 || got.IncidentsOpened != 1 || got.IncidentsResolved != 1 {
		t.Fatalf("first pass = %+v", got)
	}
	run, _ := store.Runs().Lookup(context.Background(), "run-stale")
	if run.Status != models.RunStatusFailed || run.Reason != "watchdog: stale" {
		t.Fatalf("run = %s %q", run.Status, run.Reason)
	}
	fresh, _ := store.Runs().Lookup(context.Background(), "run-fresh")
	if fresh.Status != models.RunStatusRunning {
		t.Fatal("fresh run must be left alone")
	}

	second := w.RunPass(context.Background())
	if second.Writes() != 0 {
		t.Fatalf("second pass wrote: %+v", second.Probes)
	}
	incidents, _ := store.Incidents().List(context.Background(), false, 10)
	if len(incidents) != 1 || incidents[0].Kind != models.IncidentStaleRun || incidents[0].ClientID != "c1" || incidents[0].Open() {
		t.Fatalf("incidents = %+v", incidents)
	}
}

func TestPhantomPostIsFailedOnce(t *testing.T) {
	store := memory.New()
	seedClient(t, store, "c1")
	seedRun(t, store, "c1", "r1", now)
	seedPublished(t, store, "c1", "r1", "p-gone", "urn:1")
	seedPublished(t, store, "c1", "r1", "p-live", "urn:2")

	pc := &fakePlatform{exists: map[string]bool{"urn:2": true}}
	probe := NewPhantomPostProbe(store.Posts(), platform.NewRegistry(pc), 72*time.Hour, time.Second)
	probe.now = func() time.Time { return now }
	w := newWatchdog(store, Config{PageSize: 10, MaxPages: 1}, probe)

	first := w.RunPass(context.Background())
	if got := first.Probes[0]; got.Scanned != 2 || got.Divergent != 1 || got.IncidentsOpened != 1 {
		t.Fatalf("first pass = %+v", got)
	}
	gone, _ := store.Posts().Lookup(context.Background(), "p-gone")
	if gone.Status != models.PostStatusFailed || gone.ErrorMessage == nil || *gone.ErrorMessage != "phantom post" {
		t.Fatalf("post = %+v", gone)
	}
	live, _ := store.Posts().Lookup(context.Background(), "p-live")
	if live.Status != models.PostStatusPublished {
		t.Fatal("live post must stay published")
	}

	if second := w.RunPass(context.Background()); second.Writes() != 0 {
		t.Fatalf("second pass wrote: %+v", second.Probes)
	}
	incidents, _ := store.Incidents().List(context.Background(), false, 10)
	if len(incidents) != 1 || incidents[0].Kind != models.IncidentPhantomPost || incidents[0].EntityID != "p-gone" {
		t.Fatalf("incidents = %+v", incidents)
	}
}

func TestPhantomProbeSkipsOnPlatformError(t *testing.T) {
	store := memory.New()
	seedClient(t, store, "c1")
	seedRun(t, store, "c1", "r1", now)
	seedPublished(t, store, "c1", "r1", "p1", "urn:1")

	pc := &fakePlatform{existsErr: errors.New("timeout")}
	probe := NewPhantomPostProbe(store.Posts(), platform.NewRegistry(pc), 0, time.Second)
	report := newWatchdog(store, Config{PageSize: 10, MaxPages: 1}, probe).RunPass(context.Background())

	if got := report.Probes[0]; got.Errors != 1 || got.Divergent != 0 {
		t.Fatalf("report = %+v", got)
	}
	post, _ := store.Posts().Lookup(context.Background(), "p1")
	if post.Status != models.PostStatusPublished {
		t.Fatal("undecided post must not change")
	}
}

func TestCredentialIncidentStaysOpenWithoutDuplicates(t *testing.T) {
	store := memory.New()
	pc := &fakePlatform{healthErr: errors.New("401 invalid token")}
	w := newWatchdog(store, Config{PageSize: 10, MaxPages: 1}, NewCredentialProbe(platform.NewRegistry(pc), time.Second))

	first := w.RunPass(context.Background())
	if first.Probes[0].IncidentsOpened != 1 {
		t.Fatalf("first pass = %+v", first.Probes[0])
	}
	if second := w.RunPass(context.Background()); second.Writes() != 0 {
		t.Fatalf("second pass wrote: %+v", second.Probes)
	}
	open, _ := store.Incidents().List(context.Background(), true, 10)
	if len(open) != 1 || open[0].Kind != models.IncidentOther || open[0].EntityID != "linkedin" {
		t.Fatalf("open incidents = %+v", open)
	}
}

func TestPassIsBoundedByPageLimit(t *testing.T) {
	store := memory.New()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		seedClient(t, store, id)
		seedRun(t, store, id, fmt.Sprintf("run-%d", i), now.Add(-3*time.Hour))
	}
	probe := NewStaleRunProbe(store.Runs(), time.Hour)
	probe.now = func() time.Time { return now }
	w := newWatchdog(store, Config{PageSize: 2, MaxPages: 2}, probe)

	first := w.RunPass(context.Background())
	if got := first.Probes[0]; got.Scanned != 4 || !got.Truncated {
		t.Fatalf("first pass = %+v", got)
	}
	second := w.RunPass(context.Background())
	if got := second.Probes[0]; got.Scanned != 1 || got.Corrected != 1 {
		t.Fatalf("second pass = %+v", got)
	}
}

type racingProbe struct{ *StaleRunProbe }

// Act loses the race: the run finished between sense and act.
func (p racingProbe) Act(ctx context.Context, c Candidate) (bool, error) {
	if _, err := p.runs.Finish(ctx, c.ClientID, c.EntityID, models.RunStatusCompleted, models.RunReasonCompleted, 0, now); err != nil {
		return false, err
	}
	return p.StaleRunProbe.Act(ctx, c)
}

func TestProbeAbstainsWhenEntityMovedOn(t *testing.T) {
	store := memory.New()
	seedClient(t, store, "c1")
	seedRun(t, store, "c1", "r1", now.Add(-2*time.Hour))
	probe := NewStaleRunProbe(store.Runs(), time.Hour)
	probe.now = func() time.Time { return now }

	report := newWatchdog(store, Config{PageSize: 10, MaxPages: 1}, racingProbe{probe}).RunPass(context.Background())
	if got := report.Probes[0]; got.Abstained != 1 || got.IncidentsOpened != 0 {
		t.Fatalf("report = %+v", got)
	}
	run, _ := store.Runs().Lookup(context.Background(), "r1")
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("completed run overwritten: %s", run.Status)
	}
}

var errStoreDown = errors.New("store unavailable")

type flakyIncidents struct {
	repository.IncidentRepository
	failOpen, failResolve bool
}

func (f *flakyIncidents) Open(ctx context.Context, inc *models.Incident) (bool, error) {
	if f.failOpen {
		return false, errStoreDown
	}
	return f.IncidentRepository.Open(ctx, inc)
}

func (f *flakyIncidents) Resolve(ctx context.Context, id, remediation string, at time.Time) (bool, error) {
	if f.failResolve {
		return false, errStoreDown
	}
	return f.IncidentRepository.Resolve(ctx, id, remediation, at)
}

func TestStaleRunIncidentIsRecordedAfterStoreError(t *testing.T) {
	store := memory.New()
	seedClient(t, store, "c1")
	seedRun(t, store, "c1", "run-stale", now.Add(-2*time.Hour))

	incidents := &flakyIncidents{IncidentRepository: store.Incidents(), failOpen: true}
	probe := NewStaleRunProbe(store.Runs(), time.Hour)
	probe.now = func() time.Time { return now }
	w := New(incidents, Config{PageSize: 10, MaxPages: 1}, nil, probe)
	w.now = func() time.Time { return now }

	first := w.RunPass(context.Background())
	if got := first.Probes[0]; got.Corrected != 1 || got.IncidentsOpened != 0 || got.Errors == 0 {
		t.Fatalf("first pass = %+v", got)
	}
	run, _ := store.Runs().Lookup(context.Background(), "run-stale")
	if run.Status != models.RunStatusFailed {
		t.Fatalf("run = %s", run.Status)
	}

	incidents.failOpen = false
	second := w.RunPass(context.Background())
	if got := second.Probes[0]; got.Scanned != 0 || got.Recovered != 1 || got.IncidentsOpened != 1 || got.IncidentsResolved != 1 {
		t.Fatalf("second pass = %+v", got)
	}
	all, _ := store.Incidents().List(context.Background(), false, 10)
	if len(all) != 1 || all[0].Kind != models.IncidentStaleRun || all[0].EntityID != "run-stale" ||
		all[0].Open() || all[0].Remediation != "run marked failed: watchdog: stale" {
		t.Fatalf("incidents = %+v", all)
	}

	if third := w.RunPass(context.Background()); third.Writes() != 0 {
		t.Fatalf("third pass wrote: %+v", third.Probes)
	}
}

func TestPhantomIncidentIsResolvedAfterStoreError(t *testing.T) {
	store := memory.New()
	seedClient(t, store, "c1")
	seedRun(t, store, "c1", "r1", now)
	seedPublished(t, store, "c1", "r1", "p-gone", "urn:1")

	incidents := &flakyIncidents{IncidentRepository: store.Incidents(), failResolve: true}
	pc := &fakePlatform{exists: map[string]bool{}}
	probe := NewPhantomPostProbe(store.Posts(), platform.NewRegistry(pc), 72*time.Hour, time.Second)
	probe.now = func() time.Time { return now }
	w := New(incidents, Config{PageSize: 10, MaxPages: 1}, nil, probe)
	w.now = func() time.Time { return now }

	first := w.RunPass(context.Background())
	if got := first.Probes[0]; got.Corrected != 1 || got.IncidentsOpened != 1 || got.IncidentsResolved != 0 || got.Errors == 0 {
		t.Fatalf("first pass = %+v", got)
	}

	incidents.failResolve = false
	second := w.RunPass(context.Background())
	if got := second.Probes[0]; got.Recovered != 1 || got.IncidentsOpened != 0 || got.IncidentsResolved != 1 {
		t.Fatalf("second pass = %+v", got)
	}
	all, _ := store.Incidents().List(context.Background(), false, 10)
	if len(all) != 1 || all[0].Open() || all[0].Kind != models.IncidentPhantomPost {
		t.Fatalf("incidents = %+v", all)
	}
	if third := w.RunPass(context.Background()); third.Writes() != 0 {
		t.Fatalf("third pass wrote: %+v", third.Probes)
	}
}

func seedPosts(t *testing.T, store *memory.Store, clientID string, failed, ok int) {
	t.Helper()
	runID := "run-" + clientID
	seedRun(t, store, clientID, runID, now)
	for i := 0; i < failed+ok; i++ {
		status := models.PostStatusPublished
		if i < failed {
			status = models.PostStatusFailed
		}
		post := &models.Post{ID: fmt.Sprintf("%s-p%d", clientID, i), ClientID: clientID, RunID: runID,
			Platform: "linkedin", Body: "b", Status: status, CreatedAt: now.Add(-time.Hour)}
		if err := store.Posts().Create(context.Background(), post); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFailureRateIncidentStaysOpenWithoutDuplicates(t *testing.T) {
	store := memory.New()
	for _, id := range []string{"c1", "c2", "c3"} {
		seedClient(t, store, id)
	}
	seedPosts(t, store, "c1", 3, 1) // 75%
	seedPosts(t, store, "c2", 1, 2) // 33%
	seedPosts(t, store, "c3", 2, 0) // too few posts

	probe := NewFailureRateProbe(store.Clients(), store.Posts())
	probe.now = func() time.Time { return now }
	w := newWatchdog(store, Config{PageSize: 2, MaxPages: 3}, probe)

	first := w.RunPass(context.Background())
	if got := first.Probes[0]; got.Scanned != 3 || got.Divergent != 1 || got.IncidentsOpened != 1 || got.Corrected != 0 {
		t.Fatalf("first pass = %+v", got)
	}
	if second := w.RunPass(context.Background()); second.Writes() != 0 {
		t.Fatalf("second pass wrote: %+v", second.Probes)
	}
	open, _ := store.Incidents().List(context.Background(), true, 10)
	if len(open) != 1 || open[0].ClientID != "c1" || open[0].Kind != models.IncidentOther || open[0].EntityType != models.EntityClient {
		t.Fatalf("open incidents = %+v", open)
	}
}

func TestClientHealthFlagsBlockedSubscriptions(t *testing.T) {
	store := memory.New()
	for _, c := range []*models.Client{
		{ID: "c-exp", Name: "exp", SubscriptionStatus: models.SubscriptionExpired},
		{ID: "c-int", Name: "int", SubscriptionStatus: models.SubscriptionExpired, Internal: true},
		{ID: "c-none", Name: "none", SubscriptionStatus: models.SubscriptionNone},
		{ID: "c-ok", Name: "ok", SubscriptionStatus: models.SubscriptionActive},
	} {
		if err := store.Clients().Create(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	w := newWatchdog(store, Config{PageSize: 2, MaxPages: 3}, NewClientHealthProbe(store.Clients()))

	first := w.RunPass(context.Background())
	if got := first.Probes[0]; got.Scanned != 4 || got.Divergent != 2 || got.IncidentsOpened != 2 || got.Truncated {
		t.Fatalf("first pass = %+v", got)
	}
	if second := w.RunPass(context.Background()); second.Writes() != 0 {
		t.Fatalf("second pass wrote: %+v", second.Probes)
	}
	open, _ := store.Incidents().List(context.Background(), true, 10)
	got := map[string]bool{}
	for _, inc := range open {
		got[inc.EntityID] = true
	}
	if len(open) != 2 || !got["c-exp/subscription"] || !got["c-none/subscription"] {
		t.Fatalf("open incidents = %+v", open)
	}
}

func TestTenantProbesKeepSeparateIncidents(t *testing.T) {
	store := memory.New()
	if err := store.Clients().Create(context.Background(), &models.Client{ID: "c1", Name: "c1", SubscriptionStatus: models.SubscriptionExpired}); err != nil {
		t.Fatal(err)
	}
	seedPosts(t, store, "c1", 3, 0)
	rate := NewFailureRateProbe(store.Clients(), store.Posts())
	rate.now = func() time.Time { return now }
	w := newWatchdog(store, Config{PageSize: 10, MaxPages: 1}, rate, NewClientHealthProbe(store.Clients()))

	if report := w.RunPass(context.Background()); report.Writes() != 2 {
		t.Fatalf("report = %+v", report.Probes)
	}
}
