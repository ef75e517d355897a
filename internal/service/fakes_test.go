package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/repository/memory"
)

type fakePlatform struct {
	mu          sync.Mutex
	id          string
	publishErr  error
	existsErrs  []error
	exists      bool
	publishes   int
	existsCalls int
}

func (f *fakePlatform) Name() string { return "linkedin" }

func (f *fakePlatform) Publish(ctx context.Context, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes++
	if f.publishErr != nil {
		return "", f.publishErr
	}
	return f.id, nil
}

func (f *fakePlatform) Exists(ctx context.Context, platformID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if len(f.existsErrs) > 0 {
		err := f.existsErrs[0]
		f.existsErrs = f.existsErrs[1:]
		return false, err
	}
	return f.exists, nil
}

type resolver map[string]platform.Client

func (r resolver) Get(name string) (platform.Client, bool) {
	c, ok := r[name]
	return c, ok
}

var testNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func seedClient(t *testing.T, store *memory.Store, mutate func(c *models.Client)) *models.Client {
	t.Helper()
	trialEnds := testNow.Add(7 * 24 * time.Hour)
	c := &models.Client{
		ID:                 "client-1",
		Name:               "Acme",
		SubscriptionStatus: models.SubscriptionTrial,
		TrialEndsAt:        &trialEnds,
		AutoPublish:        true,
		CreatedAt:          testNow.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(c)
	}
	if err := store.Clients().Create(context.Background(), c); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	return c
}

func seedRun(t *testing.T, store *memory.Store, clientID, runID string) {
	t.Helper()
	ok, err := store.Runs().CreateIfNoneRunning(context.Background(), &models.Run{ID: runID, ClientID: clientID, StartedAt: testNow})
	if err != nil || !ok {
		t.Fatalf("seed run: ok=%v err=%v", ok, err)
	}
}
