package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/repository/memory"
	"github.com/maheshrc27/postpilot/internal/transfer"
)

func newTestClientService() (ClientService, *memory.Store) {
	store := memory.New()
	svc := NewClientService(store.Clients(), 14*24*time.Hour).(*clientService)
	svc.now = func() time.Time { return testNow }
	return svc, store
}

func TestNewClientAutoPublishesByDefault(t *testing.T) {
	svc, _ := newTestClientService()
	client, err := svc.Create(context.Background(), &transfer.CreateClientRequest{Name: "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if !client.AutoPublish {
		t.Fatal("AutoPublish should default to true")
	}
	if client.SubscriptionStatus != models.SubscriptionTrial || client.TrialEndsAt == nil ||
		!client.TrialEndsAt.Equal(testNow.Add(14*24*time.Hour)) {
		t.Fatalf("unexpected trial %s %v", client.SubscriptionStatus, client.TrialEndsAt)
	}

	off := false
	client, err = svc.Create(context.Background(), &transfer.CreateClientRequest{Name: "Quiet", AutoPublish: &off})
	if err != nil || client.AutoPublish {
		t.Fatalf("explicit auto_publish=false ignored: %+v %v", client, err)
	}
}

func TestCreateClientValidates(t *testing.T) {
	svc, _ := newTestClientService()
	if _, err := svc.Create(context.Background(), &transfer.CreateClientRequest{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	neg := -1.0
	if _, err := svc.Create(context.Background(), &transfer.CreateClientRequest{Name: "x", MonthlyBudgetUSD: &neg}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	svc, _ := newTestClientService()
	client, _ := svc.Create(context.Background(), &transfer.CreateClientRequest{Name: "Acme"})

	paused, err := svc.Pause(context.Background(), client.ID)
	if err != nil || !paused.Paused {
		t.Fatalf("pause: %+v %v", paused, err)
	}
	resumed, err := svc.Resume(context.Background(), client.ID)
	if err != nil || resumed.Paused {
		t.Fatalf("resume: %+v %v", resumed, err)
	}
	if _, err := svc.Pause(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetSubscription(t *testing.T) {
	svc, _ := newTestClientService()
	client, _ := svc.Create(context.Background(), &transfer.CreateClientRequest{Name: "Acme"})

	updated, err := svc.SetSubscription(context.Background(), client.ID, &transfer.SubscriptionUpdate{Status: "Active"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.SubscriptionStatus != models.SubscriptionActive || updated.TrialEndsAt != nil {
		t.Fatalf("unexpected client %+v", updated)
	}
	if _, err := svc.SetSubscription(context.Background(), client.ID, &transfer.SubscriptionUpdate{Status: "gold"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
