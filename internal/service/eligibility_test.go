package service

import (
	"testing"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

func TestIsSubscriptionActive(t *testing.T) {
	oracle := NewEligibilityOracle()
	cases := map[models.SubscriptionStatus]bool{
		models.SubscriptionActive:  true,
		models.SubscriptionTrial:   true,
		models.SubscriptionExpired: false,
		models.SubscriptionNone:    false,
	}
	for status, want := range cases {
		if got := oracle.IsSubscriptionActive(&models.Client{SubscriptionStatus: status}); got != want {
			t.Errorf("%s: got %v", status, got)
		}
	}
	if oracle.IsSubscriptionActive(nil) {
		t.Error("nil client is never active")
	}
}

func TestExpireTrialIfPastDue(t *testing.T) {
	oracle := NewEligibilityOracle()
	ends := testNow

	trial := &models.Client{SubscriptionStatus: models.SubscriptionTrial, TrialEndsAt: &ends}
	if got := oracle.ExpireTrialIfPastDue(trial, testNow.Add(-time.Second)); got != trial {
		t.Fatal("trial before its end must be returned unchanged")
	}

	got := oracle.ExpireTrialIfPastDue(trial, testNow.Add(time.Second))
	if got == trial || got.SubscriptionStatus != models.SubscriptionExpired {
		t.Fatalf("expected expired copy, got %+v", got)
	}
	if trial.SubscriptionStatus != models.SubscriptionTrial {
		t.Fatal("input must not be mutated")
	}

	active := &models.Client{SubscriptionStatus: models.SubscriptionActive, TrialEndsAt: &ends}
	if oracle.ExpireTrialIfPastDue(active, testNow.Add(time.Hour)) != active {
		t.Fatal("only trials expire")
	}
}
