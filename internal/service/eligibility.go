package service

import (
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

// EligibilityOracle answers the billing questions the cycle gate asks.
type EligibilityOracle interface {
	IsSubscriptionActive(client *models.Client) bool
	// ExpireTrialIfPastDue returns the client as it should be at now. The
	// result is a new value when a trial lapsed, else the input unchanged.
	ExpireTrialIfPastDue(client *models.Client, now time.Time) *models.Client
}

type subscriptionOracle struct{}

func NewEligibilityOracle() EligibilityOracle {
	return subscriptionOracle{}
}

// IsSubscriptionActive counts a trial as active. Lapsed trials are moved to
// expired by ExpireTrialIfPastDue before this is asked.
func (subscriptionOracle) IsSubscriptionActive(client *models.Client) bool {
	if client == nil {
		return false
	}
	switch client.SubscriptionStatus {
	case models.SubscriptionActive, models.SubscriptionTrial:
		return true
	}
	return false
}

func (subscriptionOracle) ExpireTrialIfPastDue(client *models.Client, now time.Time) *models.Client {
	if !client.TrialPastDue(now) {
		return client
	}
	expired := *client
	expired.SubscriptionStatus = models.SubscriptionExpired
	expired.UpdatedAt = now
	return &expired
}
