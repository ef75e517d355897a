package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionTrial   SubscriptionStatus = "trial"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
	SubscriptionNone    SubscriptionStatus = "none"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionTrial, SubscriptionActive, SubscriptionExpired, SubscriptionNone:
		return true
	}
	return false
}

// Client is one tenant. Internal clients bypass every billing check.
type Client struct {
	ID                 string             `db:"id" json:"id"`
	Name               string             `db:"name" json:"name"`
	Paused             bool               `db:"paused" json:"paused"`
	Internal           bool               `db:"internal" json:"internal"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	TrialEndsAt        *time.Time         `db:"trial_ends_at" json:"trial_ends_at,omitempty"`
	AutoPublish        bool               `db:"auto_publish" json:"auto_publish"`
	MonthlyBudgetUSD   float64            `db:"monthly_budget_usd" json:"monthly_budget_usd"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// TrialPastDue reports whether a trial client has run past its trial end at now.
func (c *Client) TrialPastDue(now time.Time) bool {
	if c == nil || c.SubscriptionStatus != SubscriptionTrial || c.TrialEndsAt == nil {
		return false
	}
	return now.After(*c.TrialEndsAt)
}
