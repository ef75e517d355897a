package transfer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type CreateClientRequest struct {
	Name             string   `json:"name"`
	Internal         bool     `json:"internal"`
	AutoPublish      *bool    `json:"auto_publish,omitempty"`
	MonthlyBudgetUSD *float64 `json:"monthly_budget_usd,omitempty"`
}

type SubscriptionUpdate struct {
	Status      string     `json:"status"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
}

type ResolveIncidentRequest struct {
	Remediation string `json:"remediation"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
	Expected      int    `json:"expected_schema_version"`
}

// AdminClaims identifies an operator calling the admin API.
type AdminClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}
