package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

const (
	RunReasonCompleted = "completed"
	RunReasonStale     = "watchdog: stale"
)

type Run struct {
	ID         string           `db:"id" json:"id"`
	ClientID   string           `db:"client_id" json:"client_id"`
	Status     RunStatus        `db:"status" json:"status"`
	Reason     string           `db:"reason" json:"reason,omitempty"`
	CostUSD    float64          `db:"cost_usd" json:"cost_usd"`
	StartedAt  time.Time        `db:"started_at" json:"started_at"`
	FinishedAt *time.Time       `db:"finished_at" json:"finished_at,omitempty"`
	Decisions  []DecisionRecord `json:"decisions,omitempty"`
}

// DecisionRecord is the audit entry a stage leaves on its run.
type DecisionRecord struct {
	RunID         string    `db:"run_id" json:"-"`
	Seq           int       `db:"seq" json:"seq"`
	Stage         string    `db:"stage" json:"stage"`
	InputSummary  string    `db:"input_summary" json:"input_summary"`
	OutputSummary string    `db:"output_summary" json:"output_summary"`
	Rationale     string    `db:"rationale" json:"rationale"`
	CostUSD       float64   `db:"cost_usd" json:"cost_usd"`
	InputTokens   int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens  int       `db:"output_tokens" json:"output_tokens"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
