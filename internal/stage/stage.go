// Package stage holds the fixed, ordered set of steps a cycle runs for a
// client. Every step satisfies Stage and sees the outputs of the steps before it.
package stage

import (
	"context"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type Name string

const (
	Preflight  Name = "preflight"
	Analytics  Name = "analytics"
	Reflection Name = "reflection"
	Strategy   Name = "strategy"
	Planning   Name = "planning"
	Content    Name = "content"
	Publish    Name = "publish"
	Cost       Name = "cost"
	Operations Name = "operations"
	Support    Name = "support"
	Marketing  Name = "marketing"
)

// Order is the canonical execution order.
var Order = []Name{
	Preflight, Analytics, Reflection, Strategy, Planning, Content,
	Publish, Cost, Operations, Support, Marketing,
}

type Stage interface {
	Name() Name
	Execute(ctx context.Context, in *Input) (Result, error)
}

// Config is the explicit per-stage configuration for one cycle.
type Config struct {
	MaxPostsPerCycle int
	SelfClientID     string
	Platforms        []string
	SchemaVersion    int
}

type Input struct {
	Client  *models.Client
	Run     *models.Run
	Config  Config
	Results map[Name]Result
}

func NewInput(client *models.Client, run *models.Run, cfg Config) *Input {
	return &Input{Client: client, Run: run, Config: cfg, Results: map[Name]Result{}}
}

// Output returns the output summary of an earlier stage, or "".
func (in *Input) Output(name Name) string {
	return in.Results[name].OutputSummary
}

// RunCostUSD sums the cost of every stage recorded so far.
func (in *Input) RunCostUSD() float64 {
	var total float64
	for _, r := range in.Results {
		total += r.CostUSD
	}
	return total
}

type Result struct {
	InputSummary  string
	OutputSummary string
	Rationale     string
	CostUSD       float64
	InputTokens   int
	OutputTokens  int

	Ideas      []string
	Candidates []models.ContentCandidate
	Posts      []*models.Post
}

// Decision converts a result into the run's audit record.
func (r Result) Decision(runID string, seq int, name Name, at time.Time) models.DecisionRecord {
	return models.DecisionRecord{
		RunID:         runID,
		Seq:           seq,
		Stage:         string(name),
		InputSummary:  truncate(r.InputSummary, summaryLimit),
		OutputSummary: truncate(r.OutputSummary, summaryLimit),
		Rationale:     truncate(r.Rationale, summaryLimit),
		CostUSD:       r.CostUSD,
		InputTokens:   r.InputTokens,
		OutputTokens:  r.OutputTokens,
		CreatedAt:     at,
	}
}

const summaryLimit = 2000

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type Generator interface {
	Invoke(ctx context.Context, req models.GenerationRequest) (models.GenerationResponse, error)
}

// Publisher decides and performs the publish of one candidate. A non-nil post
// returned together with an error means the post outcome was recorded and the
// error describes that outcome; a nil post with an error is a store failure.
type Publisher interface {
	DecideAndPublish(ctx context.Context, client *models.Client, runID string, candidate models.ContentCandidate) (*models.Post, error)
}

// thresholdReporter is implemented by publishers that gate on confidence.
type thresholdReporter interface {
	ConfidenceThreshold() float64
}

type SchemaVersioner interface {
	CurrentVersion(ctx context.Context) (int, error)
}

type SpendReader interface {
	SpendSince(ctx context.Context, clientID string, since time.Time) (float64, error)
}

type ClientPauser interface {
	SetPaused(ctx context.Context, id string, paused bool) error
}

type PostReader interface {
	ListByRun(ctx context.Context, clientID, runID string) ([]*models.Post, error)
	StatusCounts(ctx context.Context, clientID string, since time.Time) (failed, total int, err error)
}
