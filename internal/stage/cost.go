package stage

import (
	"context"
	"fmt"
	"time"
)

type costStage struct {
	spend  SpendReader
	pauser ClientPauser
	now    func() time.Time
}

func (s *costStage) Name() Name { return Cost }

// Execute totals this run's cost and pauses the client once month-to-date
// spend exceeds its budget. The current run still completes.
func (s *costStage) Execute(ctx context.Context, in *Input) (Result, error) {
	runCost := in.RunCostUSD()
	res := Result{
		InputSummary:  fmt.Sprintf("run cost $%.4f", runCost),
		OutputSummary: fmt.Sprintf("run cost $%.4f", runCost),
	}

	budget := in.Client.MonthlyBudgetUSD
	if budget <= 0 || s.spend == nil {
		res.Rationale = "no budget set"
		return res, nil
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	spent, err := s.spend.SpendSince(ctx, in.Client.ID, monthStart)
	if err != nil {
		return Result{}, fmt.Errorf("read spend: %w", err)
	}
	total := spent + runCost
	res.OutputSummary = fmt.Sprintf("month to date $%.4f of $%.2f", total, budget)

	if total <= budget {
		res.Rationale = "within budget"
		return res, nil
	}
	if in.Client.Internal || in.Client.Paused {
		res.Rationale = "over budget, not pausing"
		return res, nil
	}
	if s.pauser == nil {
		res.Rationale = "over budget, no pauser wired"
		return res, nil
	}
	if err := s.pauser.SetPaused(ctx, in.Client.ID, true); err != nil {
		return Result{}, fmt.Errorf("pause over-budget client: %w", err)
	}
	res.Rationale = "over budget, client paused"
	return res, nil
}
