package stage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type preflightStage struct {
	versioner SchemaVersioner
	gen       Generator
	spend     SpendReader
	now       func() time.Time
}

func (s *preflightStage) Name() Name { return Preflight }

// Execute blocks the cycle when the store schema is behind, no generator is
// wired or the month's budget is already spent. A missing platform only warns:
// posts are then kept as drafts.
func (s *preflightStage) Execute(ctx context.Context, in *Input) (Result, error) {
	var checks, warnings []string

	if s.versioner != nil {
		current, err := s.versioner.CurrentVersion(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("read schema version: %w", err)
		}
		if current != in.Config.SchemaVersion {
			return Result{}, fmt.Errorf("schema version %d, expected %d", current, in.Config.SchemaVersion)
		}
		checks = append(checks, fmt.Sprintf("schema v%d", current))
	}

	if s.gen == nil {
		return Result{}, ErrNoGenerator
	}
	checks = append(checks, "generator ok")

	if budget := in.Client.MonthlyBudgetUSD; budget > 0 && !in.Client.Internal && s.spend != nil {
		now := s.now().UTC()
		spent, err := s.spend.SpendSince(ctx, in.Client.ID, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			return Result{}, fmt.Errorf("read spend: %w", err)
		}
		if spent >= budget {
			return Result{}, fmt.Errorf("monthly budget exhausted: $%.2f of $%.2f", spent, budget)
		}
		checks = append(checks, fmt.Sprintf("budget $%.2f left", budget-spent))
	}

	if len(in.Config.Platforms) == 0 {
		warnings = append(warnings, "no platform configured, posts stay drafts")
	} else {
		checks = append(checks, "platforms: "+strings.Join(in.Config.Platforms, ","))
	}

	res := Result{
		InputSummary:  "client " + in.Client.ID,
		OutputSummary: strings.Join(checks, "; "),
	}
	if len(warnings) > 0 {
		res.Rationale = "warnings: " + strings.Join(warnings, "; ")
	}
	return res, nil
}
