package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type operationsStage struct {
	posts PostReader
}

func (s *operationsStage) Name() Name { return Operations }

func (s *operationsStage) Execute(ctx context.Context, in *Input) (Result, error) {
	if s.posts == nil {
		return Result{OutputSummary: "no post store"}, nil
	}
	posts, err := s.posts.ListByRun(ctx, in.Client.ID, in.Run.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list run posts: %w", err)
	}
	counts := map[models.PostStatus]int{}
	for _, p := range posts {
		counts[p.Status]++
	}
	return Result{
		InputSummary: "run " + in.Run.ID,
		OutputSummary: fmt.Sprintf("%d posts: %d published, %d drafts, %d failed", len(posts),
			counts[models.PostStatusPublished], counts[models.PostStatusDraft], counts[models.PostStatusFailed]),
		Rationale: fmt.Sprintf("%d stages completed before operations", len(in.Results)),
	}, nil
}

const (
	supportWindow        = 24 * time.Hour
	supportAlertRate     = 0.5
	supportMinSampleSize = 4
)

type supportStage struct {
	posts PostReader
	now   func() time.Time
}

func (s *supportStage) Name() Name { return Support }

func (s *supportStage) Execute(ctx context.Context, in *Input) (Result, error) {
	if s.posts == nil {
		return Result{OutputSummary: "no post store"}, nil
	}
	failed, total, err := s.posts.StatusCounts(ctx, in.Client.ID, s.now().Add(-supportWindow))
	if err != nil {
		return Result{}, fmt.Errorf("post failure rate: %w", err)
	}

	res := Result{InputSummary: "last 24h posts"}
	if total == 0 {
		res.OutputSummary = "no posts in window"
		return res, nil
	}
	rate := float64(failed) / float64(total)
	res.OutputSummary = fmt.Sprintf("failure rate %.0f%% (%d/%d)", rate*100, failed, total)
	if total >= supportMinSampleSize && rate > supportAlertRate {
		res.Rationale = "elevated failure rate"
	} else {
		res.Rationale = "healthy"
	}
	return res, nil
}

type marketingStage struct {
	gen Generator
}

func (s *marketingStage) Name() Name { return Marketing }

// Execute only runs for the platform's own client.
func (s *marketingStage) Execute(ctx context.Context, in *Input) (Result, error) {
	if in.Config.SelfClientID == "" || in.Client.ID != in.Config.SelfClientID {
		return Result{OutputSummary: "skipped", Rationale: "not the self client"}, nil
	}
	prompt := "Draft one self-promotion idea from this cycle.\n" + in.Output(Operations)
	resp, prompt, err := invoke(ctx, s.gen, Marketing, in, prompt)
	if err != nil {
		return Result{}, err
	}
	return Result{
		InputSummary:  prompt,
		OutputSummary: resp.Output,
		Rationale:     "self marketing",
		CostUSD:       resp.CostUSD,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
	}, nil
}
