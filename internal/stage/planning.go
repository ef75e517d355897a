package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/maheshrc27/postpilot/internal/models"
)

type planningStage struct {
	gen Generator
}

func (s *planningStage) Name() Name { return Planning }

func (s *planningStage) Execute(ctx context.Context, in *Input) (Result, error) {
	limit := in.Config.MaxPostsPerCycle
	prompt := fmt.Sprintf("Plan up to %d posts, one idea per line.\nStrategy: %s", limit, in.Output(Strategy))
	resp, prompt, err := invoke(ctx, s.gen, Planning, in, prompt)
	if err != nil {
		return Result{}, err
	}

	ideas := splitIdeas(resp.Output)
	planned := len(ideas)
	if limit > 0 && len(ideas) > limit {
		ideas = ideas[:limit]
	}
	return Result{
		InputSummary:  prompt,
		OutputSummary: strings.Join(ideas, "\n"),
		Rationale:     fmt.Sprintf("planned %d of %d ideas (cap %d)", len(ideas), planned, limit),
		CostUSD:       resp.CostUSD,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		Ideas:         ideas,
	}, nil
}

func splitIdeas(out string) []string {
	var ideas []string
	for _, line := range strings.Split(out, "\n") {
		line = stripListMarker(strings.TrimSpace(line))
		if line != "" {
			ideas = append(ideas, line)
		}
	}
	return ideas
}

// stripListMarker drops "-", "*", "3." and "3)" prefixes.
func stripListMarker(line string) string {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return strings.TrimSpace(line[1:])
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

type contentStage struct {
	gen Generator
}

func (s *contentStage) Name() Name { return Content }

func (s *contentStage) Execute(ctx context.Context, in *Input) (Result, error) {
	ideas := in.Results[Planning].Ideas
	if len(ideas) == 0 {
		return Result{OutputSummary: "no ideas planned", Rationale: "nothing to write"}, nil
	}

	platforms := strings.Join(in.Config.Platforms, ",")
	prompt := fmt.Sprintf("Write one post per idea for platforms [%s].\n%s", platforms, strings.Join(ideas, "\n"))
	resp, prompt, err := invoke(ctx, s.gen, Content, in, prompt)
	if err != nil {
		return Result{}, err
	}

	candidates := make([]models.ContentCandidate, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		if strings.TrimSpace(c.Body) == "" {
			continue
		}
		candidates = append(candidates, c)
	}
	if limit := in.Config.MaxPostsPerCycle; limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return Result{
		InputSummary:  prompt,
		OutputSummary: fmt.Sprintf("%d candidates", len(candidates)),
		Rationale:     summarizeConfidence(candidates),
		CostUSD:       resp.CostUSD,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		Candidates:    candidates,
	}, nil
}

func summarizeConfidence(candidates []models.ContentCandidate) string {
	if len(candidates) == 0 {
		return "no candidates"
	}
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		parts = append(parts, fmt.Sprintf("%s:%.2f", c.Platform, c.Confidence))
	}
	return "confidence " + strings.Join(parts, " ")
}
