package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maheshrc27/postpilot/internal/models"
)

var ErrNoGenerator = errors.New("no generator configured")

type promptFunc func(in *Input) string

// generatedStage hands a prompt built from earlier outputs to the generator
// and records the reply.
type generatedStage struct {
	name   Name
	gen    Generator
	prompt promptFunc
}

func newGenerated(name Name, gen Generator, prompt promptFunc) *generatedStage {
	return &generatedStage{name: name, gen: gen, prompt: prompt}
}

func (s *generatedStage) Name() Name { return s.name }

func (s *generatedStage) Execute(ctx context.Context, in *Input) (Result, error) {
	resp, prompt, err := invoke(ctx, s.gen, s.name, in, s.prompt(in))
	if err != nil {
		return Result{}, err
	}
	return Result{
		InputSummary:  prompt,
		OutputSummary: resp.Output,
		Rationale:     fmt.Sprintf("generated by %s", modelName(resp)),
		CostUSD:       resp.CostUSD,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
	}, nil
}

func invoke(ctx context.Context, gen Generator, name Name, in *Input, prompt string) (models.GenerationResponse, string, error) {
	if gen == nil {
		return models.GenerationResponse{}, prompt, ErrNoGenerator
	}
	req := models.GenerationRequest{
		Stage:    string(name),
		ClientID: in.Client.ID,
		RunID:    in.Run.ID,
		Input:    prompt,
		Context:  priorContext(in),
	}
	resp, err := gen.Invoke(ctx, req)
	if err != nil {
		return models.GenerationResponse{}, prompt, fmt.Errorf("generate: %w", err)
	}
	return resp, prompt, nil
}

func priorContext(in *Input) map[string]string {
	out := make(map[string]string, len(in.Results))
	for name, r := range in.Results {
		if r.OutputSummary != "" {
			out[string(name)] = r.OutputSummary
		}
	}
	return out
}

func modelName(resp models.GenerationResponse) string {
	if resp.Model == "" {
		return "generator"
	}
	return resp.Model
}

func analyticsPrompt(in *Input) string {
	return fmt.Sprintf("Summarize recent post performance for %s.", in.Client.Name)
}

func reflectionPrompt(in *Input) string {
	return "Given these analytics, what worked and what should change?\n" + in.Output(Analytics)
}

func strategyPrompt(in *Input) string {
	var b strings.Builder
	b.WriteString("Set the content strategy for the next cycle.\n")
	b.WriteString("Analytics: ")
	b.WriteString(in.Output(Analytics))
	b.WriteString("\nReflection: ")
	b.WriteString(in.Output(Reflection))
	return b.String()
}
