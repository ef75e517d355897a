package stage

import (
	"fmt"
	"time"
)

// Registry is the ordered list of stages a cycle executes.
type Registry struct {
	stages []Stage
}

// NewRegistry accepts exactly the canonical stages in canonical order.
func NewRegistry(stages ...Stage) (*Registry, error) {
	if len(stages) != len(Order) {
		return nil, fmt.Errorf("stage registry: got %d stages, want %d", len(stages), len(Order))
	}
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("stage registry: stage %d (%s) is nil", i, Order[i])
		}
		if s.Name() != Order[i] {
			return nil, fmt.Errorf("stage registry: position %d is %q, want %q", i, s.Name(), Order[i])
		}
	}
	return &Registry{stages: append([]Stage(nil), stages...)}, nil
}

func (r *Registry) Stages() []Stage {
	return append([]Stage(nil), r.stages...)
}

type Deps struct {
	Generator Generator
	Publisher Publisher
	Versioner SchemaVersioner
	Spend     SpendReader
	Pauser    ClientPauser
	Posts     PostReader
	Now       func() time.Time
}

// Default builds the production registry.
func Default(d Deps) (*Registry, error) {
	if d.Now == nil {
		d.Now = time.Now
	}
	return NewRegistry(
		&preflightStage{versioner: d.Versioner, gen: d.Generator, spend: d.Spend, now: d.Now},
		newGenerated(Analytics, d.Generator, analyticsPrompt),
		newGenerated(Reflection, d.Generator, reflectionPrompt),
		newGenerated(Strategy, d.Generator, strategyPrompt),
		&planningStage{gen: d.Generator},
		&contentStage{gen: d.Generator},
		&publishStage{publisher: d.Publisher},
		&costStage{spend: d.Spend, pauser: d.Pauser, now: d.Now},
		&operationsStage{posts: d.Posts},
		&supportStage{posts: d.Posts, now: d.Now},
		&marketingStage{gen: d.Generator},
	)
}
