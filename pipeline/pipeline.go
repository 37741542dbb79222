// Package pipeline wires steps together and runs hooks around each one.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

// Timing is the wall time spent in one step, in execution order.
type Timing struct {
	Step     string
	Duration time.Duration
}

// Pipeline executes a sequence of Steps with hook support.  Steps are pure
// transforms of in-memory bytes, so a failed step is reported, never
// retried.  A built Pipeline is read-only and may be Run from many
// goroutines at once.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns a Pipeline running steps in order.
func New(steps ...core.Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h ...core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h...)
	return p
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline on img and returns the final ImageData with the
// per-step timings gathered so far, even on failure.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, []Timing, error) {
	timings := make([]Timing, 0, len(p.steps))
	current := img

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		timings = append(timings, Timing{Step: step.Name(), Duration: elapsed})
		if err != nil {
			return nil, timings, err
		}
		current = result
	}
	return current, timings, nil
}

// runStep executes a single step between its hooks.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), img)

	start := time.Now()
	result, err := step.Execute(ctx, img)
	elapsed := time.Since(start)

	p.callHooksAfter(ctx, step.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, img *core.ImageData) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, img *core.ImageData, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}
