package engine

import (
	"context"
	"fmt"
	"time"

	"sockdrill/internal/config"
)

// defaultLoopVar receives the loop index when a loop step does not name
// its own variable.
const defaultLoopVar = "$loopCount"

// thinkStep suspends for a fixed duration without protocol interaction.
type thinkStep struct {
	d time.Duration
}

func (s *thinkStep) Name() string {
	return "think"
}

func (s *thinkStep) Execute(ctx context.Context, uc *Context) error {
	timer := time.NewTimer(s.d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loopStep repeats its inner sequence: count times with the loop
// variable bound to the index, or once per element of over with the
// variable bound to the element. A negative count means one
// unconditional repetition, standing in for an absent count.
type loopStep struct {
	steps   []Step
	count   int
	over    []any
	loopVar string
}

func (s *loopStep) Name() string {
	return "loop"
}

func (s *loopStep) Execute(ctx context.Context, uc *Context) error {
	if len(s.over) > 0 {
		for _, element := range s.over {
			uc.Vars[s.loopVar] = element
			if err := s.runInner(ctx, uc); err != nil {
				return err
			}
		}
		return nil
	}

	count := s.count
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		uc.Vars[s.loopVar] = i
		if err := s.runInner(ctx, uc); err != nil {
			return err
		}
	}
	return nil
}

func (s *loopStep) runInner(ctx context.Context, uc *Context) error {
	for _, step := range s.steps {
		if err := step.Execute(ctx, uc); err != nil {
			return err
		}
	}
	return nil
}

// compileStep turns one flow entry into an executable step. Anything
// that is not a think, loop, or emit step goes to the delegate whole.
func (e *Engine) compileStep(sc *config.Scenario, step *config.Step) (Step, error) {
	switch {
	case step.Think != nil:
		if *step.Think < 0 {
			return nil, fmt.Errorf("think duration must not be negative")
		}
		return &thinkStep{d: time.Duration(*step.Think * float64(time.Second))}, nil

	case step.Loop != nil:
		inner := make([]Step, 0, len(step.Loop))
		for i := range step.Loop {
			compiled, err := e.compileStep(sc, &step.Loop[i])
			if err != nil {
				return nil, fmt.Errorf("loop step %d: %w", i, err)
			}
			inner = append(inner, compiled)
		}
		count := -1
		if step.Count > 0 {
			count = step.Count
		}
		loopVar := step.LoopValue
		if loopVar == "" {
			loopVar = defaultLoopVar
		}
		return &loopStep{steps: inner, count: count, over: step.Over, loopVar: loopVar}, nil

	case step.Emit != nil:
		if err := validateResponseTimes(step.Emit); err != nil {
			return nil, err
		}
		return &emitStep{
			eng:            e,
			spec:           step.Emit,
			scenarioBefore: sc.BeforeRequest,
			scenarioAfter:  sc.AfterResponse,
			stepBefore:     step.BeforeRequest,
			stepAfter:      step.AfterResponse,
		}, nil

	default:
		if e.delegate == nil {
			return nil, fmt.Errorf("step is not a think, loop, or emit and no request engine is configured")
		}
		return e.delegate.Compile(*step)
	}
}

// validateResponseTimes rejects non-positive multiplicities anywhere in
// the response tree. Scripts loaded from files are already schema
// checked; this covers scenarios built in code.
func validateResponseTimes(emit *config.EmitSpec) error {
	for spec := emit.Response; spec != nil; {
		if spec.Times != nil && *spec.Times < 1 {
			return fmt.Errorf("emit %q: response times must be at least 1", emit.Channel)
		}
		if spec.Emit == nil {
			break
		}
		spec = spec.Emit.Response
	}
	return nil
}
