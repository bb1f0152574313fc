package engine

import (
	"context"
	"fmt"

	"sockdrill/internal/config"
	"sockdrill/internal/telemetry"
)

// Scenario is a compiled flow, reusable across any number of users and
// runs. All per-run state lives in the Context passed to Run.
type Scenario struct {
	eng     *Engine
	name    string
	steps   []Step
	pending int
}

// Compile turns a scenario spec into a runnable Scenario.
func (e *Engine) Compile(sc config.Scenario) (*Scenario, error) {
	s := &Scenario{eng: e, name: sc.Name}
	for i := range sc.Flow {
		step, err := e.compileStep(&sc, &sc.Flow[i])
		if err != nil {
			return nil, fmt.Errorf("scenario %q, step %d: %w", sc.Name, i, err)
		}
		s.steps = append(s.steps, step)
		if sc.Flow[i].Think == nil {
			s.pending++
		}
	}
	return s, nil
}

// Name returns the scenario's script name.
func (s *Scenario) Name() string {
	return s.name
}

// Run executes the scenario once for the given user. It opens the
// default-namespace connection up front, runs the steps strictly in
// order, and always closes the user's connections on the way out. The
// Context is the final state either way; on error it holds whatever
// progress was made.
func (s *Scenario) Run(ctx context.Context, uc *Context) error {
	uc.reset(s.pending)
	defer uc.closeSockets()

	s.eng.bus.Publish(telemetry.Started())
	if _, err := s.eng.connect(ctx, uc, "/"); err != nil {
		s.eng.bus.Publish(telemetry.Error(Reason(err)))
		return err
	}

	for _, step := range s.steps {
		if err := step.Execute(ctx, uc); err != nil {
			return err
		}
	}
	return nil
}
