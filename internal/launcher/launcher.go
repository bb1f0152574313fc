// Package launcher runs a population of concurrent virtual users.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"sockdrill/internal/engine"
	"sockdrill/internal/telemetry"
)

// Scenario is the unit of work a virtual user repeats. engine.Scenario
// satisfies it.
type Scenario interface {
	Name() string
	Run(ctx context.Context, uc *engine.Context) error
}

// Options configure a launch.
type Options struct {
	// Users is the number of concurrent virtual users.
	Users int

	// Iterations is how many scenario runs each user performs.
	Iterations int

	// Scenarios are picked uniformly at random, one per iteration.
	Scenarios []Scenario

	// Seed populates the fresh variable map of every iteration, for
	// script variables and payload rows. May be nil.
	Seed func(vars map[string]any)

	// Bus receives a synthesized error event when a user panics.
	Bus *telemetry.Bus

	Logger *slog.Logger
}

// Launcher spawns user goroutines and waits for them to drain.
type Launcher struct {
	opts   Options
	wg     sync.WaitGroup
	active atomic.Int32
}

// New creates a launcher. Users and Iterations below one are raised to
// one.
func New(opts Options) *Launcher {
	if opts.Users < 1 {
		opts.Users = 1
	}
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Launcher{opts: opts}
}

// Spawn starts every user goroutine and returns immediately. Call Wait
// to block until the population drains.
func (l *Launcher) Spawn(ctx context.Context) {
	if len(l.opts.Scenarios) == 0 {
		return
	}
	for i := 0; i < l.opts.Users; i++ {
		l.wg.Add(1)
		l.active.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.active.Add(-1)
			l.runUser(ctx)
		}()
	}
}

// Wait blocks until every user finishes.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// Active returns the number of users still running.
func (l *Launcher) Active() int {
	return int(l.active.Load())
}

// runUser performs the iteration loop of one virtual user. Each
// iteration gets a fresh context and seeded variables; a failed run
// stops this user without touching the others.
func (l *Launcher) runUser(ctx context.Context) {
	defer l.recoverPanic()
	rng := rand.New(rand.NewSource(rand.Int63()))
	for i := 0; i < l.opts.Iterations; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		uc := engine.NewContext()
		if l.opts.Seed != nil {
			l.opts.Seed(uc.Vars)
		}
		sc := l.opts.Scenarios[rng.Intn(len(l.opts.Scenarios))]
		if err := sc.Run(ctx, uc); err != nil {
			l.opts.Logger.Debug("user stopped", "user", uc.UID(), "scenario", sc.Name(), "error", err)
			return
		}
	}
}

// recoverPanic turns a crashed user into an error event so one bad
// scenario cannot take down the whole run.
func (l *Launcher) recoverPanic() {
	if r := recover(); r != nil {
		if l.opts.Bus != nil {
			l.opts.Bus.Publish(telemetry.Error(fmt.Sprintf("panic: %v", r)))
		}
		l.opts.Logger.Error("virtual user panicked", "panic", r)
	}
}

// Launch is the one-call form: spawn the population and block until it
// drains.
func Launch(ctx context.Context, opts Options) {
	l := New(opts)
	l.Spawn(ctx)
	l.Wait()
}
