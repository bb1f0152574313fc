// Package summary aggregates telemetry events into an end-of-run report.
package summary

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"sockdrill/internal/telemetry"
)

// Histogram range: 1 microsecond to 1 hour, 3 significant figures.
const (
	histMin     = 1
	histMax     = 3_600_000_000
	histSigFigs = 3
)

// Summary drains one bus subscription and aggregates what it sees.
type Summary struct {
	sub  *telemetry.Subscription
	done chan struct{}

	mu        sync.Mutex
	started   int
	requests  int
	responses int
	errors    int
	matchOK   int
	matchFail int
	reasons   map[string]int
	statuses  map[int]int
	latency   *hdrhistogram.Histogram
	startTime time.Time
	endTime   time.Time
}

// Watch subscribes to the bus and aggregates events until Stop.
func Watch(bus *telemetry.Bus) *Summary {
	s := &Summary{
		sub:       bus.Subscribe(),
		done:      make(chan struct{}),
		reasons:   make(map[string]int),
		statuses:  make(map[int]int),
		latency:   hdrhistogram.New(histMin, histMax, histSigFigs),
		startTime: time.Now(),
	}
	go s.drain()
	return s
}

func (s *Summary) drain() {
	for ev := range s.sub.Events() {
		s.record(ev)
	}
	close(s.done)
}

func (s *Summary) record(ev telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case telemetry.KindStarted:
		s.started++
	case telemetry.KindRequest:
		s.requests++
	case telemetry.KindResponse:
		s.responses++
		if ev.StatusCode != 0 {
			s.statuses[ev.StatusCode]++
		}
		micros := ev.Elapsed.Microseconds()
		if micros < histMin {
			micros = histMin
		}
		if micros > histMax {
			micros = histMax
		}
		s.latency.RecordValue(micros)
	case telemetry.KindMatch:
		if ev.Success {
			s.matchOK++
		} else {
			s.matchFail++
		}
	case telemetry.KindError:
		s.errors++
		s.reasons[ev.Reason]++
	}
}

// Stop closes the subscription, waits for buffered events to drain, and
// freezes the run duration.
func (s *Summary) Stop() {
	s.sub.Close()
	<-s.done

	s.mu.Lock()
	s.endTime = time.Now()
	s.mu.Unlock()
}

// LatencySpread is the step-time distribution of a run.
type LatencySpread struct {
	Count int64
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Reason is one error code with its occurrence count.
type Reason struct {
	Code  string
	Count int
}

// Snapshot is an immutable view of the aggregated run.
type Snapshot struct {
	Duration  time.Duration
	Started   int
	Requests  int
	Responses int
	Errors    int
	MatchOK   int
	MatchFail int
	Reasons   []Reason
	Statuses  map[int]int
	Latency   LatencySpread
}

// Snapshot copies the current totals. Safe to call while the run is
// still in flight.
func (s *Summary) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := time.Since(s.startTime)
	if !s.endTime.IsZero() {
		duration = s.endTime.Sub(s.startTime)
	}

	snap := Snapshot{
		Duration:  duration,
		Started:   s.started,
		Requests:  s.requests,
		Responses: s.responses,
		Errors:    s.errors,
		MatchOK:   s.matchOK,
		MatchFail: s.matchFail,
		Statuses:  make(map[int]int, len(s.statuses)),
	}
	for code, n := range s.statuses {
		snap.Statuses[code] = n
	}
	for code, n := range s.reasons {
		snap.Reasons = append(snap.Reasons, Reason{Code: code, Count: n})
	}
	sort.Slice(snap.Reasons, func(i, j int) bool {
		if snap.Reasons[i].Count != snap.Reasons[j].Count {
			return snap.Reasons[i].Count > snap.Reasons[j].Count
		}
		return snap.Reasons[i].Code < snap.Reasons[j].Code
	})

	if s.latency.TotalCount() > 0 {
		snap.Latency = LatencySpread{
			Count: s.latency.TotalCount(),
			Min:   time.Duration(s.latency.Min()) * time.Microsecond,
			Max:   time.Duration(s.latency.Max()) * time.Microsecond,
			Mean:  time.Duration(s.latency.Mean()) * time.Microsecond,
			P50:   time.Duration(s.latency.ValueAtQuantile(50)) * time.Microsecond,
			P90:   time.Duration(s.latency.ValueAtQuantile(90)) * time.Microsecond,
			P95:   time.Duration(s.latency.ValueAtQuantile(95)) * time.Microsecond,
			P99:   time.Duration(s.latency.ValueAtQuantile(99)) * time.Microsecond,
		}
	}
	return snap
}
