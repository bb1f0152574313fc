package summary

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"sockdrill/internal/telemetry"
)

func watchAndStop(t *testing.T, events ...telemetry.Event) Snapshot {
	t.Helper()
	bus := telemetry.NewBus()
	defer bus.Close()

	s := Watch(bus)
	for _, ev := range events {
		bus.Publish(ev)
	}
	s.Stop()
	return s.Snapshot()
}

func TestWatch_CountsEventKinds(t *testing.T) {
	snap := watchAndStop(t,
		telemetry.Started(),
		telemetry.Request("chat message", "/"),
		telemetry.Request("chat message", "/"),
		telemetry.Response(12*time.Millisecond, "vu-1"),
		telemetry.Match(true, "ok", "ok", "$.status"),
		telemetry.Match(false, "ok", "degraded", "$.status"),
		telemetry.Error("ResponseTimeout"),
	)

	if snap.Started != 1 {
		t.Errorf("Started = %d, want 1", snap.Started)
	}
	if snap.Requests != 2 {
		t.Errorf("Requests = %d, want 2", snap.Requests)
	}
	if snap.Responses != 1 {
		t.Errorf("Responses = %d, want 1", snap.Responses)
	}
	if snap.MatchOK != 1 || snap.MatchFail != 1 {
		t.Errorf("MatchOK/MatchFail = %d/%d, want 1/1", snap.MatchOK, snap.MatchFail)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
}

func TestWatch_RecordsLatencies(t *testing.T) {
	snap := watchAndStop(t,
		telemetry.Response(10*time.Millisecond, "vu-1"),
		telemetry.Response(20*time.Millisecond, "vu-1"),
		telemetry.Response(30*time.Millisecond, "vu-1"),
	)

	if snap.Latency.Count != 3 {
		t.Fatalf("Latency.Count = %d, want 3", snap.Latency.Count)
	}
	if snap.Latency.Min < 9*time.Millisecond || snap.Latency.Min > 11*time.Millisecond {
		t.Errorf("Latency.Min = %v, want ~10ms", snap.Latency.Min)
	}
	if snap.Latency.Max < 29*time.Millisecond || snap.Latency.Max > 31*time.Millisecond {
		t.Errorf("Latency.Max = %v, want ~30ms", snap.Latency.Max)
	}
	if snap.Latency.P99 < snap.Latency.P50 {
		t.Errorf("P99 %v below P50 %v", snap.Latency.P99, snap.Latency.P50)
	}
}

func TestWatch_GroupsErrorReasons(t *testing.T) {
	snap := watchAndStop(t,
		telemetry.Error("ResponseTimeout"),
		telemetry.Error("ResponseTimeout"),
		telemetry.Error("Failed match"),
	)

	if len(snap.Reasons) != 2 {
		t.Fatalf("Reasons = %v, want 2 entries", snap.Reasons)
	}
	if snap.Reasons[0].Code != "ResponseTimeout" || snap.Reasons[0].Count != 2 {
		t.Errorf("top reason = %+v, want ResponseTimeout x2", snap.Reasons[0])
	}
	if snap.Reasons[1].Code != "Failed match" || snap.Reasons[1].Count != 1 {
		t.Errorf("second reason = %+v, want Failed match x1", snap.Reasons[1])
	}
}

func TestWatch_TracksHTTPStatus(t *testing.T) {
	snap := watchAndStop(t,
		telemetry.HTTPResponse(5*time.Millisecond, 200, "vu-1"),
		telemetry.HTTPResponse(5*time.Millisecond, 200, "vu-1"),
		telemetry.HTTPResponse(5*time.Millisecond, 503, "vu-1"),
	)

	if snap.Statuses[200] != 2 || snap.Statuses[503] != 1 {
		t.Errorf("Statuses = %v, want 200x2 503x1", snap.Statuses)
	}
}

func TestStop_DrainsBufferedEvents(t *testing.T) {
	bus := telemetry.NewBus()
	defer bus.Close()

	s := Watch(bus)
	for i := 0; i < 50; i++ {
		bus.Publish(telemetry.Request("ping", "/"))
	}
	s.Stop()

	if got := s.Snapshot().Requests; got != 50 {
		t.Errorf("Requests = %d, want 50 (all buffered events drained)", got)
	}
}

func TestSnapshot_WhileRunning(t *testing.T) {
	bus := telemetry.NewBus()
	defer bus.Close()

	s := Watch(bus)
	defer s.Stop()

	snap := s.Snapshot()
	if snap.Requests != 0 || snap.Errors != 0 {
		t.Errorf("fresh snapshot = %+v, want zeroes", snap)
	}
	if snap.Duration < 0 {
		t.Errorf("Duration = %v, want non-negative", snap.Duration)
	}
}

func TestPrintText_Sections(t *testing.T) {
	snap := watchAndStop(t,
		telemetry.Started(),
		telemetry.Request("chat message", "/"),
		telemetry.Response(15*time.Millisecond, "vu-1"),
		telemetry.Match(true, 1, 1, "$.n"),
		telemetry.Error("ResponseTimeout"),
	)

	var buf bytes.Buffer
	PrintText(&buf, snap)
	out := buf.String()

	for _, want := range []string{
		"Sockdrill - Run Summary",
		"Scenarios run:   1",
		"Messages sent:   1",
		"Steps completed: 1",
		"Step Times:",
		"1 passed",
		"1 x ResponseTimeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintText_OmitsEmptySections(t *testing.T) {
	snap := watchAndStop(t, telemetry.Started())

	var buf bytes.Buffer
	PrintText(&buf, snap)
	out := buf.String()

	for _, absent := range []string{"Step Times:", "Matches:", "HTTP Status:"} {
		if strings.Contains(out, absent) {
			t.Errorf("output contains %q for an empty run:\n%s", absent, out)
		}
	}
}

func TestPrintJSON_RoundTrips(t *testing.T) {
	snap := watchAndStop(t,
		telemetry.Started(),
		telemetry.Response(15*time.Millisecond, "vu-1"),
		telemetry.Error("ResponseTimeout"),
	)

	var buf bytes.Buffer
	PrintJSON(&buf, snap)

	var decoded struct {
		ScenariosRun   int            `json:"scenariosRun"`
		StepsCompleted int            `json:"stepsCompleted"`
		Errors         int            `json:"errors"`
		ErrorReasons   map[string]int `json:"errorReasons"`
		StepTimes      *struct {
			Count int64 `json:"count"`
		} `json:"stepTimes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, buf.String())
	}
	if decoded.ScenariosRun != 1 || decoded.StepsCompleted != 1 || decoded.Errors != 1 {
		t.Errorf("decoded = %+v, want 1/1/1", decoded)
	}
	if decoded.ErrorReasons["ResponseTimeout"] != 1 {
		t.Errorf("errorReasons = %v, want ResponseTimeout x1", decoded.ErrorReasons)
	}
	if decoded.StepTimes == nil || decoded.StepTimes.Count != 1 {
		t.Errorf("stepTimes = %+v, want count 1", decoded.StepTimes)
	}
}

func TestFormatDuration_Ladder(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Microsecond, "500µs"},
		{42 * time.Millisecond, "42ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
	}
	for _, c := range cases {
		if got := formatDuration(c.in); got != c.want {
			t.Errorf("formatDuration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
