package trigger

import (
	"testing"
	"time"
)

func newTestEngine(t *testing.T, rules []Rule) (*Engine, *time.Time) {
	t.Helper()
	e, err := NewEngine(rules, nil, 16)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	return e, &clock
}

func drain(e *Engine) []StartRequest {
	var out []StartRequest
	for {
		select {
		case req := <-e.Requests():
			out = append(out, req)
		default:
			return out
		}
	}
}

func fragilityRule(cooldown time.Duration) Rule {
	return Rule{
		Name:      "fragility-spike",
		EventType: "indicator.update",
		Metric:    "fragility",
		Op:        OpGreaterThan,
		Threshold: 6,
		Cooldown:  cooldown,
		Workflow:  "daily-swarm",
	}
}

func TestCooldownSuppressesRefires(t *testing.T) {
	e, clock := newTestEngine(t, []Rule{fragilityRule(time.Hour)})
	evt := Event{Type: "indicator.update", Metric: "fragility", Value: 8, At: *clock}

	e.HandleEvent(evt)
	*clock = clock.Add(10 * time.Minute)
	e.HandleEvent(evt) // inside cooldown → suppressed

	if got := drain(e); len(got) != 1 {
		t.Fatalf("expected exactly one enqueue inside cooldown window, got %d", len(got))
	}

	*clock = clock.Add(time.Hour) // past cooldown
	e.HandleEvent(evt)

	got := drain(e)
	if len(got) != 1 {
		t.Fatalf("expected a second enqueue after cooldown elapsed, got %d", len(got))
	}
	if got[0].Workflow != "daily-swarm" || got[0].Source != "trigger:fragility-spike" {
		t.Errorf("request: %+v", got[0])
	}
}

func TestCrossAboveRequiresTransition(t *testing.T) {
	rule := fragilityRule(0)
	rule.Op = OpCrossAbove
	e, _ := newTestEngine(t, []Rule{rule})

	// First observation above threshold only arms: no stored previous value,
	// so there is no transition to detect yet.
	e.HandleEvent(Event{Type: "indicator.update", Metric: "fragility", Value: 8})
	if got := drain(e); len(got) != 0 {
		t.Fatalf("first observation must arm, not fire: %+v", got)
	}

	// Still above: no crossing.
	e.HandleEvent(Event{Type: "indicator.update", Metric: "fragility", Value: 9})
	if got := drain(e); len(got) != 0 {
		t.Fatalf("no transition, must not fire: %+v", got)
	}

	// Dip below, then cross back above.
	e.HandleEvent(Event{Type: "indicator.update", Metric: "fragility", Value: 4})
	e.HandleEvent(Event{Type: "indicator.update", Metric: "fragility", Value: 7})
	if got := drain(e); len(got) != 1 {
		t.Fatalf("crossing above must fire once, got %d", len(got))
	}
}

func TestCrossBelow(t *testing.T) {
	rule := Rule{
		Name: "momentum-drop", EventType: "indicator.update", Metric: "momentum",
		Op: OpCrossBelow, Threshold: 50, Workflow: "daily-swarm",
	}
	e, _ := newTestEngine(t, []Rule{rule})

	e.HandleEvent(Event{Type: "indicator.update", Metric: "momentum", Value: 60})
	e.HandleEvent(Event{Type: "indicator.update", Metric: "momentum", Value: 45})

	if got := drain(e); len(got) != 1 {
		t.Fatalf("cross below must fire, got %d", len(got))
	}
}

func TestRulesFireIndependently(t *testing.T) {
	a := fragilityRule(time.Hour)
	b := fragilityRule(time.Hour)
	b.Name = "fragility-watch"
	b.Threshold = 3
	b.Workflow = "risk-review"
	e, _ := newTestEngine(t, []Rule{a, b})

	e.HandleEvent(Event{Type: "indicator.update", Metric: "fragility", Value: 8})

	got := drain(e)
	if len(got) != 2 {
		t.Fatalf("both matching rules must fire from one event, got %d", len(got))
	}
	if got[0].RunKey == got[1].RunKey {
		t.Error("event-triggered runs must get distinct run keys")
	}
}

func TestEventTypeAndMetricMustMatch(t *testing.T) {
	e, _ := newTestEngine(t, []Rule{fragilityRule(0)})

	e.HandleEvent(Event{Type: "price.tick", Metric: "fragility", Value: 9})
	e.HandleEvent(Event{Type: "indicator.update", Metric: "cbbi", Value: 9})

	if got := drain(e); len(got) != 0 {
		t.Fatalf("non-matching events must not fire: %+v", got)
	}
}

func TestLessThanOperator(t *testing.T) {
	rule := Rule{
		Name: "liquidity-floor", EventType: "indicator.update", Metric: "liquidity",
		Op: OpLessThan, Threshold: 10, Workflow: "daily-swarm",
	}
	e, _ := newTestEngine(t, []Rule{rule})

	e.HandleEvent(Event{Type: "indicator.update", Metric: "liquidity", Value: 12})
	e.HandleEvent(Event{Type: "indicator.update", Metric: "liquidity", Value: 8})

	if got := drain(e); len(got) != 1 {
		t.Fatalf("got %d fires", len(got))
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	if _, err := NewEngine([]Rule{{Name: "r", Op: "approximately", Workflow: "w"}}, nil, 1); err == nil {
		t.Error("bad operator must be rejected")
	}
	if _, err := NewEngine([]Rule{{Name: "r", Op: OpGreaterThan}}, nil, 1); err == nil {
		t.Error("missing workflow must be rejected")
	}
	if _, err := NewEngine(nil, []Schedule{{Name: "s", Cadence: "not cron", Workflow: "w"}}, 1); err == nil {
		t.Error("bad cadence must be rejected")
	}
}

func TestScheduleCadenceParses(t *testing.T) {
	e, err := NewEngine(nil, []Schedule{{Name: "daily", Cadence: "0 13 * * *", Workflow: "daily-swarm"}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(e.parsed) != 1 {
		t.Fatal("schedule not parsed")
	}
	next := e.parsed[0].Next(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	if next.Hour() != 13 || next.Day() != 14 {
		t.Errorf("next: %v", next)
	}
}
