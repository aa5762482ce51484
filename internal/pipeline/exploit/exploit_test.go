package exploit

import (
	"context"
	"reflect"
	"testing"

	"bytemomo/redstorm/internal/domain"
)

func TestExecuteSimulatesAllScenarios(t *testing.T) {
	t.Parallel()

	e := New()
	if e.Name() != "exploitation" {
		t.Fatalf("Name() = %q", e.Name())
	}

	var progressed []string
	results, err := e.Execute(context.Background(), "example.com", domain.PhaseOptions{
		Progress: func(u map[string]any) {
			if s, ok := u["scenario"].(string); ok {
				progressed = append(progressed, s)
			}
		},
	})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}

	if results["simulated"] != true {
		t.Error("payload must be flagged as simulated")
	}
	attempts, _ := results["attempts"].([]map[string]any)
	if len(attempts) != len(defaultScenarios) {
		t.Fatalf("got %d attempts, want %d", len(attempts), len(defaultScenarios))
	}
	if !reflect.DeepEqual(progressed, defaultScenarios) {
		t.Errorf("progress scenarios = %v", progressed)
	}

	summary, _ := results["summary"].(map[string]any)
	if summary == nil {
		t.Fatal("summary missing")
	}
	if summary["attempted"] != len(defaultScenarios) {
		t.Errorf("attempted = %v", summary["attempted"])
	}
	flagged, _ := summary["flagged"].(int)
	exposedCount := 0
	for _, a := range attempts {
		if a["exposed"] == true {
			exposedCount++
		}
	}
	if flagged != exposedCount {
		t.Errorf("flagged = %d but %d attempts exposed", flagged, exposedCount)
	}
}

func TestExecuteIsDeterministic(t *testing.T) {
	t.Parallel()

	e := New()
	first, err := e.Execute(context.Background(), "example.com", domain.PhaseOptions{})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	second, err := e.Execute(context.Background(), "example.com", domain.PhaseOptions{})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated runs must produce identical simulations")
	}
}

func TestExecuteScenarioOverride(t *testing.T) {
	t.Parallel()

	e := New()
	results, err := e.Execute(context.Background(), "example.com", domain.PhaseOptions{
		Params: map[string]any{"scenarios": []any{"default_credentials"}},
	})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	attempts, _ := results["attempts"].([]map[string]any)
	if len(attempts) != 1 || attempts[0]["scenario"] != "default_credentials" {
		t.Errorf("attempts = %v", attempts)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().Execute(ctx, "example.com", domain.PhaseOptions{}); err == nil {
		t.Fatal("Execute() with cancelled context must fail")
	}
}
