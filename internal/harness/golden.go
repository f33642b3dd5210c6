package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tview/internal/patch"
)

// TraceSnapshot captures the complete trace of a scenario execution and
// the documents it left behind.
type TraceSnapshot struct {
	ScenarioName string                    `json:"scenario_name"`
	Trace        []TraceEvent              `json:"trace"`
	Documents    map[string]map[string]any `json:"documents"`
}

// toCanonicalMap converts a TraceSnapshot to plain maps and slices, the
// only shapes patch.Canonical serializes.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{"op": ev.Op}
		if ev.Step > 0 {
			m["step"] = ev.Step
		}
		if ev.Arg != "" {
			m["arg"] = ev.Arg
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		if len(ev.Refreshed) > 0 {
			refreshed := make([]any, len(ev.Refreshed))
			for j, r := range ev.Refreshed {
				refreshed[j] = map[string]any{"key": r.Key, "action": r.Action}
			}
			m["refreshed"] = refreshed
		}
		trace[i] = m
	}

	docs := make(map[string]any, len(s.Documents))
	for entity, byPK := range s.Documents {
		docs[entity] = map[string]any(byPK)
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"documents":     docs,
	}
}

// Snapshot renders a result as canonical JSON followed by a newline.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Documents:    result.Documents,
	}
	b, err := patch.Canonical(snap.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// RunWithGolden executes a scenario, fails t on any step or assertion
// error, and compares the snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against its golden
// file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	b, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, b)
	return nil
}
