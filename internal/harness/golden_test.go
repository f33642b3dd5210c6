package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace and final documents with testdata/golden.
func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

// TestScenariosDeterministic runs each scenario twice and expects
// byte-identical snapshots.
func TestScenariosDeterministic(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			first, err := Run(s)
			require.NoError(t, err)
			second, err := Run(s)
			require.NoError(t, err)

			a, err := Snapshot(s.Name, first)
			require.NoError(t, err)
			b, err := Snapshot(s.Name, second)
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
		})
	}
}

func TestSnapshot_Canonical(t *testing.T) {
	r := NewResult()
	r.AddEvent(TraceEvent{Op: "register", Arg: "item"})
	r.AddEvent(TraceEvent{Step: 1, Op: OpCommit, Refreshed: []Refreshed{{Key: "item:1", Action: "inserted"}}})
	r.AddEvent(TraceEvent{Step: 2, Op: OpRefresh, Arg: "x", Error: "TV001"})
	r.Documents["item"] = map[string]any{"1": map[string]any{"qty": 5, "id": 1}}

	b, err := Snapshot("s", r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"documents":{"item":{"1":{"id":1,"qty":5}}},"scenario_name":"s","trace":[`+
			`{"arg":"item","op":"register"},`+
			`{"op":"commit","refreshed":[{"action":"inserted","key":"item:1"}],"step":1},`+
			`{"arg":"x","error":"TV001","op":"refresh","step":2}]}`+"\n",
		string(b))
}
