package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemsEntities = `entities: item: {
	source: "items"
	key:    "id"
	query:  "SELECT id AS pk, json_object('id', id, 'qty', qty) AS data FROM items"
}`

func itemsScenario(steps []Step, assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "items",
		Description: "single entity",
		Setup:       "CREATE TABLE items (id INTEGER PRIMARY KEY, qty INTEGER NOT NULL)",
		Entities:    itemsEntities,
		Steps:       steps,
		Assertions:  assertions,
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Exec: "INSERT INTO items (id, qty) VALUES (1, 5)"},
			{Commit: true},
		},
		Assertion{Type: AssertDocument, Entity: "item", PK: 1, Expect: map[string]any{"qty": 5}},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, TraceEvent{Op: "register", Arg: "item"}, result.Trace[0])
	assert.Equal(t, TraceEvent{Step: 1, Op: OpExec, Arg: "INSERT INTO items (id, qty) VALUES (1, 5)"}, result.Trace[1])
	assert.Equal(t, []Refreshed{{Key: "item:1", Action: "inserted"}}, result.Trace[2].Refreshed)
}

func TestRun_RollbackLeavesNothing(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Exec: "INSERT INTO items (id, qty) VALUES (1, 5)"},
			{Rollback: true},
		},
		Assertion{Type: AssertAbsent, Entity: "item", PK: 1},
		Assertion{Type: AssertRefreshCount, Action: "inserted", Count: 0},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_UnexpectedStepError(t *testing.T) {
	s := itemsScenario(
		[]Step{{Commit: true}},
		Assertion{Type: AssertDocumentCount, Entity: "item", Count: 0},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1 (commit)")
	assert.Contains(t, result.Errors[0], "no open transaction")
}

func TestRun_ExpectedError(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Refresh: "missing", ExpectError: "TV001"},
			{RollbackPrepared: "nope", ExpectError: "TV302"},
		},
		Assertion{Type: AssertDocumentCount, Entity: "item", Count: 0},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "TV001", result.Trace[1].Error)
	assert.Equal(t, "TV302", result.Trace[2].Error)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Refresh: "item", ExpectError: "TV001"},
		},
		Assertion{Type: AssertDocumentCount, Entity: "item", Count: 0},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error TV001, got none")
}

func TestRun_OpenTransactionBlocksEngineOps(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Exec: "INSERT INTO items (id, qty) VALUES (1, 5)"},
			{Restart: true},
		},
		Assertion{Type: AssertDocumentCount, Entity: "item", Count: 0},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "a transaction is open", result.Trace[2].Error)
}

func TestRun_PreparedSurvivesRestart(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Exec: "INSERT INTO items (id, qty) VALUES (1, 5)"},
			{Prepare: "g1"},
			{Restart: true},
			{CommitPrepared: "g1"},
		},
		Assertion{Type: AssertDocument, Entity: "item", PK: 1, Expect: map[string]any{"id": 1, "qty": 5}},
		Assertion{Type: AssertFinalState, Table: "items", Where: map[string]any{"id": 1}, Expect: map[string]any{"qty": 5}},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Trace[2].Refreshed)
	assert.Equal(t, []Refreshed{{Key: "item:1", Action: "inserted"}}, result.Trace[4].Refreshed)
}

func TestRun_SavepointRestoresQueue(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Exec: "INSERT INTO items (id, qty) VALUES (1, 5)"},
			{Savepoint: "sp"},
			{Exec: "INSERT INTO items (id, qty) VALUES (2, 6)"},
			{RollbackTo: "sp"},
			{Release: "sp"},
			{Commit: true},
		},
		Assertion{Type: AssertDocumentCount, Entity: "item", Count: 1},
		Assertion{Type: AssertAbsent, Entity: "item", PK: 2},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_FailingAssertion(t *testing.T) {
	s := itemsScenario(
		[]Step{
			{Exec: "INSERT INTO items (id, qty) VALUES (1, 5)"},
			{Commit: true},
		},
		Assertion{Type: AssertDocument, Entity: "item", PK: 1, Expect: map[string]any{"qty": 6}},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `{"qty":6}`)
}

func TestRun_BadDefinitions(t *testing.T) {
	s := itemsScenario([]Step{{Commit: true}},
		Assertion{Type: AssertDocumentCount, Entity: "item"})
	s.Entities = `entities: item: {source: "items"}`

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load entities")
}

func TestRun_BadSetup(t *testing.T) {
	s := itemsScenario([]Step{{Commit: true}},
		Assertion{Type: AssertDocumentCount, Entity: "item"})
	s.Setup = "CREATE TABLE"

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute setup")
}
