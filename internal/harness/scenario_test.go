package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "Smallest valid scenario"
entities: |
  entities: t: {source: "t", key: "id", query: "SELECT id AS pk, json_object('id', id) AS data FROM t"}
steps:
  - exec: INSERT INTO t (id) VALUES (1)
  - commit: true
assertions:
  - type: document_count
    entity: t
    count: 1
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Len(t, s.Steps, 2)
	assert.Equal(t, "INSERT INTO t (id) VALUES (1)", s.Steps[0].Exec)
	assert.True(t, s.Steps[1].Commit)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, AssertDocumentCount, s.Assertions[0].Type)
	assert.Equal(t, 1, s.Assertions[0].Count)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `description: d
entities: "entities: {}"
steps: [{commit: true}]
assertions: [{type: document_count, entity: t}]`,
			want: "name is required",
		},
		{
			name: "no entities",
			yaml: `name: n
description: d
steps: [{commit: true}]
assertions: [{type: document_count, entity: t}]`,
			want: "exactly one of entities and entities_dir",
		},
		{
			name: "both entity sources",
			yaml: `name: n
description: d
entities: "entities: {}"
entities_dir: defs
steps: [{commit: true}]
assertions: [{type: document_count, entity: t}]`,
			want: "exactly one of entities and entities_dir",
		},
		{
			name: "two operations in one step",
			yaml: `name: n
description: d
entities: "entities: {}"
steps: [{commit: true, rollback: true}]
assertions: [{type: document_count, entity: t}]`,
			want: "steps[0]: exactly one operation",
		},
		{
			name: "empty step",
			yaml: `name: n
description: d
entities: "entities: {}"
steps: [{expect_error: TV001}]
assertions: [{type: document_count, entity: t}]`,
			want: "steps[0]: exactly one operation",
		},
		{
			name: "document without expect",
			yaml: `name: n
description: d
entities: "entities: {}"
steps: [{commit: true}]
assertions: [{type: document, entity: t, pk: 1}]`,
			want: "entity and expect are required",
		},
		{
			name: "unknown assertion",
			yaml: `name: n
description: d
entities: "entities: {}"
steps: [{commit: true}]
assertions: [{type: trace_contains}]`,
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "final state without table",
			yaml: `name: n
description: d
entities: "entities: {}"
steps: [{commit: true}]
assertions: [{type: final_state, expect: {a: 1}}]`,
			want: "table is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStepOp(t *testing.T) {
	tests := []struct {
		step Step
		op   string
		arg  string
	}{
		{Step{Exec: "SELECT 1"}, OpExec, "SELECT 1"},
		{Step{Commit: true}, OpCommit, ""},
		{Step{Rollback: true}, OpRollback, ""},
		{Step{Savepoint: "a"}, OpSavepoint, "a"},
		{Step{RollbackTo: "a"}, OpRollbackTo, "a"},
		{Step{Release: "a"}, OpRelease, "a"},
		{Step{Prepare: "g"}, OpPrepare, "g"},
		{Step{CommitPrepared: "g"}, OpCommitPrepared, "g"},
		{Step{RollbackPrepared: "g"}, OpRollbackPrepared, "g"},
		{Step{Refresh: "e"}, OpRefresh, "e"},
		{Step{Drop: "e"}, OpDrop, "e"},
		{Step{Restart: true}, OpRestart, ""},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			op, arg, ok := tt.step.Op()
			require.True(t, ok)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.arg, arg)
		})
	}

	_, _, ok := Step{Commit: true, Exec: "x"}.Op()
	assert.False(t, ok)
}

func TestLoadScenario_ResolvesEntitiesDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "defs"), 0o755))
	content := `
name: dir_based
description: d
entities_dir: defs
steps: [{commit: true}]
assertions: [{type: document_count, entity: t}]
`
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "defs"), s.EntitiesDir)
	assert.Equal(t, dir, s.Dir)
}

func TestLoadScenario_MissingEntitiesDir(t *testing.T) {
	dir := t.TempDir()
	content := `
name: dir_based
description: d
entities_dir: nowhere
steps: [{commit: true}]
assertions: [{type: document_count, entity: t}]
`
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entities_dir")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarios_Testdata(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "blog_rename", scenarios[0].Name)
	assert.Equal(t, "order_totals", scenarios[1].Name)
}
