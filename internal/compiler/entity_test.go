package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tview/internal/catalog"
)

func compileOne(t *testing.T, src, path string) (*catalog.Entity, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileEntity(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileEntityBasic(t *testing.T) {
	ent, err := compileOne(t, `
		entities: post: {
			source: "posts"
			key: "id"
			query: "SELECT id AS pk, json_object('id', id) AS data FROM posts"
			depends_on: ["blog_user"]
			lineage: [{child: "blog_user", fk: "author_id"}]
			patches: [{path: "comments", kind: "array", match_key: "comment_id"}]
		}
	`, "entities.post")
	require.NoError(t, err)

	assert.Equal(t, "post", ent.Name)
	assert.Equal(t, "posts", ent.Source)
	assert.Equal(t, "id", ent.KeyColumn)
	assert.Equal(t, []string{"blog_user"}, ent.Dependencies)
	assert.Equal(t, []catalog.LineagePath{{Child: "blog_user", FKColumn: "author_id", Parent: "post"}}, ent.Lineage)
	assert.Equal(t, []catalog.PatchHint{{Path: "comments", Kind: catalog.PatchArray, MatchKey: "comment_id"}}, ent.Patches)
	require.NoError(t, ent.Validate())
}

func TestCompileEntityHolderChild(t *testing.T) {
	ent, err := compileOne(t, `
		entities: summary: {
			query: "SELECT 1 AS pk, '{}' AS data"
			lineage: [{child: "line", fk: "order_id", holder: "child"}]
		}
	`, "entities.summary")
	require.NoError(t, err)
	assert.Equal(t, catalog.HolderChild, ent.Lineage[0].Holder)
	assert.Empty(t, ent.Source)
}

func TestCompileEntityMissingQuery(t *testing.T) {
	_, err := compileOne(t, `entities: x: { source: "t" }`, "entities.x")

	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "query", ce.Field)
	assert.Contains(t, err.Error(), "required")
}

func TestCompileEntityKeyWithoutSource(t *testing.T) {
	_, err := compileOne(t, `entities: x: { key: "id", query: "SELECT 1 AS pk, '{}' AS data" }`, "entities.x")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "key", ce.Field)
}

func TestCompileEntityBadHolder(t *testing.T) {
	_, err := compileOne(t, `
		entities: x: {
			query: "SELECT 1 AS pk, '{}' AS data"
			lineage: [{child: "y", fk: "y_id", holder: "sideways"}]
		}
	`, "entities.x")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "lineage[0].holder", ce.Field)
}

func TestCompileEntityLineageMissingFK(t *testing.T) {
	_, err := compileOne(t, `
		entities: x: {
			query: "SELECT 1 AS pk, '{}' AS data"
			lineage: [{child: "y"}]
		}
	`, "entities.x")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "lineage[0].fk", ce.Field)
}

func TestCompileEntityBadPatchKind(t *testing.T) {
	_, err := compileOne(t, `
		entities: x: {
			query: "SELECT 1 AS pk, '{}' AS data"
			patches: [{path: "a", kind: "blob"}]
		}
	`, "entities.x")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "patches[0].kind", ce.Field)
}

func TestCompileEntityWrongType(t *testing.T) {
	_, err := compileOne(t, `entities: x: { query: 42 }`, "entities.x")
	require.Error(t, err)
}
