package catalog

import (
	"fmt"
	"time"
)

// Holder names which side of a lineage path stores the foreign key.
type Holder string

const (
	// HolderParent means the parent document field FKColumn holds the child pk.
	HolderParent Holder = "parent"

	// HolderChild means the child document field FKColumn holds the parent pk.
	HolderChild Holder = "child"
)

// PatchKind describes how a dependency is embedded in a document.
type PatchKind string

const (
	PatchNestedObject PatchKind = "nested_object"
	PatchArray        PatchKind = "array"
	PatchScalar       PatchKind = "scalar"
)

// DefaultMatchKey is the array element field used to match elements
// when a hint does not name one.
const DefaultMatchKey = "id"

// Entity is a registered derived collection.
//
// Source is the table whose row writes enqueue refreshes for this entity
// (empty for entities fed only through lineage). KeyColumn is the primary
// key column of Source. Query must yield two columns, pk and data, where
// data is the JSON document for that pk.
type Entity struct {
	Name         string        `json:"name"`
	Source       string        `json:"source,omitempty"`
	KeyColumn    string        `json:"key_column,omitempty"`
	Query        string        `json:"query"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Lineage      []LineagePath `json:"lineage,omitempty"`
	Patches      []PatchHint   `json:"patches,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// LineagePath is one (child, fk_column, parent) triple: a change to a row
// of Child may require recomputing rows of Parent.
type LineagePath struct {
	Child    string `json:"child"`
	FKColumn string `json:"fk_column"`
	Parent   string `json:"parent"`
	Holder   Holder `json:"holder,omitempty"`
}

// EffectiveHolder returns Holder, defaulting to HolderParent.
func (l LineagePath) EffectiveHolder() Holder {
	if l.Holder == "" {
		return HolderParent
	}
	return l.Holder
}

func (l LineagePath) String() string {
	return fmt.Sprintf("%s.%s -> %s (%s)", l.Child, l.FKColumn, l.Parent, l.EffectiveHolder())
}

// PatchHint tells the smart patcher how the subtree at Path is shaped.
type PatchHint struct {
	Path     string    `json:"path"`
	Kind     PatchKind `json:"kind"`
	MatchKey string    `json:"match_key,omitempty"`
}

// EffectiveMatchKey returns MatchKey, defaulting to DefaultMatchKey.
func (h PatchHint) EffectiveMatchKey() string {
	if h.MatchKey == "" {
		return DefaultMatchKey
	}
	return h.MatchKey
}

// EntityDependencies returns the dependencies of e that name other
// registered entities, including lineage children. known reports whether a
// name is a registered entity.
func (e *Entity) EntityDependencies(known func(string) bool) []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if name == "" || seen[name] || !known(name) {
			return
		}
		seen[name] = true
		deps = append(deps, name)
	}
	for _, d := range e.Dependencies {
		add(d)
	}
	for _, l := range e.Lineage {
		if l.Parent == e.Name {
			add(l.Child)
		}
	}
	return deps
}

// Hint returns the patch hint registered for path, if any.
func (e *Entity) Hint(path string) (PatchHint, bool) {
	for _, h := range e.Patches {
		if h.Path == path {
			return h, true
		}
	}
	return PatchHint{}, false
}
