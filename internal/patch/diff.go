package patch

import (
	"slices"

	"github.com/roach88/tview/internal/catalog"
)

// OpKind names a patch operation.
type OpKind string

const (
	// OpSet replaces (or creates) the value at Path.
	OpSet OpKind = "set"
	// OpRemove deletes the object key or array element at Path.
	OpRemove OpKind = "remove"
	// OpAppend appends Value to the array at Path.
	OpAppend OpKind = "append"
)

// Op is a single field-level change.
type Op struct {
	Kind  OpKind `json:"op"`
	Path  Path   `json:"-"`
	Value any    `json:"value,omitempty"`
}

// Diff computes the operations that turn from into to. Hints shape how
// subtrees are compared:
//   - array: elements are matched by the hint's match key; a single
//     trailing insertion or a single deletion is expressed element-wise
//   - scalar: the object is merged one level deep without recursing
//   - nested_object (and no hint): objects recurse fully
//
// Arrays without a hint are compared index by index when their lengths
// agree and replaced whole otherwise.
func Diff(from, to any, hints []catalog.PatchHint) []Op {
	d := differ{hints: make(map[string]catalog.PatchHint, len(hints))}
	for _, h := range hints {
		d.hints[h.Path] = h
	}
	d.value(nil, from, to)
	return d.ops
}

type differ struct {
	hints map[string]catalog.PatchHint
	ops   []Op
}

func (d *differ) emit(kind OpKind, p Path, v any) {
	d.ops = append(d.ops, Op{Kind: kind, Path: p, Value: v})
}

func (d *differ) value(p Path, a, b any) {
	if Equal(a, b) {
		return
	}
	hint, hinted := d.hints[p.HintPath()]

	switch bv := b.(type) {
	case map[string]any:
		av, ok := a.(map[string]any)
		if !ok {
			d.emit(OpSet, p, b)
			return
		}
		d.object(p, av, bv, hinted && hint.Kind == catalog.PatchScalar)
	case []any:
		av, ok := a.([]any)
		if !ok {
			d.emit(OpSet, p, b)
			return
		}
		if hinted && hint.Kind == catalog.PatchArray {
			d.keyedArray(p, av, bv, hint.EffectiveMatchKey())
			return
		}
		if len(av) != len(bv) {
			d.emit(OpSet, p, b)
			return
		}
		for i := range bv {
			d.value(p.Index(i), av[i], bv[i])
		}
	default:
		d.emit(OpSet, p, b)
	}
}

func (d *differ) object(p Path, a, b map[string]any, shallow bool) {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		av, inA := a[k]
		bv, inB := b[k]
		switch {
		case !inB:
			d.emit(OpRemove, p.Key(k), nil)
		case !inA:
			d.emit(OpSet, p.Key(k), bv)
		case shallow:
			if !Equal(av, bv) {
				d.emit(OpSet, p.Key(k), bv)
			}
		default:
			d.value(p.Key(k), av, bv)
		}
	}
}

func (d *differ) keyedArray(p Path, a, b []any, matchKey string) {
	ka, okA := MatchKeys(a, matchKey)
	kb, okB := MatchKeys(b, matchKey)
	if !okA || !okB {
		d.emit(OpSet, p, b)
		return
	}

	switch {
	case len(a) == len(b) && keysEqual(ka, kb):
		for i := range b {
			d.value(p.Index(i), a[i], b[i])
		}
	case len(b) == len(a)+1 && keysEqual(ka, kb[:len(a)]):
		for i := range a {
			d.value(p.Index(i), a[i], b[i])
		}
		d.emit(OpAppend, p, b[len(b)-1])
	case len(b) == len(a)-1:
		removed := -1
		for i := range ka {
			if keysEqual(append(slices.Clone(ka[:i]), ka[i+1:]...), kb) {
				removed = i
				break
			}
		}
		if removed < 0 {
			d.emit(OpSet, p, b)
			return
		}
		rest, _ := DeleteElement(a, matchKey, ka[removed])
		d.emit(OpRemove, p.Index(removed), nil)
		for i := range b {
			d.value(p.Index(i), rest[i], b[i])
		}
	default:
		d.emit(OpSet, p, b)
	}
}

func keysEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
