package patch

import (
	"fmt"
)

// Apply returns a copy of doc with ops applied in order. doc is not
// modified.
func Apply(doc any, ops []Op) (any, error) {
	out := Clone(doc)
	for i, op := range ops {
		var err error
		out, err = apply(out, op.Path, op)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s %s): %w", i, op.Kind, op.Path, err)
		}
	}
	return out, nil
}

func apply(node any, p Path, op Op) (any, error) {
	if len(p) == 0 {
		switch op.Kind {
		case OpSet:
			return Clone(op.Value), nil
		case OpAppend:
			arr, ok := node.([]any)
			if !ok {
				return nil, fmt.Errorf("append target is %T, not an array", node)
			}
			return InsertElement(arr, len(arr), Clone(op.Value)), nil
		default:
			return nil, fmt.Errorf("cannot remove the document root")
		}
	}

	seg := p[0]
	if seg.IsIndex {
		arr, ok := node.([]any)
		if !ok {
			return nil, fmt.Errorf("index %d into %T", seg.Index, node)
		}
		if seg.Index < 0 || seg.Index >= len(arr) {
			return nil, fmt.Errorf("index %d out of range (len %d)", seg.Index, len(arr))
		}
		if len(p) == 1 && op.Kind == OpRemove {
			return removeAt(arr, seg.Index), nil
		}
		child, err := apply(arr[seg.Index], p[1:], op)
		if err != nil {
			return nil, err
		}
		arr[seg.Index] = child
		return arr, nil
	}

	obj, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("key %q into %T", seg.Key, node)
	}
	if len(p) == 1 && op.Kind == OpRemove {
		delete(obj, seg.Key)
		return obj, nil
	}
	child, exists := obj[seg.Key]
	if !exists && len(p) > 1 {
		return nil, fmt.Errorf("missing key %q", seg.Key)
	}
	child, err := apply(child, p[1:], op)
	if err != nil {
		return nil, err
	}
	obj[seg.Key] = child
	return obj, nil
}

// Clone deep-copies a decoded document.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}
