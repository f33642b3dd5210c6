package patch

import (
	"fmt"
	"strings"

	"github.com/roach88/tview/internal/catalog"
)

// DefaultMaxOps is the largest op set still applied as a partial update.
const DefaultMaxOps = 16

// Plan is the write strategy chosen for one document.
type Plan struct {
	// Ops is the partial update; empty with Full=false means unchanged.
	Ops []Op
	// Full requests whole-document replacement.
	Full bool
	// Reason explains why Full was chosen.
	Reason string
}

// Unchanged reports whether the document needs no write at all.
func (p Plan) Unchanged() bool { return !p.Full && len(p.Ops) == 0 }

// NewPlan chooses between a partial update and full replacement of old by
// updated. A partial update is used only when the op set is bounded by
// maxOps, every path renders as a SQLite JSON path, and applying the ops to
// old reproduces updated exactly.
func NewPlan(old, updated any, hints []catalog.PatchHint, maxOps int) Plan {
	if old == nil {
		return Plan{Full: true, Reason: "no stored document"}
	}
	if maxOps <= 0 {
		maxOps = DefaultMaxOps
	}
	ops := Diff(old, updated, hints)
	if len(ops) == 0 {
		return Plan{}
	}
	if len(ops) > maxOps {
		return Plan{Full: true, Reason: fmt.Sprintf("%d changed paths exceed limit %d", len(ops), maxOps)}
	}
	for _, op := range ops {
		if len(op.Path) == 0 {
			return Plan{Full: true, Reason: "document root replaced"}
		}
		if _, ok := op.Path.SQLite(); !ok {
			return Plan{Full: true, Reason: fmt.Sprintf("path %s not addressable", op.Path)}
		}
	}
	got, err := Apply(old, ops)
	if err != nil || !Equal(got, updated) {
		return Plan{Full: true, Reason: "patch does not reproduce document"}
	}
	return Plan{Ops: ops}
}

// SQLite renders the ops as a nested json_set/json_remove/json_insert
// expression over column, with its bind arguments in order.
func (p Plan) SQLite(column string) (expr string, args []any, err error) {
	expr = column
	for _, op := range p.Ops {
		path, ok := op.Path.SQLite()
		if !ok {
			return "", nil, fmt.Errorf("path %s not addressable", op.Path)
		}
		switch op.Kind {
		case OpSet:
			val, err := Canonical(op.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode %s: %w", op.Path, err)
			}
			expr = "json_set(" + expr + ", ?, json(?))"
			args = append(args, path, string(val))
		case OpRemove:
			expr = "json_remove(" + expr + ", ?)"
			args = append(args, path)
		case OpAppend:
			val, err := Canonical(op.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode %s: %w", op.Path, err)
			}
			expr = "json_insert(" + expr + ", ?, json(?))"
			args = append(args, path+"[#]", string(val))
		default:
			return "", nil, fmt.Errorf("unknown op %q", op.Kind)
		}
	}
	return expr, args, nil
}

// Paths lists the changed paths, for logging.
func (p Plan) Paths() string {
	parts := make([]string, len(p.Ops))
	for i, op := range p.Ops {
		parts[i] = string(op.Kind) + " " + op.Path.String()
	}
	return strings.Join(parts, ", ")
}
