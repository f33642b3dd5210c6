package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tview/internal/catalog"
)

// CompileEntity parses a CUE value into an Entity.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entities: order_line: { ... }`)
//	ent, err := CompileEntity(v.LookupPath(cue.ParsePath("entities.order_line")))
//
// Recognized fields:
//
//	source:     string              source table (optional)
//	key:        string              key column of source (optional)
//	query:      string              SELECT yielding pk and data (required)
//	depends_on: [...string]         entities read by query
//	lineage:    [...{child, fk, holder?, parent?}]
//	patches:    [...{path, kind, match_key?}]
func CompileEntity(v cue.Value) (*catalog.Entity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	ent := &catalog.Entity{}

	// Entity name from struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		ent.Name = labels[len(labels)-1].String()
	}

	var err error
	if ent.Source, err = optionalString(v, "source"); err != nil {
		return nil, err
	}
	if ent.KeyColumn, err = optionalString(v, "key"); err != nil {
		return nil, err
	}
	if ent.KeyColumn != "" && ent.Source == "" {
		return nil, &CompileError{
			Field:   "key",
			Message: "key requires source",
			Pos:     v.LookupPath(cue.ParsePath("key")).Pos(),
		}
	}

	queryVal := v.LookupPath(cue.ParsePath("query"))
	if !queryVal.Exists() {
		return nil, &CompileError{
			Field:   "query",
			Message: "query is required",
			Pos:     v.Pos(),
		}
	}
	if ent.Query, err = queryVal.String(); err != nil {
		return nil, formatCUEError(err)
	}

	if ent.Dependencies, err = stringList(v, "depends_on"); err != nil {
		return nil, err
	}
	if ent.Lineage, err = parseLineage(v, ent.Name); err != nil {
		return nil, err
	}
	if ent.Patches, err = parsePatches(v); err != nil {
		return nil, err
	}
	return ent, nil
}

// parseLineage reads the lineage list. parent defaults to the entity
// itself; holder defaults to parent.
func parseLineage(v cue.Value, name string) ([]catalog.LineagePath, error) {
	listVal := v.LookupPath(cue.ParsePath("lineage"))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []catalog.LineagePath
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		field := fmt.Sprintf("lineage[%d]", i)

		child, err := requiredString(item, "child", field)
		if err != nil {
			return nil, err
		}
		fk, err := requiredString(item, "fk", field)
		if err != nil {
			return nil, err
		}
		parent, err := optionalString(item, "parent")
		if err != nil {
			return nil, err
		}
		if parent == "" {
			parent = name
		}
		holder, err := optionalString(item, "holder")
		if err != nil {
			return nil, err
		}
		switch catalog.Holder(holder) {
		case "", catalog.HolderParent, catalog.HolderChild:
		default:
			return nil, &CompileError{
				Field:   field + ".holder",
				Message: fmt.Sprintf("holder must be %q or %q, got %q", catalog.HolderParent, catalog.HolderChild, holder),
				Pos:     item.LookupPath(cue.ParsePath("holder")).Pos(),
			}
		}

		out = append(out, catalog.LineagePath{
			Child:    child,
			FKColumn: fk,
			Parent:   parent,
			Holder:   catalog.Holder(holder),
		})
	}
	return out, nil
}

// parsePatches reads the patch hint list.
func parsePatches(v cue.Value) ([]catalog.PatchHint, error) {
	listVal := v.LookupPath(cue.ParsePath("patches"))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []catalog.PatchHint
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		field := fmt.Sprintf("patches[%d]", i)

		path, err := requiredString(item, "path", field)
		if err != nil {
			return nil, err
		}
		kind, err := requiredString(item, "kind", field)
		if err != nil {
			return nil, err
		}
		switch catalog.PatchKind(kind) {
		case catalog.PatchNestedObject, catalog.PatchArray, catalog.PatchScalar:
		default:
			return nil, &CompileError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("unknown patch kind %q", kind),
				Pos:     item.LookupPath(cue.ParsePath("kind")).Pos(),
			}
		}
		matchKey, err := optionalString(item, "match_key")
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.PatchHint{Path: path, Kind: catalog.PatchKind(kind), MatchKey: matchKey})
	}
	return out, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredString(v cue.Value, field, parent string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   parent + "." + field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
