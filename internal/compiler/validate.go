package compiler

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/tview/internal/catalog"
)

// Validation error codes (E100-E199)
const (
	ErrQueryEmpty        = "E101" // query is required
	ErrInvalidIdentifier = "E102" // name, table, column or savepoint is not an identifier
	ErrUnknownChild      = "E104" // lineage child is undefined
	ErrDuplicateName     = "E105" // entity defined twice
	ErrLineageParent     = "E106" // lineage parent is not the defining entity
	ErrSelfLineage       = "E107" // entity is its own lineage child
	ErrQueryColumns      = "E108" // query does not select pk and data
	ErrInvalidPatchHint  = "E109" // patch path or match key invalid
	ErrDependencyCycle   = "E110" // definitions depend on each other in a loop
	ErrUntracedTable     = "E111" // dependency table cannot be traced to the entity
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Entity  string `json:"entity"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Entity, e.Field, e.Message)
}

var (
	pkColumn   = regexp.MustCompile(`(?i)\bpk\b`)
	dataColumn = regexp.MustCompile(`(?i)\bdata\b`)
)

// Validate checks a set of definitions against each other. Returns all
// errors found (does not fail-fast). known reports entities registered
// outside the set; it may be nil.
func Validate(entities []*catalog.Entity, known func(string) bool) []ValidationError {
	if known == nil {
		known = func(string) bool { return false }
	}
	defined := make(map[string]bool, len(entities))
	var errs []ValidationError
	for _, e := range entities {
		if defined[e.Name] {
			errs = append(errs, ValidationError{
				Entity: e.Name, Field: "name", Code: ErrDuplicateName,
				Message: "entity is defined more than once",
			})
		}
		defined[e.Name] = true
	}
	exists := func(name string) bool { return defined[name] || known(name) }

	for _, e := range entities {
		errs = append(errs, validateEntity(e, exists)...)
	}
	if len(errs) == 0 {
		if _, err := RegistrationOrder(entities); err != nil {
			cyc := err.(*CycleError)
			errs = append(errs, ValidationError{
				Entity: cyc.Path[0], Field: "depends_on", Code: ErrDependencyCycle,
				Message: err.Error(),
			})
		}
	}
	return errs
}

func validateEntity(e *catalog.Entity, exists func(string) bool) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Entity: e.Name, Field: field, Code: code,
			Message: fmt.Sprintf(format, args...),
		})
	}
	ident := func(field, value string) {
		if err := catalog.ValidateIdentifier(value); err != nil {
			add(field, ErrInvalidIdentifier, "%q: %v", value, err)
		}
	}

	ident("name", e.Name)
	if e.Source != "" {
		ident("source", e.Source)
	}
	if e.KeyColumn != "" {
		ident("key", e.KeyColumn)
	}

	if strings.TrimSpace(e.Query) == "" {
		add("query", ErrQueryEmpty, "query is required and must be non-empty")
	} else if !pkColumn.MatchString(e.Query) || !dataColumn.MatchString(e.Query) {
		add("query", ErrQueryColumns, "query must select a pk and a data column")
	}

	for i, d := range e.Dependencies {
		field := fmt.Sprintf("depends_on[%d]", i)
		ident(field, d)
		switch {
		case d == e.Name:
			add(field, ErrDependencyCycle, "entity cannot depend on itself")
		case d == e.Source || exists(d):
		case !slices.ContainsFunc(e.Lineage, func(l catalog.LineagePath) bool { return l.Child == d }):
			// A plain table is only captured through a lineage path.
			add(field, ErrUntracedTable, "table %q has no lineage path to %q", d, e.Name)
		}
	}

	for i, l := range e.Lineage {
		field := fmt.Sprintf("lineage[%d]", i)
		ident(field+".child", l.Child)
		ident(field+".fk", l.FKColumn)
		switch {
		case l.Parent != e.Name:
			add(field+".parent", ErrLineageParent, "parent %q must be %q", l.Parent, e.Name)
		case l.Child == e.Name:
			add(field+".child", ErrSelfLineage, "entity cannot be its own lineage child")
		case exists(l.Child):
		case !slices.Contains(e.Dependencies, l.Child):
			add(field+".child", ErrUnknownChild, "lineage child %q is not defined", l.Child)
		case l.EffectiveHolder() != catalog.HolderParent:
			add(field+".holder", ErrUntracedTable, "lineage to table %q must be held by the parent document", l.Child)
		}
	}

	for i, h := range e.Patches {
		field := fmt.Sprintf("patches[%d]", i)
		if err := catalog.ValidatePath(h.Path); err != nil {
			add(field+".path", ErrInvalidPatchHint, "%q: %v", h.Path, err)
		}
		if h.MatchKey != "" {
			if err := catalog.ValidateIdentifier(h.MatchKey); err != nil {
				add(field+".match_key", ErrInvalidPatchHint, "%q: %v", h.MatchKey, err)
			}
		}
	}
	return errs
}
