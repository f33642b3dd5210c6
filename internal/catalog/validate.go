package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaxIdentifierLength matches the identifier limit of the host catalogs.
const MaxIdentifierLength = 63

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ErrorKind classifies registration-time validation failures.
type ErrorKind string

const (
	KindInvalidName    ErrorKind = "invalid_name"
	KindInvalidLineage ErrorKind = "invalid_lineage"
)

// ValidationError reports an entity definition that cannot be registered.
type ValidationError struct {
	Kind   ErrorKind
	Entity string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("entity %q: %s: %v", e.Entity, e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsInvalidName reports whether err is an identifier validation failure.
func IsInvalidName(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindInvalidName
}

// IsInvalidLineage reports whether err is a lineage validation failure.
func IsInvalidLineage(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindInvalidLineage
}

// Identifier is the rule set applied to every user-supplied name.
var Identifier = []validation.Rule{
	validation.Required,
	validation.Length(1, MaxIdentifierLength),
	validation.Match(identifierRe).Error("must be a lowercase identifier"),
}

// ValidateIdentifier checks a single name against the identifier rules.
func ValidateIdentifier(name string) error {
	return validation.Validate(name, Identifier...)
}

// ValidatePath checks a dot-separated document path such as "author.profile".
func ValidatePath(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	for _, seg := range strings.Split(path, ".") {
		if err := ValidateIdentifier(seg); err != nil {
			return fmt.Errorf("segment %q: %w", seg, err)
		}
	}
	return nil
}

// Validate checks names, lineage shape and patch hints. It does not check
// that referenced entities exist; the dependency graph does that.
func (e *Entity) Validate() error {
	err := validation.ValidateStruct(e,
		validation.Field(&e.Name, Identifier...),
		validation.Field(&e.Source, validation.When(e.Source != "", Identifier...)),
		validation.Field(&e.KeyColumn, validation.When(e.KeyColumn != "", Identifier...)),
		validation.Field(&e.Query, validation.Required),
		validation.Field(&e.Dependencies, validation.Each(Identifier...)),
	)
	if err != nil {
		return &ValidationError{Kind: KindInvalidName, Entity: e.Name, Err: err}
	}

	for i, h := range e.Patches {
		if err := h.Validate(); err != nil {
			return &ValidationError{Kind: KindInvalidName, Entity: e.Name,
				Err: fmt.Errorf("patches[%d]: %w", i, err)}
		}
	}

	for i, l := range e.Lineage {
		if err := l.Validate(); err != nil {
			return &ValidationError{Kind: KindInvalidLineage, Entity: e.Name,
				Err: fmt.Errorf("lineage[%d]: %w", i, err)}
		}
		if l.Parent != e.Name {
			return &ValidationError{Kind: KindInvalidLineage, Entity: e.Name,
				Err: fmt.Errorf("lineage[%d]: parent %q must be the registering entity", i, l.Parent)}
		}
		if l.Child == e.Name {
			return &ValidationError{Kind: KindInvalidLineage, Entity: e.Name,
				Err: fmt.Errorf("lineage[%d]: entity cannot be its own child", i)}
		}
	}
	return nil
}

// Validate implements validation.Validatable.
func (l LineagePath) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Child, Identifier...),
		validation.Field(&l.FKColumn, Identifier...),
		validation.Field(&l.Parent, Identifier...),
		validation.Field(&l.Holder, validation.In(Holder(""), HolderParent, HolderChild)),
	)
}

// Validate implements validation.Validatable.
func (h PatchHint) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Path, validation.Required, validation.By(func(v any) error {
			return ValidatePath(v.(string))
		})),
		validation.Field(&h.Kind, validation.Required,
			validation.In(PatchNestedObject, PatchArray, PatchScalar)),
		validation.Field(&h.MatchKey, validation.When(h.MatchKey != "", Identifier...)),
	)
}
