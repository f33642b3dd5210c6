package patch

import (
	"regexp"
	"strconv"
	"strings"
)

// Segment is one step of a document path: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path addresses a value inside a document. The empty path is the root.
type Path []Segment

var bareKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Key returns p extended by an object key.
func (p Path) Key(k string) Path {
	return append(clonePath(p), Segment{Key: k})
}

// Index returns p extended by an array index.
func (p Path) Index(i int) Path {
	return append(clonePath(p), Segment{Index: i, IsIndex: true})
}

func clonePath(p Path) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return out
}

// String renders p as "a.b[2].c".
func (p Path) String() string {
	var sb strings.Builder
	for i, s := range p {
		if s.IsIndex {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(s.Index))
			sb.WriteByte(']')
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.Key)
	}
	return sb.String()
}

// HintPath renders the object keys of p joined by dots, ignoring array
// indexes, which is the form patch hints are registered under.
func (p Path) HintPath() string {
	keys := make([]string, 0, len(p))
	for _, s := range p {
		if !s.IsIndex {
			keys = append(keys, s.Key)
		}
	}
	return strings.Join(keys, ".")
}

// SQLite renders p as a SQLite JSON path such as $.a."b c"[2]. ok is false
// when a key cannot be expressed in SQLite path syntax.
func (p Path) SQLite() (path string, ok bool) {
	var sb strings.Builder
	sb.WriteByte('$')
	for _, s := range p {
		if s.IsIndex {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(s.Index))
			sb.WriteByte(']')
			continue
		}
		sb.WriteByte('.')
		switch {
		case bareKeyRe.MatchString(s.Key):
			sb.WriteString(s.Key)
		case s.Key != "" && !strings.ContainsAny(s.Key, `"\`):
			sb.WriteByte('"')
			sb.WriteString(s.Key)
			sb.WriteByte('"')
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// ParsePath parses the dot form used by hints ("author.profile").
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ".")
	p := make(Path, len(parts))
	for i, k := range parts {
		p[i] = Segment{Key: k}
	}
	return p
}
