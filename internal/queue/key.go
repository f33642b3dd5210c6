package queue

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// RefreshKey identifies one pending recomputation: row PK of entity Entity.
//
// RefreshKey is comparable; two keys are equal iff both fields are equal,
// which is what makes enqueueing idempotent.
type RefreshKey struct {
	Entity string `json:"entity" msgpack:"entity"`
	PK     int64  `json:"pk" msgpack:"pk"`
}

// String renders the key as "entity:pk".
func (k RefreshKey) String() string {
	return k.Entity + ":" + strconv.FormatInt(k.PK, 10)
}

// ParseKey parses the "entity:pk" form produced by String.
func ParseKey(s string) (RefreshKey, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return RefreshKey{}, fmt.Errorf("parse refresh key %q: want entity:pk", s)
	}
	pk, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return RefreshKey{}, fmt.Errorf("parse refresh key %q: %w", s, err)
	}
	return RefreshKey{Entity: s[:i], PK: pk}, nil
}

// Compare orders keys by entity name, then pk.
func Compare(a, b RefreshKey) int {
	if c := cmp.Compare(a.Entity, b.Entity); c != 0 {
		return c
	}
	return cmp.Compare(a.PK, b.PK)
}

// SortKeys sorts keys in place by entity, then pk.
func SortKeys(keys []RefreshKey) {
	slices.SortFunc(keys, Compare)
}
