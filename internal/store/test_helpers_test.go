package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tview/internal/catalog"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntity registers metadata so documents can reference it.
func createTestEntity(t *testing.T, s *Store, name string) *catalog.Entity {
	t.Helper()
	e := &catalog.Entity{
		Name:      name,
		Source:    name + "s",
		KeyColumn: "id",
		Query:     "SELECT id AS pk, json_object('id', id) AS data FROM " + name + "s",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.SaveEntity(context.Background(), s.DB(), e); err != nil {
		t.Fatalf("SaveEntity(%s) failed: %v", name, err)
	}
	return e
}

func testDoc(entity string, pk int64, data string) Document {
	return Document{
		Entity:    entity,
		PK:        pk,
		Data:      []byte(data),
		Hash:      "h-" + data,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
