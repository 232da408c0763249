package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/ir"
)

// createTestStore opens a store in a temp dir with the test map functions
// registered and a small reduce chunk so rereduce is always exercised.
func createTestStore(t *testing.T) *Local {
	t.Helper()
	reg := ir.NewRegistry()
	require.NoError(t, reg.Register(ir.NativeMap("by_type", func(doc ir.Object, emit ir.Emit) error {
		if typ, ok := doc.Str("type"); ok {
			emit(ir.String(typ), doc["n"])
		}
		return nil
	})))
	require.NoError(t, reg.Register(ir.NativeMap("by_tag", func(doc ir.Object, emit ir.Emit) error {
		tags, _ := doc["tags"].(ir.Array)
		for _, tag := range tags {
			emit(tag, ir.Number(1))
		}
		return nil
	})))
	require.NoError(t, reg.Register(ir.NativeMap("picky", func(doc ir.Object, emit ir.Emit) error {
		if doc.Flag("poison") {
			panic("poisoned document")
		}
		emit(doc["_id"], nil)
		return nil
	})))

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithEngine(engine.New(reg, engine.WithChunkSize(2))))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// putDesign stores a design document with the given subviews.
func putDesign(t *testing.T, s *Local, name string, views map[string]ir.CompiledView) {
	t.Helper()
	doc := &ir.DesignDoc{ID: ir.DesignID(name), Language: "native", Views: views}
	_, err := s.Put(context.Background(), doc.ToObject())
	require.NoError(t, err)
}

// putDoc stores a new document and returns its revision.
func putDoc(t *testing.T, s *Local, id string, fields ir.Object) string {
	t.Helper()
	doc := fields.Clone()
	doc["_id"] = ir.String(id)
	rev, err := s.Put(context.Background(), doc)
	require.NoError(t, err)
	return rev
}

func keysOf(rows []ir.Row) []ir.Value {
	out := make([]ir.Value, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out
}

func idsOf(rows []ir.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}
