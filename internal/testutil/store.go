package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/deploy"
	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/store"
)

// OpenStore opens an embedded store in a temp dir that executes native
// views from reg. The store is closed when the test ends.
//
// The reduce chunk size is kept small so rereduce runs even on tiny
// fixtures.
func OpenStore(t testing.TB, reg *ir.Registry) *store.Local {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithEngine(engine.New(reg, engine.WithChunkSize(3))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// DeployViews compiles defs with the native dialect and deploys them,
// failing the test on any error.
func DeployViews(t testing.TB, st store.Store, reg *ir.Registry, defs ...ir.ViewDefinition) {
	t.Helper()
	d := deploy.New(st, compiler.Native{Registry: reg}, deploy.Update)
	for _, res := range d.SetupAll(context.Background(), defs, nil, nil) {
		require.NoError(t, res.Err, "deploy %s", res.View)
	}
}

// PutDocs stores each document as a new revision, failing the test on any
// error. Every document must carry an _id.
func PutDocs(t testing.TB, st store.Store, docs ...ir.Object) {
	t.Helper()
	for _, doc := range docs {
		_, err := st.Put(context.Background(), doc)
		require.NoError(t, err)
	}
}
