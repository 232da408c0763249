package migrate

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/collate"
	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/deploy"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/store"
	"github.com/roach88/viewkit/internal/testutil"
)

func addKind(doc ir.Object, emit ir.Emit) error {
	if _, ok := doc.Str("kind"); ok {
		return nil
	}
	out := doc.Clone()
	out["kind"] = ir.String("item")
	EmitUpdate(emit, out)
	if doc.Flag("dupe") {
		EmitUpdate(emit, out)
	}
	return nil
}

func purge(doc ir.Object, emit ir.Emit) error {
	if doc.Flag("obsolete") {
		EmitDelete(emit, doc)
	}
	return nil
}

// racyStore changes one document behind the runner's back just before the
// runner writes it.
type racyStore struct {
	*store.Local
	target string
	raced  bool
}

func (r *racyStore) Put(ctx context.Context, doc ir.Object) (string, error) {
	if id, _ := doc.Str("_id"); id == r.target && !r.raced {
		r.raced = true
		current, err := r.Local.Get(ctx, id)
		if err != nil {
			return "", err
		}
		current["touched"] = ir.Bool(true)
		if _, err := r.Local.Put(ctx, current); err != nil {
			return "", err
		}
	}
	return r.Local.Put(ctx, doc)
}

type fixture struct {
	local *store.Local
	reg   *ir.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := ir.NewRegistry()
	local := testutil.OpenStore(t, reg)

	var docs []ir.Object
	for i := 1; i <= 7; i++ {
		docs = append(docs, ir.Object{"_id": ir.String(fmt.Sprintf("c%02d", i)), "n": ir.Number(i)})
	}
	docs = append(docs,
		ir.Object{"_id": ir.String("d-dupe"), "dupe": ir.Bool(true)},
		ir.Object{"_id": ir.String("done"), "kind": ir.String("item")},
	)
	testutil.PutDocs(t, local, docs...)
	return &fixture{local: local, reg: reg}
}

func (f *fixture) runner(st store.Store, opts ...Option) *Runner {
	d := deploy.New(st, compiler.Native{Registry: f.reg}, deploy.Update)
	return NewRunner(st, d, append([]Option{WithBatchSize(3)}, opts...)...)
}

func TestApply_ContinuesPastFailuresAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := Define("add_kind", addKind)

	racy := &racyStore{Local: f.local, target: "c03"}
	first, err := f.runner(racy).Apply(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 6, first.Applied)
	assert.Equal(t, []string{"d-dupe"}, first.Rejected)
	require.Len(t, first.Failures, 1)
	assert.Equal(t, "c03", first.Failures[0].DocID)
	assert.True(t, store.IsConflict(first.Failures[0].Err))

	second, err := f.runner(f.local).Apply(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Applied, "only the conflicted document is left")
	assert.Empty(t, second.Failures)

	third, err := f.runner(f.local).Apply(ctx, def)
	require.NoError(t, err)
	assert.Zero(t, third.Applied)
	assert.Equal(t, []string{"d-dupe"}, third.Rejected)

	for i := 1; i <= 7; i++ {
		doc, err := f.local.Get(ctx, fmt.Sprintf("c%02d", i))
		require.NoError(t, err)
		assert.Equal(t, ir.String("item"), doc["kind"])
		assert.Equal(t, ir.Number(i), doc["n"])
	}
	doc, err := f.local.Get(ctx, "c03")
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(true), doc["touched"], "the concurrent write is kept")

	dupe, err := f.local.Get(ctx, "d-dupe")
	require.NoError(t, err)
	assert.NotContains(t, dupe, "kind")
}

func TestApply_BatchSizes(t *testing.T) {
	for _, size := range []int{1, 2, 3, 8, 100} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			f := newFixture(t)
			res, err := f.runner(f.local, WithBatchSize(size)).Apply(context.Background(), Define("add_kind", addKind))
			require.NoError(t, err)
			assert.Equal(t, 7, res.Applied)
			assert.Equal(t, []string{"d-dupe"}, res.Rejected)
		})
	}
}

func TestApply_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.PutDocs(t, f.local,
		ir.Object{"_id": ir.String("old1"), "obsolete": ir.Bool(true)},
		ir.Object{"_id": ir.String("old2"), "obsolete": ir.Bool(true)},
	)

	res, err := f.runner(f.local).Apply(ctx, Define("purge", purge))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)

	_, err = f.local.Get(ctx, "old1")
	assert.Equal(t, store.ReasonDeleted, store.ReasonOf(err))
	_, err = f.local.Get(ctx, "c01")
	assert.NoError(t, err)
}

func TestApply_DeployFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner(f.local).Apply(context.Background(), ir.ViewDefinition{Name: "bad"})
	var verrs compiler.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestApply_Locked(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "migrate.lock")

	held := flock.New(path)
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = f.runner(f.local, WithLockFile(path)).Apply(context.Background(), Define("add_kind", addKind))
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, held.Unlock())
	res, err := f.runner(f.local, WithLockFile(path)).Apply(context.Background(), Define("add_kind", addKind))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Applied)
}

func TestApply_RejectsNonDocumentKeys(t *testing.T) {
	f := newFixture(t)
	byNumber := Define("by_number", func(doc ir.Object, emit ir.Emit) error {
		if n, ok := doc["n"]; ok {
			emit(n, ir.Object{"op": ir.String(OpUpdate), "doc": doc})
		}
		return nil
	})

	res, err := f.runner(f.local, WithBatchSize(2)).Apply(context.Background(), byNumber)
	assert.ErrorIs(t, err, ErrIntentKey)
	require.NotNil(t, res)
	assert.Zero(t, res.Applied)

	doc, err := f.local.Get(context.Background(), "c01")
	require.NoError(t, err)
	assert.NotContains(t, doc, "kind")
}

func TestSuccessor(t *testing.T) {
	assert.Equal(t, ir.String("abc\x00"), successor(ir.String("abc")))
	assert.Positive(t, collate.Compare(successor(ir.String("abc")), ir.String("abc")))
	assert.Negative(t, collate.Compare(successor(ir.String("abc")), ir.String("abc0")))
}
