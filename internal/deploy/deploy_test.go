package deploy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
)

func openStore(t *testing.T, reg *ir.Registry) *store.Local {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithEngine(engine.New(reg)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func emitType(doc ir.Object, emit ir.Emit) error {
	if typ, ok := doc.Str("type"); ok {
		emit(ir.String(typ), ir.Number(1))
	}
	return nil
}

func emitID(doc ir.Object, emit ir.Emit) error {
	emit(doc["_id"], nil)
	return nil
}

func compileView(t *testing.T, reg *ir.Registry, name string, mapFn ir.MapFunc) *ir.DesignDoc {
	t.Helper()
	count := ir.Builtin(ir.ReduceCount)
	doc, err := compiler.Compile(ir.ViewDefinition{
		Name:   name,
		Map:    ir.NativeMap("test."+name+".map", mapFn),
		Reduce: &count,
	}, compiler.Native{Registry: reg})
	require.NoError(t, err)
	return doc
}

func TestDeploy_InsertsWhenAbsent(t *testing.T) {
	reg := ir.NewRegistry()
	st := openStore(t, reg)
	ctx := context.Background()

	doc := compileView(t, reg, "types", emitType)
	out, err := Deploy(ctx, st, doc, Fail)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Rev)

	stored, err := st.Get(ctx, "design:types")
	require.NoError(t, err)
	assert.Equal(t, ir.String(out.Rev), stored["_rev"])
}

func TestDeploy_Strategies(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		strategy   Strategy
		wantMap    string
		wantErr    bool
		wantNewRev bool
	}{
		{Update, "native:test.types.v2", false, true},
		{UseOld, "native:test.types.map", false, false},
		{Fail, "native:test.types.map", true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			reg := ir.NewRegistry()
			st := openStore(t, reg)

			first, err := Deploy(ctx, st, compileView(t, reg, "types", emitType), Update)
			require.NoError(t, err)

			count := ir.Builtin(ir.ReduceCount)
			changed, err := compiler.Compile(ir.ViewDefinition{
				Name:   "types",
				Map:    ir.NativeMap("test.types.v2", emitID),
				Reduce: &count,
			}, compiler.Native{Registry: reg})
			require.NoError(t, err)

			out, err := Deploy(ctx, st, changed, tt.strategy)
			if tt.wantErr {
				var ce *ConflictError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, first.Rev, ce.ExistingRev)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantNewRev, out.Rev != first.Rev)
			}

			raw, err := st.Get(ctx, "design:types")
			require.NoError(t, err)
			stored, err := ir.DesignDocFromObject(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMap, stored.Views["default"].Map)
		})
	}
}

func TestDeploy_UpdateUnchangedSkipsWrite(t *testing.T) {
	reg := ir.NewRegistry()
	st := openStore(t, reg)
	ctx := context.Background()

	first, err := Deploy(ctx, st, compileView(t, reg, "types", emitType), Update)
	require.NoError(t, err)
	second, err := Deploy(ctx, st, compileView(t, reg, "types", emitType), Update)
	require.NoError(t, err)
	assert.Equal(t, first.Rev, second.Rev)
}

func TestDeploy_RecreatesDeletedDesign(t *testing.T) {
	reg := ir.NewRegistry()
	st := openStore(t, reg)
	ctx := context.Background()

	first, err := Deploy(ctx, st, compileView(t, reg, "types", emitType), Update)
	require.NoError(t, err)
	_, err = st.Delete(ctx, first.ID, first.Rev)
	require.NoError(t, err)

	_, err = Deploy(ctx, st, compileView(t, reg, "types", emitType), Fail)
	require.NoError(t, err)
	_, err = st.QueryView(ctx, first.ID, "default", queryir.Query{})
	assert.NoError(t, err)
}

// racyStore lets another writer update the design document between the
// deployer's read and its write, once.
type racyStore struct {
	*store.Local
	raced bool
}

func (r *racyStore) Put(ctx context.Context, doc ir.Object) (string, error) {
	if !r.raced {
		r.raced = true
		id, _ := doc.Str("_id")
		current, err := r.Local.Get(ctx, id)
		if err == nil {
			current["touched"] = ir.Bool(true)
			if _, err := r.Local.Put(ctx, current); err != nil {
				return "", err
			}
		}
	}
	return r.Local.Put(ctx, doc)
}

func TestDeploy_RetriesStaleRevisionOnce(t *testing.T) {
	reg := ir.NewRegistry()
	local := openStore(t, reg)
	ctx := context.Background()

	_, err := Deploy(ctx, local, compileView(t, reg, "types", emitType), Update)
	require.NoError(t, err)

	st := &racyStore{Local: local}
	out, err := Deploy(ctx, st, compileView(t, reg, "types", emitID), Update)
	require.NoError(t, err)
	assert.True(t, st.raced)

	gen, err := ir.RevisionGeneration(out.Rev)
	require.NoError(t, err)
	assert.Equal(t, 3, gen)
}

func TestSetupAll(t *testing.T) {
	reg := ir.NewRegistry()
	st := openStore(t, reg)
	ctx := context.Background()

	// Definitions compile concurrently, so symbols shared between them are
	// registered up front.
	require.NoError(t, reg.Register(ir.NativeMap("setup.ids", emitID)))

	count := ir.Builtin(ir.ReduceCount)
	builtin := []ir.ViewDefinition{
		{Name: "ids", Map: ir.NativeMap("setup.ids", emitID)},
	}
	project := []ir.ViewDefinition{
		{Name: "types", Map: ir.NativeMap("setup.types", emitType), Reduce: &count},
		{Name: "broken", Map: ir.SymbolRef("setup.unregistered")},
		{Name: "clash", Map: ir.SymbolRef("setup.ids"), Reduces: map[string]ir.Function{"clash": count}},
	}
	migrations := []ir.ViewDefinition{
		{Name: "m1", Map: ir.SymbolRef("setup.ids"), Reduce: &count},
	}

	d := New(st, compiler.Native{Registry: reg}, Update)
	results := d.SetupAll(ctx, builtin, project, migrations)
	require.Len(t, results, 5)

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.View
	}
	assert.Equal(t, []string{"ids", "types", "broken", "clash", "m1"}, names)
	assert.Equal(t, SourceBuiltin, results[0].Source)
	assert.Equal(t, SourceMigration, results[4].Source)

	failed := Failed(results)
	require.Len(t, failed, 2)
	var te *compiler.TransformError
	assert.ErrorAs(t, failed[0].Err, &te)
	var conflict *compiler.ConflictingReduceError
	assert.ErrorAs(t, failed[1].Err, &conflict)

	for _, id := range []string{"design:ids", "design:types", "design:m1"} {
		_, err := st.Get(ctx, id)
		assert.NoError(t, err, id)
	}
	_, err := st.Get(ctx, "design:broken")
	assert.True(t, store.IsNotFound(err))
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"update": Update, "use_old": UseOld, "useOld": UseOld, "fail": Fail} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("merge")
	assert.Error(t, err)
}
