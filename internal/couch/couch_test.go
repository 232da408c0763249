package couch

import (
	"context"
	"errors"
	"testing"

	"github.com/fjl/go-couchdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/chore"
	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/deploy"
	"github.com/roach88/viewkit/internal/humanid"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/ledger"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
	"github.com/roach88/viewkit/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *testutil.FakeCouch) {
	t.Helper()
	fake := testutil.NewFakeCouch(t)
	s, err := Open(fake.URL, testutil.FakeCouchDB)
	require.NoError(t, err)
	return s, fake
}

func TestOpen_Validates(t *testing.T) {
	_, err := Open("http://localhost:5984", "")
	assert.Error(t, err)
	_, err = Open("ftp://localhost", "db")
	assert.Error(t, err)
	_, err = Open("http://user:pw@localhost:5984/", "db")
	assert.NoError(t, err)
}

func TestIDTranslation(t *testing.T) {
	assert.Equal(t, "_design/ledger", toCouchID("design:ledger"))
	assert.Equal(t, "design:ledger", fromCouchID("_design/ledger"))
	assert.Equal(t, "plain", toCouchID("plain"))
	assert.Equal(t, "plain", fromCouchID("plain"))
}

func TestPutGet(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	rev, err := s.Put(ctx, ir.Object{"_id": ir.String("a1"), "n": ir.Number(1)})
	require.NoError(t, err)
	assert.Equal(t, "1-abc", rev)
	stored, ok := fake.Doc("a1")
	require.True(t, ok)
	assert.Equal(t, float64(1), stored["n"])

	doc, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, ir.Number(1), doc["n"])
	assert.Equal(t, ir.String(rev), doc["_rev"])

	_, err = s.Put(ctx, ir.Object{"_id": ir.String("a1"), "n": ir.Number(2)})
	assert.True(t, store.IsConflict(err))

	rev2, err := s.Put(ctx, ir.Object{"_id": ir.String("a1"), "_rev": ir.String(rev), "n": ir.Number(2)})
	require.NoError(t, err)
	assert.NotEqual(t, rev, rev2)

	_, err = s.Put(ctx, ir.Object{"n": ir.Number(1)})
	assert.Equal(t, store.ReasonBadRequest, store.ReasonOf(err))
}

func TestGet_Errors(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "nope")
	assert.Equal(t, store.ReasonMissing, store.ReasonOf(err))

	rev, err := s.Put(ctx, ir.Object{"_id": ir.String("gone")})
	require.NoError(t, err)
	_, err = s.Put(ctx, ir.Object{"_id": ir.String("gone"), "_rev": ir.String(rev), "_deleted": ir.Bool(true)})
	require.NoError(t, err)

	_, err = s.Get(ctx, "gone")
	assert.Equal(t, store.ReasonDeleted, store.ReasonOf(err))
	assert.True(t, store.IsNotFound(err))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(canceled, "gone")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDesignDocuments(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	doc := &ir.DesignDoc{
		ID:       "design:things",
		Language: "javascript",
		Views:    map[string]ir.CompiledView{"by_type": {Map: "function (doc) { emit(doc.type, 1); }"}},
	}
	_, err := s.Put(ctx, doc.ToObject())
	require.NoError(t, err)
	stored, ok := fake.Doc("_design/things")
	require.True(t, ok)
	assert.Equal(t, "_design/things", stored["_id"])

	got, err := s.Get(ctx, "design:things")
	require.NoError(t, err)
	assert.Equal(t, ir.String("design:things"), got["_id"])
	dd, err := ir.DesignDocFromObject(got)
	require.NoError(t, err)
	assert.Equal(t, "function (doc) { emit(doc.type, 1); }", dd.Views["by_type"].Map)
}

func TestSetup_DeploysBuiltinScripts(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	var builtin []ir.ViewDefinition
	builtin = append(builtin, ledger.ScriptViews()...)
	builtin = append(builtin, chore.ScriptViews()...)
	builtin = append(builtin, humanid.ScriptViews()...)

	d := deploy.New(s, compiler.JavaScript{}, deploy.Update)
	results := d.SetupAll(ctx, builtin, nil, nil)
	require.Len(t, results, 4)
	assert.Empty(t, deploy.Failed(results))

	assert.ElementsMatch(t, []string{
		"_design/ledger",
		"_design/chores",
		"_design/humanid_by_id",
		"_design/humanid_prefixes",
	}, fake.IDs())

	stored, ok := fake.Doc("_design/ledger")
	require.True(t, ok)
	assert.Equal(t, "javascript", stored["language"])
	views, _ := stored["views"].(map[string]any)
	require.Contains(t, views, ledger.BalanceView)
	balance, _ := views[ledger.BalanceView].(map[string]any)
	assert.Regexp(t, `^function`, balance["map"])
	assert.Regexp(t, `^function\s*\(keys, values, rereduce\)`, balance["reduce"])

	stored, ok = fake.Doc("_design/humanid_prefixes")
	require.True(t, ok)
	views, _ = stored["views"].(map[string]any)
	count, _ := views[humanid.PrefixCount].(map[string]any)
	assert.Equal(t, "_count", count["reduce"])

	// A second setup finds every design document unchanged.
	again := d.SetupAll(ctx, builtin, nil, nil)
	assert.Empty(t, deploy.Failed(again))
}

func TestQueryView(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	_, err := s.Put(ctx, ir.Object{"_id": ir.String("design:things")})
	require.NoError(t, err)

	rows, err := s.QueryView(ctx, "design:things", "by_type",
		queryir.Query{Select: queryir.Range{Start: ir.String("a"), End: ir.String("b"), ExclusiveEnd: true, StartDocID: "design:x"}}.
			Unreduced().Page(1, 10))
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{
		{ID: "a", Key: ir.String("fruit"), Value: ir.Number(1)},
		{ID: "design:x", Key: ir.Array{ir.String("veg"), ir.Number(2)}, Value: ir.Null{}},
	}, rows)

	params := fake.LastQuery()
	assert.Equal(t, `"a"`, params.Get("startkey"))
	assert.Equal(t, `"b"`, params.Get("endkey"))
	assert.Equal(t, "false", params.Get("inclusive_end"))
	assert.Equal(t, "_design/x", params.Get("startkey_docid"))
	assert.Equal(t, "false", params.Get("reduce"))
	assert.Equal(t, "1", params.Get("skip"))
	assert.Equal(t, "10", params.Get("limit"))

	_, err = s.QueryView(ctx, "design:things", "by_type",
		queryir.ForKeys(ir.String("x"), ir.Array{ir.Number(1)}).Grouped())
	require.NoError(t, err)
	params = fake.LastQuery()
	assert.JSONEq(t, `["x", [1]]`, params.Get("keys"))
	assert.Equal(t, "true", params.Get("group"))

	_, err = s.QueryView(ctx, "design:things", "by_type", queryir.Query{}.AtGroupLevel(2))
	require.NoError(t, err)
	assert.Equal(t, "2", fake.LastQuery().Get("group_level"))
}

func TestQueryView_Missing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.QueryView(ctx, "design:absent", "by_type", queryir.Query{})
	assert.True(t, store.IsViewMissing(err))

	_, err = s.Put(ctx, ir.Object{"_id": ir.String("design:things")})
	require.NoError(t, err)
	_, err = s.QueryView(ctx, "design:things", "other", queryir.Query{})
	assert.Equal(t, store.ReasonMissingNamedView, store.ReasonOf(err))
	assert.True(t, store.IsViewMissing(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		code   string
		reason string
		want   store.Reason
	}{
		{404, "not_found", "missing", store.ReasonMissing},
		{404, "not_found", "deleted", store.ReasonDeleted},
		{404, "not_found", "missing_named_view", store.ReasonMissingNamedView},
		{404, "not_found", "Database does not exist.", store.ReasonMissing},
		{409, "conflict", "Document update conflict.", store.ReasonConflict},
		{400, "bad_request", "invalid UTF-8 JSON", store.ReasonBadRequest},
		{401, "unauthorized", "Name or password is incorrect.", store.Reason("unauthorized")},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			ce := &couchdb.Error{StatusCode: tt.status, ErrorCode: tt.code, Reason: tt.reason}
			assert.Equal(t, tt.want, store.ReasonOf(classify(ce, "x")))
		})
	}

	assert.Equal(t, store.Reason(""), store.ReasonOf(classify(&couchdb.Error{StatusCode: 500}, "x")))

	s, _ := newTestStore(t)
	err := s.classify(errors.New("connection refused"), "x")
	assert.Equal(t, store.Reason(""), store.ReasonOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}
