package querysql

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
)

var target = View{Design: "design:humanid", Name: "by_id"}

const orderBy = " ORDER BY key COLLATE VIEWKEY ASC, doc_id ASC COLLATE BINARY, emit ASC"

func TestCompileAll(t *testing.T) {
	c := NewSQLCompiler()
	sql, params, err := c.Compile(target, queryir.Query{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT doc_id, key, value FROM view_rows WHERE design = ? AND view = ?"+orderBy, sql)
	assert.Equal(t, []any{"design:humanid", "by_id"}, params)
}

func TestCompileRange(t *testing.T) {
	tests := []struct {
		name       string
		query      queryir.Query
		wantWhere  string
		wantParams []any
	}{
		{
			name:       "inclusive",
			query:      queryir.ForRange(ir.String("a"), ir.String("b")),
			wantWhere:  "design = ? AND view = ? AND key >= ? AND key <= ?",
			wantParams: []any{"design:humanid", "by_id", `"a"`, `"b"`},
		},
		{
			name:       "prefix is exclusive",
			query:      queryir.ForPrefix(ir.Array{ir.String("acc")}),
			wantWhere:  "design = ? AND view = ? AND key >= ? AND key < ?",
			wantParams: []any{"design:humanid", "by_id", `["acc"]`, "[\"acc\uffff\uffff\uffff\uffff\"]"},
		},
		{
			name:       "open start",
			query:      queryir.Query{Select: queryir.Range{End: ir.Number(10)}},
			wantWhere:  "design = ? AND view = ? AND key <= ?",
			wantParams: []any{"design:humanid", "by_id", "10"},
		},
		{
			name:       "start doc id",
			query:      queryir.Query{Select: queryir.Range{Start: ir.Number(1), StartDocID: "d2"}},
			wantWhere:  "design = ? AND view = ? AND (key > ? OR (key = ? AND doc_id >= ?))",
			wantParams: []any{"design:humanid", "by_id", "1", "1", "d2"},
		},
	}

	c := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := c.Compile(target, tt.query)
			require.NoError(t, err)
			assert.Equal(t, "SELECT doc_id, key, value FROM view_rows WHERE "+tt.wantWhere+orderBy, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompilePaging(t *testing.T) {
	c := NewSQLCompiler()

	sql, params, err := c.Compile(target, queryir.Query{}.Page(1, 5))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, " LIMIT ? OFFSET ?"))
	assert.Equal(t, []any{"design:humanid", "by_id", 5, 1}, params)

	sql, params, err = c.Compile(target, queryir.Query{Skip: 3})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, " LIMIT -1 OFFSET ?"))
	assert.Equal(t, 3, params[len(params)-1])

	scan, _, err := c.CompileScan(target, queryir.Query{}.Page(1, 5))
	require.NoError(t, err)
	assert.NotContains(t, scan, "LIMIT")
}

func TestCompileKeys(t *testing.T) {
	c := NewSQLCompiler()
	sql, params, err := c.Compile(target, queryir.ForKeys(ir.String("id1"), ir.String("id2")))
	require.NoError(t, err)

	assert.Equal(t,
		"WITH wanted(ord, k) AS (VALUES (?, ?), (?, ?)) "+
			"SELECT r.doc_id, r.key, r.value FROM wanted "+
			"JOIN view_rows r ON r.design = ? AND r.view = ? AND r.key = wanted.k COLLATE VIEWKEY "+
			"ORDER BY wanted.ord ASC, r.key COLLATE VIEWKEY ASC, r.doc_id ASC COLLATE BINARY, r.emit ASC",
		sql)
	assert.Equal(t, []any{0, `"id1"`, 1, `"id2"`, "design:humanid", "by_id"}, params)
}

func TestCompileEmptyKeys(t *testing.T) {
	c := NewSQLCompiler()
	sql, params, err := c.Compile(target, queryir.ForKeys())
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE 0")
	assert.Empty(t, params)
}

func TestCompileAlwaysOrders(t *testing.T) {
	c := NewSQLCompiler()
	queries := []queryir.Query{
		{},
		queryir.ForKeys(ir.Number(1)),
		queryir.ForKeys(),
		queryir.ForPrefix(ir.String("x")),
	}
	for _, q := range queries {
		sql, _, err := c.Compile(target, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY")
	}
}

func TestCompileErrors(t *testing.T) {
	c := NewSQLCompiler()

	_, _, err := c.Compile(View{Design: "design:x"}, queryir.Query{})
	assert.Error(t, err)

	_, _, err = c.Compile(target, queryir.ForKeys(ir.Object{"bad": ir.Number(math.NaN())}))
	assert.Error(t, err)
}

func TestKeyParamSortsObjectKeys(t *testing.T) {
	p, err := KeyParam(ir.Object{"b": ir.Number(1), "a": ir.Array{ir.Null{}, ir.Bool(true)}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[null,true],"b":1}`, p)
}

