package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
)

// Collation is the SQLite collation name the embedded store registers for
// view keys. It orders canonical JSON key text by store collation.
const Collation = "VIEWKEY"

// View identifies one subview in the index table.
type View struct {
	Design string
	Name   string
}

// SQLCompiler compiles view queries to parameterized SQL over the
// embedded index table.
//
// CRITICAL: ALL queries include ORDER BY for deterministic results.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct {
	// Table is the index table name.
	Table string
}

// NewSQLCompiler creates a compiler for the default index table.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Table: "view_rows"}
}

// Compile converts a query into SQL returning (doc_id, key, value) rows in
// output order, with Skip and Limit applied.
// Use it for unreduced queries only; reduction happens over CompileScan.
func (c *SQLCompiler) Compile(v View, q queryir.Query) (string, []any, error) {
	sql, params, err := c.CompileScan(v, q)
	if err != nil {
		return "", nil, err
	}

	switch {
	case q.Limit > 0:
		sql += " LIMIT ? OFFSET ?"
		params = append(params, q.Limit, q.Skip)
	case q.Skip > 0:
		sql += " LIMIT -1 OFFSET ?"
		params = append(params, q.Skip)
	}
	return sql, params, nil
}

// CompileScan converts a query into SQL returning every selected
// (doc_id, key, value) row in key order, ignoring Skip and Limit.
//
// MANDATORY: Every query includes ORDER BY with a document id tiebreaker.
func (c *SQLCompiler) CompileScan(v View, q queryir.Query) (string, []any, error) {
	if v.Design == "" || v.Name == "" {
		return "", nil, fmt.Errorf("compile: view target requires design and name")
	}

	switch sel := q.Selection().(type) {
	case queryir.All:
		return c.compileRange(v, queryir.Range{})
	case queryir.Range:
		return c.compileRange(v, sel)
	case queryir.Keys:
		return c.compileKeys(v, sel)
	default:
		return "", nil, fmt.Errorf("unsupported selector type: %T", sel)
	}
}

// compileRange compiles a startkey/endkey selection.
func (c *SQLCompiler) compileRange(v View, r queryir.Range) (string, []any, error) {
	where := []string{"design = ?", "view = ?"}
	params := []any{v.Design, v.Name}

	if r.Start != nil {
		start, err := KeyParam(r.Start)
		if err != nil {
			return "", nil, fmt.Errorf("startkey: %w", err)
		}
		if r.StartDocID != "" {
			where = append(where, "(key > ? OR (key = ? AND doc_id >= ?))")
			params = append(params, start, start, r.StartDocID)
		} else {
			where = append(where, "key >= ?")
			params = append(params, start)
		}
	}

	if r.End != nil {
		end, err := KeyParam(r.End)
		if err != nil {
			return "", nil, fmt.Errorf("endkey: %w", err)
		}
		if r.ExclusiveEnd {
			where = append(where, "key < ?")
		} else {
			where = append(where, "key <= ?")
		}
		params = append(params, end)
	}

	sql := fmt.Sprintf("SELECT doc_id, key, value FROM %s WHERE %s ORDER BY %s",
		c.Table,
		strings.Join(where, " AND "),
		stableOrderKey(""))
	return sql, params, nil
}

// compileKeys compiles an explicit key list. Rows follow request order;
// keys without rows produce nothing.
func (c *SQLCompiler) compileKeys(v View, k queryir.Keys) (string, []any, error) {
	if len(k.Keys) == 0 {
		sql := fmt.Sprintf("SELECT doc_id, key, value FROM %s WHERE 0 ORDER BY %s",
			c.Table, stableOrderKey(""))
		return sql, nil, nil
	}

	values := make([]string, len(k.Keys))
	params := make([]any, 0, 2*len(k.Keys)+2)
	for i, key := range k.Keys {
		p, err := KeyParam(key)
		if err != nil {
			return "", nil, fmt.Errorf("keys[%d]: %w", i, err)
		}
		values[i] = "(?, ?)"
		params = append(params, i, p)
	}
	params = append(params, v.Design, v.Name)

	sql := fmt.Sprintf("WITH wanted(ord, k) AS (VALUES %s) "+
		"SELECT r.doc_id, r.key, r.value FROM wanted "+
		"JOIN %s r ON r.design = ? AND r.view = ? AND r.key = wanted.k COLLATE %s "+
		"ORDER BY wanted.ord ASC, %s",
		strings.Join(values, ", "),
		c.Table,
		Collation,
		stableOrderKey("r."))
	return sql, params, nil
}

// stableOrderKey returns the ORDER BY terms for index rows.
// Keys use store collation; ties fall back to document id, then emission
// order within a document.
func stableOrderKey(prefix string) string {
	return fmt.Sprintf("%[1]skey COLLATE %[2]s ASC, %[1]sdoc_id ASC COLLATE BINARY, %[1]semit ASC",
		prefix, Collation)
}

// KeyParam encodes a key as the JSON text stored in the index. Strings are
// kept as written (no normalization) so equality matches emitted keys.
// CRITICAL: keys are NEVER interpolated - always passed as parameters.
func KeyParam(key ir.Value) (string, error) {
	b, err := ir.Marshal(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
