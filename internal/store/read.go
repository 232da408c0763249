package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/querysql"
)

// Get returns the live document stored under id, with _id and _rev set.
func (l *Local) Get(ctx context.Context, id string) (ir.Object, error) {
	var (
		rev     string
		deleted bool
		body    string
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT rev, deleted, body FROM docs WHERE id = ?`, id,
	).Scan(&rev, &deleted, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Reason: ReasonMissing, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if deleted {
		return nil, &Error{Reason: ReasonDeleted, ID: id}
	}

	doc, err := ir.DecodeObject([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("get %s: decode body: %w", id, err)
	}
	doc["_id"] = ir.String(id)
	doc["_rev"] = ir.String(rev)
	return doc, nil
}

// QueryView runs q against a subview, first folding any documents written
// since the last query into the index.
//
// Reduced queries with keys reduce each requested key on its own, so
// results keep request order even when a key is repeated.
func (l *Local) QueryView(ctx context.Context, design, view string, q queryir.Query) ([]ir.Row, error) {
	start := time.Now()
	defer queryDurations.UpdateDuration(start)
	viewQueries.Inc()

	raw, err := l.Get(ctx, design)
	if err != nil {
		return nil, err
	}
	dd, err := ir.DesignDocFromObject(raw)
	if err != nil {
		return nil, &Error{Reason: ReasonBadRequest, ID: design, Err: err}
	}
	cv, ok := dd.Views[view]
	if !ok {
		return nil, &Error{Reason: ReasonMissingNamedView, ID: design, Err: fmt.Errorf("no view %q", view)}
	}

	prog, err := l.engine.Compile(view, cv)
	if err != nil {
		return nil, err
	}
	if err := queryir.Validate(q, prog.HasReduce()); err != nil {
		return nil, &Error{Reason: ReasonBadRequest, ID: design, Err: err}
	}

	if err := l.refresh(ctx, design, view, cv, prog); err != nil {
		return nil, err
	}

	target := querysql.View{Design: design, Name: view}
	if !queryir.WillReduce(q, prog.HasReduce()) {
		query, params, err := l.compiler.Compile(target, q)
		if err != nil {
			return nil, &Error{Reason: ReasonBadRequest, ID: design, Err: err}
		}
		return l.scanRows(ctx, query, params)
	}

	var reduced []ir.Row
	if keys, ok := q.Select.(queryir.Keys); ok {
		for _, k := range keys.Keys {
			rows, err := l.reduceSelection(ctx, target, prog, queryir.Range{Start: k, End: k}, q)
			if err != nil {
				return nil, err
			}
			reduced = append(reduced, rows...)
		}
	} else {
		reduced, err = l.reduceSelection(ctx, target, prog, q.Selection(), q)
		if err != nil {
			return nil, err
		}
	}
	return page(reduced, q.Skip, q.Limit), nil
}

func (l *Local) reduceSelection(ctx context.Context, target querysql.View, prog *engine.Program, sel queryir.Selector, q queryir.Query) ([]ir.Row, error) {
	query, params, err := l.compiler.CompileScan(target, queryir.Query{Select: sel})
	if err != nil {
		return nil, &Error{Reason: ReasonBadRequest, ID: target.Design, Err: err}
	}
	rows, err := l.scanRows(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return l.engine.Reduce(prog, rows, q.Group, q.GroupLevel)
}

func (l *Local) scanRows(ctx context.Context, query string, params []any) ([]ir.Row, error) {
	rows, err := l.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query view rows: %w", err)
	}
	defer rows.Close()

	out := []ir.Row{}
	for rows.Next() {
		var docID, key, value string
		if err := rows.Scan(&docID, &key, &value); err != nil {
			return nil, fmt.Errorf("scan view row: %w", err)
		}
		k, err := ir.Decode([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("decode key of %s: %w", docID, err)
		}
		v, err := ir.Decode([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("decode value of %s: %w", docID, err)
		}
		out = append(out, ir.Row{ID: docID, Key: k, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate view rows: %w", err)
	}
	return out, nil
}

// page applies skip and limit to reduced rows. limit 0 means unlimited.
func page(rows []ir.Row, skip, limit int) []ir.Row {
	if skip >= len(rows) {
		return []ir.Row{}
	}
	rows = rows[skip:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
