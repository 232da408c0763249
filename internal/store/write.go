package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/viewkit/internal/ir"
)

// Put writes doc and returns its new revision.
//
// doc must carry a string _id. A document with _deleted set
// is stored as a tombstone. The presented _rev must equal the current
// revision; a new document (or one recreated over a tombstone) may omit it.
//
// The body is stored as JSON without the underscore fields.
func (l *Local) Put(ctx context.Context, doc ir.Object) (string, error) {
	id, ok := doc.Str("_id")
	if !ok || id == "" {
		return "", &Error{Reason: ReasonBadRequest, Err: errors.New("document has no _id")}
	}
	rev, _ := doc.Str("_rev")
	deleted := doc.Flag("_deleted")

	body := bodyOf(doc)
	bodyJSON, err := ir.Marshal(body)
	if err != nil {
		return "", &Error{Reason: ReasonBadRequest, ID: id, Err: err}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("put %s: begin: %w", id, err)
	}
	defer tx.Rollback()

	var (
		current    string
		curDeleted bool
	)
	err = tx.QueryRowContext(ctx, `SELECT rev, deleted FROM docs WHERE id = ?`, id).Scan(&current, &curDeleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rev != "" {
			docConflicts.Inc()
			return "", &Error{Reason: ReasonConflict, ID: id, Err: fmt.Errorf("document does not exist, got _rev %q", rev)}
		}
	case err != nil:
		return "", fmt.Errorf("put %s: read current: %w", id, err)
	case curDeleted && rev == "":
		// Recreating over a tombstone continues its revision history.
	case rev != current:
		docConflicts.Inc()
		return "", &Error{Reason: ReasonConflict, ID: id, Err: fmt.Errorf("current _rev is %q, got %q", current, rev)}
	}

	newRev, err := ir.NextRevision(current, body)
	if err != nil {
		return "", &Error{Reason: ReasonBadRequest, ID: id, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO docs (id, rev, seq, deleted, body)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM docs), ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			seq = excluded.seq,
			deleted = excluded.deleted,
			body = excluded.body
	`, id, newRev, deleted, string(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("put %s: write: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("put %s: commit: %w", id, err)
	}

	docWrites.Inc()
	l.logger.Debug("document written",
		"id", id,
		"rev", newRev,
		"deleted", deleted)
	return newRev, nil
}

// Delete writes a tombstone for id at revision rev.
func (l *Local) Delete(ctx context.Context, id, rev string) (string, error) {
	return l.Put(ctx, ir.Object{
		"_id":      ir.String(id),
		"_rev":     ir.String(rev),
		"_deleted": ir.Bool(true),
	})
}

// bodyOf strips the store-managed fields from doc.
func bodyOf(doc ir.Object) ir.Object {
	body := make(ir.Object, len(doc))
	for k, v := range doc {
		switch k {
		case "_id", "_rev", "_deleted":
			continue
		}
		body[k] = v
	}
	return body
}
