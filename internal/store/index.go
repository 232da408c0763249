package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/ir"
)

// signature identifies the function text an index was built with. A change
// in either body discards the subview's rows.
func signature(cv ir.CompiledView) string {
	return cv.Map + "\x00" + cv.Reduce
}

// refresh folds every document written since the subview's last indexed
// seq into view_rows. Documents whose map function fails are logged and
// contribute no rows.
func (l *Local) refresh(ctx context.Context, design, view string, cv ir.CompiledView, prog *engine.Program) error {
	l.indexMu.Lock()
	defer l.indexMu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index %s/%s: begin: %w", design, view, err)
	}
	defer tx.Rollback()

	sig := signature(cv)
	var (
		storedSig string
		since     int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT signature, seq FROM view_state WHERE design = ? AND view = ?`, design, view,
	).Scan(&storedSig, &since)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("index %s/%s: read state: %w", design, view, err)
	case storedSig != sig:
		l.logger.Info("view changed, rebuilding index", "design", design, "view", view)
		since = 0
	}
	if since == 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM view_rows WHERE design = ? AND view = ?`, design, view); err != nil {
			return fmt.Errorf("index %s/%s: clear: %w", design, view, err)
		}
	}

	changes, err := readChanges(ctx, tx, since)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", design, view, err)
	}
	if len(changes) == 0 && storedSig == sig {
		return nil
	}

	last := since
	for _, ch := range changes {
		last = ch.seq
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM view_rows WHERE design = ? AND view = ? AND doc_id = ?`,
			design, view, ch.id); err != nil {
			return fmt.Errorf("index %s/%s: drop rows of %s: %w", design, view, ch.id, err)
		}
		if ch.deleted || strings.HasPrefix(ch.id, ir.DesignPrefix) {
			continue
		}

		doc, err := ir.DecodeObject([]byte(ch.body))
		if err != nil {
			return fmt.Errorf("index %s/%s: decode %s: %w", design, view, ch.id, err)
		}
		doc["_id"] = ir.String(ch.id)
		doc["_rev"] = ir.String(ch.rev)

		emitted, err := l.engine.Map(prog, ch.id, doc)
		if err != nil {
			mapFailures.Inc()
			l.logger.Warn("map function failed, document skipped",
				"design", design,
				"view", view,
				"doc", ch.id,
				"error", err)
			continue
		}
		for i, em := range emitted {
			key, err := ir.Marshal(em.Key)
			if err != nil {
				return fmt.Errorf("index %s/%s: encode key from %s: %w", design, view, ch.id, err)
			}
			value, err := ir.Marshal(em.Value)
			if err != nil {
				return fmt.Errorf("index %s/%s: encode value from %s: %w", design, view, ch.id, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO view_rows (design, view, doc_id, emit, key, value)
				VALUES (?, ?, ?, ?, ?, ?)
			`, design, view, ch.id, i, string(key), string(value)); err != nil {
				return fmt.Errorf("index %s/%s: insert row from %s: %w", design, view, ch.id, err)
			}
		}
		indexedDocs.Inc()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO view_state (design, view, signature, seq) VALUES (?, ?, ?, ?)
		ON CONFLICT(design, view) DO UPDATE SET signature = excluded.signature, seq = excluded.seq
	`, design, view, sig, last); err != nil {
		return fmt.Errorf("index %s/%s: write state: %w", design, view, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index %s/%s: commit: %w", design, view, err)
	}

	l.logger.Debug("view index refreshed",
		"design", design,
		"view", view,
		"changes", len(changes),
		"seq", last)
	return nil
}

type change struct {
	id      string
	rev     string
	seq     int64
	deleted bool
	body    string
}

// readChanges returns documents written after seq, oldest first.
func readChanges(ctx context.Context, tx *sql.Tx, seq int64) ([]change, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, rev, seq, deleted, body FROM docs
		WHERE seq > ?
		ORDER BY seq ASC
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	var out []change
	for rows.Next() {
		var ch change
		if err := rows.Scan(&ch.id, &ch.rev, &ch.seq, &ch.deleted, &ch.body); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return out, nil
}
