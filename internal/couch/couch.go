package couch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fjl/go-couchdb"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
)

const designPrefix = "_design/"

// Store is a store.Store backed by a CouchDB database.
type Store struct {
	db     *couchdb.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

type config struct {
	transport http.RoundTripper
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*config)

// WithTransport sets the HTTP transport requests go through.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) {
		c.transport = rt
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Open returns a Store for database db on the server at rawURL. Credentials
// may be given as URL user info. No request is made.
func Open(rawURL, db string, opts ...Option) (*Store, error) {
	if db == "" {
		return nil, fmt.Errorf("couch: database name is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("couch: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("couch: unsupported url scheme %q", u.Scheme)
	}

	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	user := u.User
	u.User = nil
	client, err := couchdb.NewClient(u.String(), cfg.transport)
	if err != nil {
		return nil, fmt.Errorf("couch: %w", err)
	}
	if user != nil {
		pw, _ := user.Password()
		client.SetAuth(couchdb.BasicAuth(user.Username(), pw))
	}
	return &Store{db: client.DB(db), logger: cfg.logger}, nil
}

// toCouchID maps design:x to _design/x.
func toCouchID(id string) string {
	if name, ok := strings.CutPrefix(id, ir.DesignPrefix); ok {
		return designPrefix + name
	}
	return id
}

// fromCouchID maps _design/x to design:x.
func fromCouchID(id string) string {
	if name, ok := strings.CutPrefix(id, designPrefix); ok {
		return ir.DesignID(name)
	}
	return id
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id string) (ir.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := s.db.Get(toCouchID(id), &raw, nil); err != nil {
		return nil, s.classify(err, id)
	}
	doc, err := ir.DecodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("couch: decode %s: %w", id, err)
	}
	doc["_id"] = ir.String(id)
	return doc, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, doc ir.Object) (string, error) {
	id, ok := doc.Str("_id")
	if !ok || id == "" {
		return "", &store.Error{Reason: store.ReasonBadRequest, Err: fmt.Errorf("document has no _id")}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body := doc.Clone()
	body["_id"] = ir.String(toCouchID(id))
	rev, _ := body.Str("_rev")
	delete(body, "_rev")
	data, err := ir.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("couch: encode %s: %w", id, err)
	}

	newRev, err := s.db.Put(toCouchID(id), json.RawMessage(data), rev)
	if err != nil {
		return "", s.classify(err, id)
	}
	s.logger.Debug("document written", "id", id, "rev", newRev)
	return newRev, nil
}

// QueryView implements store.Store.
func (s *Store) QueryView(ctx context.Context, design, view string, q queryir.Query) ([]ir.Row, error) {
	opts, err := viewOptions(q)
	if err != nil {
		return nil, &store.Error{Reason: store.ReasonBadRequest, ID: design, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resp struct {
		Rows []struct {
			ID    string          `json:"id"`
			Key   json.RawMessage `json:"key"`
			Value json.RawMessage `json:"value"`
		} `json:"rows"`
	}
	ddoc := designPrefix + strings.TrimPrefix(design, ir.DesignPrefix)
	if err := s.db.View(ddoc, view, &resp, opts); err != nil {
		return nil, s.classify(err, design)
	}

	rows := make([]ir.Row, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		k, err := decodeRaw(r.Key)
		if err != nil {
			return nil, fmt.Errorf("couch: decode key of %s: %w", r.ID, err)
		}
		v, err := decodeRaw(r.Value)
		if err != nil {
			return nil, fmt.Errorf("couch: decode value of %s: %w", r.ID, err)
		}
		rows = append(rows, ir.Row{ID: fromCouchID(r.ID), Key: k, Value: v})
	}
	return rows, nil
}

func decodeRaw(raw json.RawMessage) (ir.Value, error) {
	if len(raw) == 0 {
		return ir.Null{}, nil
	}
	return ir.Decode(raw)
}

// viewOptions translates q into CouchDB view options. Keys are encoded in
// collation-preserving JSON so the client passes them through verbatim.
func viewOptions(q queryir.Query) (couchdb.Options, error) {
	opts := couchdb.Options{}
	jsonOpt := func(name string, v ir.Value) error {
		b, err := ir.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		opts[name] = json.RawMessage(b)
		return nil
	}

	switch sel := q.Selection().(type) {
	case queryir.All:
	case queryir.Keys:
		if err := jsonOpt("keys", append(ir.Array{}, sel.Keys...)); err != nil {
			return nil, err
		}
	case queryir.Range:
		if sel.Start != nil {
			if err := jsonOpt("startkey", sel.Start); err != nil {
				return nil, err
			}
		}
		if sel.End != nil {
			if err := jsonOpt("endkey", sel.End); err != nil {
				return nil, err
			}
		}
		if sel.ExclusiveEnd {
			opts["inclusive_end"] = false
		}
		if sel.StartDocID != "" {
			opts["startkey_docid"] = toCouchID(sel.StartDocID)
		}
	default:
		return nil, fmt.Errorf("unsupported selector %T", sel)
	}

	if q.Reduce != nil {
		opts["reduce"] = *q.Reduce
	}
	if q.Group {
		opts["group"] = true
	} else if q.GroupLevel > 0 {
		opts["group_level"] = q.GroupLevel
	}
	if q.Skip > 0 {
		opts["skip"] = q.Skip
	}
	if q.Limit > 0 {
		opts["limit"] = q.Limit
	}
	return opts, nil
}

// classify maps a client error to a store.Error carrying CouchDB's reason.
func (s *Store) classify(err error, id string) error {
	var ce *couchdb.Error
	if !errors.As(err, &ce) {
		return fmt.Errorf("couch: %s: %w", id, err)
	}
	s.logger.Debug("couch request failed",
		"method", ce.Method,
		"id", id,
		"status", ce.StatusCode,
		"error", ce.ErrorCode,
		"reason", ce.Reason)
	return classify(ce, id)
}

func classify(ce *couchdb.Error, id string) error {
	err := fmt.Errorf("couch: %d %s: %s", ce.StatusCode, ce.ErrorCode, ce.Reason)
	switch {
	case ce.StatusCode == http.StatusNotFound:
		reason := store.Reason(ce.Reason)
		switch reason {
		case store.ReasonMissing, store.ReasonDeleted, store.ReasonMissingNamedView:
		default:
			reason = store.ReasonMissing
		}
		return &store.Error{Reason: reason, ID: id, Err: err}
	case ce.StatusCode == http.StatusConflict || ce.ErrorCode == "conflict":
		return &store.Error{Reason: store.ReasonConflict, ID: id, Err: err}
	case ce.StatusCode == http.StatusBadRequest:
		return &store.Error{Reason: store.ReasonBadRequest, ID: id, Err: err}
	case ce.ErrorCode != "":
		return &store.Error{Reason: store.Reason(ce.ErrorCode), ID: id, Err: err}
	default:
		return err
	}
}
