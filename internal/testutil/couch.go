package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// FakeCouchDB is the database name FakeCouch serves.
const FakeCouchDB = "db"

// FakeCouch serves just enough of the CouchDB document and view API for
// the couch store: documents with revision checks, and one canned view
// named by_type in any deployed design document.
type FakeCouch struct {
	URL string

	mu      sync.Mutex
	docs    map[string]map[string]any
	deleted map[string]bool
	gen     int

	lastQuery url.Values
}

// NewFakeCouch starts a FakeCouch that is shut down when the test ends.
func NewFakeCouch(t testing.TB) *FakeCouch {
	t.Helper()
	f := &FakeCouch{docs: map[string]map[string]any{}, deleted: map[string]bool{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	f.URL = srv.URL
	return f
}

// Doc returns the stored document with the raw CouchDB id.
func (f *FakeCouch) Doc(id string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	return d, ok
}

// IDs returns the ids of every stored document.
func (f *FakeCouch) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	return ids
}

// LastQuery returns the query parameters of the last view request.
func (f *FakeCouch) LastQuery() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": reason})
}

func (f *FakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, ok := strings.CutPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/"+FakeCouchDB+"/")
	if !ok {
		notFound(w, "Database does not exist.")
		return
	}
	if strings.Contains(path, "/_view/") {
		f.serveView(w, r, path)
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, ok := f.docs[path]
		switch {
		case f.deleted[path]:
			notFound(w, "deleted")
		case !ok:
			notFound(w, "missing")
		default:
			writeJSON(w, http.StatusOK, doc)
		}
	case http.MethodPut:
		f.put(w, r, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakeCouch) put(w http.ResponseWriter, r *http.Request, path string) {
	var doc map[string]any
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": "invalid json"})
		return
	}
	if id, ok := doc["_id"]; ok && id != path {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": "id mismatch"})
		return
	}
	rev := r.URL.Query().Get("rev")
	if rev == "" {
		rev, _ = doc["_rev"].(string)
	}
	current, exists := f.docs[path]
	if exists && current["_rev"] != rev {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
		return
	}

	f.gen++
	newRev := fmt.Sprintf("%d-abc", f.gen)
	doc["_id"] = path
	doc["_rev"] = newRev
	if doc["_deleted"] == true {
		delete(f.docs, path)
		f.deleted[path] = true
	} else {
		f.docs[path] = doc
		delete(f.deleted, path)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": path, "rev": newRev})
}

func (f *FakeCouch) serveView(w http.ResponseWriter, r *http.Request, path string) {
	design, view, _ := strings.Cut(path, "/_view/")
	if _, ok := f.docs[design]; !ok {
		notFound(w, "missing")
		return
	}
	if view != "by_type" {
		notFound(w, "missing_named_view")
		return
	}
	f.lastQuery = r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_rows": 2,
		"offset":     0,
		"rows": []map[string]any{
			{"id": "a", "key": "fruit", "value": 1},
			{"id": "_design/x", "key": []any{"veg", 2}, "value": nil},
		},
	})
}
