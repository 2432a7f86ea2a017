package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/store"
	"github.com/klauern/usersync/internal/store/sqlite"
)

// UsersPath is where the Remote fixture serves the collection.
const UsersPath = "/users.json"

// Fixture provides helpers for creating files in E2E tests.
type Fixture struct {
	t       *testing.T
	baseDir string
}

// NewFixture creates a new fixture helper rooted at the given directory.
func NewFixture(t *testing.T, baseDir string) *Fixture {
	t.Helper()
	return &Fixture{
		t:       t,
		baseDir: baseDir,
	}
}

// WriteFile writes content to a file relative to the fixture base directory.
// It creates parent directories as needed.
func (f *Fixture) WriteFile(relPath, content string) string {
	f.t.Helper()
	fullPath := filepath.Join(f.baseDir, relPath)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		f.t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o600); err != nil {
		f.t.Fatalf("failed to write file %s: %v", fullPath, err)
	}
	return fullPath
}

// Path returns the full path for a relative path.
func (f *Fixture) Path(relPath string) string {
	return filepath.Join(f.baseDir, relPath)
}

// Exists returns true if the file or directory exists.
func (f *Fixture) Exists(relPath string) bool {
	f.t.Helper()
	_, err := os.Stat(filepath.Join(f.baseDir, relPath))
	return err == nil
}

// ReadFile reads and returns the content of a file.
func (f *Fixture) ReadFile(relPath string) string {
	f.t.Helper()
	fullPath := filepath.Join(f.baseDir, relPath)

	// #nosec G304 - fullPath is constructed from trusted test fixture base and test-provided path
	data, err := os.ReadFile(fullPath)
	if err != nil {
		f.t.Fatalf("failed to read file %s: %v", fullPath, err)
	}
	return string(data)
}

// HomeFixture returns a fixture rooted at the harness home, where config.yaml
// is looked up by default.
func (h *Harness) HomeFixture() *Fixture {
	h.t.Helper()
	return NewFixture(h.t, h.homeDir)
}

// CacheFixture returns a fixture rooted at the cache directory.
func (h *Harness) CacheFixture() *Fixture {
	h.t.Helper()
	return NewFixture(h.t, h.CacheDir())
}

// SeedCache writes records into the cache of the given backend, as an
// earlier successful sync would have.
func (h *Harness) SeedCache(backend string, records ...model.Record) {
	h.t.Helper()

	dir := h.CacheDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		h.t.Fatalf("failed to create cache dir: %v", err)
	}

	var (
		st  store.Store
		err error
	)
	switch backend {
	case "sqlite":
		var db *sqlite.Store
		db, err = sqlite.Open(filepath.Join(dir, "usersync.db"))
		if err == nil {
			defer func() { _ = db.Close() }()
			st = db
		}
	default:
		st, err = store.OpenDir(dir)
	}
	if err != nil {
		h.t.Fatalf("failed to open %s cache: %v", backend, err)
	}
	if err := st.WriteAll(context.Background(), records); err != nil {
		h.t.Fatalf("failed to seed %s cache: %v", backend, err)
	}
}

// Users returns deterministic records for the given ids.
func Users(ids ...int) []model.Record {
	records := make([]model.Record, len(ids))
	for i, id := range ids {
		records[i] = model.Record{
			ID:            id,
			Name:          fmt.Sprintf("User %d", id),
			Age:           20 + id,
			Location:      fmt.Sprintf("City %d", id),
			About:         fmt.Sprintf("about user %d", id),
			ProfilePicURL: fmt.Sprintf("https://cdn.example.com/%d.png", id),
		}
	}
	return records
}

// Remote is a fake remote source serving a user collection over HTTP.
type Remote struct {
	srv *httptest.Server

	mu      sync.Mutex
	records []model.Record
	status  int
	raw     string

	hits atomic.Int32
}

// NewRemote starts a Remote serving an empty collection. It is closed when
// the test completes.
func NewRemote(t *testing.T) *Remote {
	t.Helper()
	r := &Remote{records: []model.Record{}, status: http.StatusOK}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *Remote) serve(w http.ResponseWriter, req *http.Request) {
	r.hits.Add(1)
	if req.URL.Path != UsersPath {
		http.NotFound(w, req)
		return
	}

	r.mu.Lock()
	status, raw, records := r.status, r.raw, r.records
	r.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if raw != "" {
		_, _ = w.Write([]byte(raw))
		return
	}
	_ = json.NewEncoder(w).Encode(records)
}

// URL returns the base URL of the server.
func (r *Remote) URL() string {
	return r.srv.URL
}

// SetUsers serves records with status 200.
func (r *Remote) SetUsers(records ...model.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if records == nil {
		records = []model.Record{}
	}
	r.records, r.status, r.raw = records, http.StatusOK, ""
}

// Fail answers every request with status.
func (r *Remote) Fail(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

// ServeRaw answers with body verbatim and status 200.
func (r *Remote) ServeRaw(body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw, r.status = body, http.StatusOK
}

// Hits returns the number of requests served.
func (r *Remote) Hits() int {
	return int(r.hits.Load())
}
