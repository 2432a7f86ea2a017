package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/model"
)

const (
	documentVersion = "1.0"
	// DefaultFileName is the document the file store writes.
	DefaultFileName = "allUsers.json"
)

// envelope is one persisted collection.
type envelope struct {
	Items   []model.Record `json:"items"`
	SavedAt time.Time      `json:"saved_at"`
}

// document is the on-disk layout: a versioned map of keys to collections.
type document struct {
	Version     string              `json:"version"`
	Collections map[string]envelope `json:"collections"`
}

// FileStore keeps collections in a single JSON document on a billy filesystem.
type FileStore struct {
	fs   billy.Filesystem
	name string
	key  string
	now  func() time.Time
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithKey stores the collection under key instead of DefaultKey.
func WithKey(key string) FileOption {
	return func(s *FileStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithFileName writes the document to name instead of DefaultFileName.
func WithFileName(name string) FileOption {
	return func(s *FileStore) {
		if name != "" {
			s.name = name
		}
	}
}

// WithClock overrides the timestamp source for saved_at.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFileStore creates a store on an existing filesystem.
func NewFileStore(fsys billy.Filesystem, opts ...FileOption) *FileStore {
	s := &FileStore{
		fs:   fsys,
		name: DefaultFileName,
		key:  DefaultKey,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenDir creates a store rooted at dir on the OS filesystem, creating dir
// if needed.
func OpenDir(dir string, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return NewFileStore(osfs.New(dir), opts...), nil
}

// NewMemory creates a store backed by an in-memory filesystem.
func NewMemory(opts ...FileOption) *FileStore {
	return NewFileStore(memfs.New(), opts...)
}

// Key returns the logical key the collection is stored under.
func (s *FileStore) Key() string {
	return s.key
}

// Path returns the document location, for logging.
func (s *FileStore) Path() string {
	return path.Join(s.fs.Root(), s.name)
}

// ReadAll implements Store.ReadAll.
func (s *FileStore) ReadAll(ctx context.Context) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	doc, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: document version %q, want %q", ErrLoad, doc.Version, documentVersion)
	}
	env, ok := doc.Collections[s.key]
	if !ok {
		return nil, fmt.Errorf("%w: no collection %q in %s", ErrLoad, s.key, s.Path())
	}
	if env.Items == nil {
		return []model.Record{}, nil
	}
	return env.Items, nil
}

// WriteAll implements Store.WriteAll. Other collections in the document are
// preserved; a corrupt or outdated document is replaced.
func (s *FileStore) WriteAll(ctx context.Context, records []model.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}
	doc, err := s.load()
	if err != nil || doc.Version != documentVersion {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Debug("replacing unreadable cache document",
				logging.Path(s.Path()),
				logging.Err(err),
			)
		}
		doc = newDocument()
	}

	items := make([]model.Record, len(records))
	copy(items, records)
	doc.Collections[s.key] = envelope{Items: items, SavedAt: s.now().UTC()}

	if err := s.save(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}
	return nil
}

// Clear implements Store.Clear.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	doc, err := s.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		// Unreadable document: nothing worth keeping.
		if err := s.fs.Remove(s.name); err != nil {
			return fmt.Errorf("%w: %w", ErrDelete, err)
		}
		return nil
	}

	delete(doc.Collections, s.key)
	if len(doc.Collections) == 0 {
		if err := s.fs.Remove(s.name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrDelete, err)
		}
		return nil
	}
	if err := s.save(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	return nil
}

func newDocument() *document {
	return &document{
		Version:     documentVersion,
		Collections: make(map[string]envelope),
	}
}

func (s *FileStore) load() (*document, error) {
	data, err := util.ReadFile(s.fs, s.name)
	if err != nil {
		return nil, err
	}
	doc := newDocument()
	doc.Version = ""
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path(), err)
	}
	if doc.Collections == nil {
		doc.Collections = make(map[string]envelope)
	}
	return doc, nil
}

// save writes the document to a temp file and renames it into place so
// readers never observe a partial document.
func (s *FileStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := path.Dir(s.name)
	if dir != "." {
		if err := s.fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tmp, err := util.TempFile(s.fs, dir, "."+path.Base(s.name)+"-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := s.fs.Rename(tmpName, s.name); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
