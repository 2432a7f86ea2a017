package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/repository"
	"github.com/klauern/usersync/internal/usecase"
)

const usersPayload = `[
  {"user_id": 1, "name": "Ada", "age": 36, "loc": "London", "about_me": "maths", "profile_pic_url": "/ada.jpg"},
  {"user_id": 2, "name": "Grace", "age": 45, "loc": "Arlington", "about_me": "", "profile_pic_url": ""},
  {"user_id": 3, "name": "Linus", "age": 28, "loc": "Helsinki", "about_me": "kernels", "profile_pic_url": "https://cdn.example.com/l.png"}
]`

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	var buf bytes.Buffer
	copied := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(copied)
	}()

	runErr := fn()

	if err := w.Close(); err != nil {
		t.Fatalf("failed to close pipe writer: %v", err)
	}
	os.Stdout = old
	<-copied
	_ = r.Close()
	return buf.String(), runErr
}

// runCLI runs the application with args and returns its standard output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return captureStdout(t, func() error {
		return Run(context.Background(), args)
	})
}

// usersServer serves usersPayload, or a 500 once failing is set.
type usersServer struct {
	*httptest.Server
	failing atomic.Bool
	hits    atomic.Int32
}

func newUsersServer(t *testing.T) *usersServer {
	t.Helper()
	s := &usersServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if r.URL.Path != "/users.json" {
			http.NotFound(w, r)
			return
		}
		if s.failing.Load() {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, usersPayload)
	}))
	t.Cleanup(s.Close)
	return s
}

// useEnvironment points the configuration at srv and a fresh cache directory.
func useEnvironment(t *testing.T, srv *usersServer, backend string) string {
	t.Helper()
	cacheDir := filepath.Join(t.TempDir(), "cache")
	t.Setenv("USERSYNC_REMOTE_BASE_URL", srv.URL)
	t.Setenv("USERSYNC_REMOTE_USERS_PATH", "/users.json")
	t.Setenv("USERSYNC_CACHE_BACKEND", backend)
	t.Setenv("USERSYNC_CACHE_LOCATION", cacheDir)
	t.Setenv("USERSYNC_OUTPUT_COLOR", "never")
	return cacheDir
}

type emission struct {
	Origin string `json:"origin"`
	Count  int    `json:"count"`
	Users  []struct {
		ID   int    `json:"user_id"`
		Name string `json:"name"`
	} `json:"users"`
}

func decodeEmissions(t *testing.T, output string) []emission {
	t.Helper()
	var out []emission
	dec := json.NewDecoder(strings.NewReader(output))
	for dec.More() {
		var e emission
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("failed to decode output %q: %v", output, err)
		}
		out = append(out, e)
	}
	return out
}

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if Commit == "" {
		t.Error("Commit should not be empty")
	}
	if BuildDate == "" {
		t.Error("BuildDate should not be empty")
	}
}

func TestConfigureLogging(t *testing.T) {
	tests := map[string]struct {
		args      []string
		wantDebug bool
	}{
		"no flags uses default info level": {
			args:      []string{"usersync", "version"},
			wantDebug: false,
		},
		"verbose flag enables info level": {
			args:      []string{"usersync", "--verbose", "version"},
			wantDebug: false,
		},
		"debug flag enables debug level": {
			args:      []string{"usersync", "--debug", "version"},
			wantDebug: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			oldStderr := os.Stderr
			r, w, _ := os.Pipe()
			os.Stderr = w

			logging.SetDefault(logging.New(logging.DefaultOptions()))

			_, err := runCLI(t, tt.args...)

			if err := w.Close(); err != nil {
				t.Fatalf("failed to close pipe writer: %v", err)
			}
			os.Stderr = oldStderr
			_, _ = io.Copy(io.Discard, r)
			_ = r.Close()

			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := slog.Default().Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
		})
	}
	logging.SetDefault(logging.New(logging.DefaultOptions()))
}

func TestSyncCommand(t *testing.T) {
	srv := newUsersServer(t)
	useEnvironment(t, srv, "file")

	// Empty cache: only the remote collection is printed.
	output, err := runCLI(t, "usersync", "sync", "--format", "json")
	if err != nil {
		t.Fatalf("first sync error = %v", err)
	}
	got := decodeEmissions(t, output)
	if len(got) != 1 {
		t.Fatalf("first sync emitted %d results, want 1: %q", len(got), output)
	}
	if got[0].Origin != "remote" || got[0].Count != 3 {
		t.Errorf("first sync = %+v, want 3 remote users", got[0])
	}

	// Warm cache: the cached collection comes first.
	output, err = runCLI(t, "usersync", "sync", "--format", "json")
	if err != nil {
		t.Fatalf("second sync error = %v", err)
	}
	got = decodeEmissions(t, output)
	if len(got) != 2 {
		t.Fatalf("second sync emitted %d results, want 2: %q", len(got), output)
	}
	if got[0].Origin != "cache" || got[1].Origin != "remote" {
		t.Errorf("origins = %q, %q, want cache then remote", got[0].Origin, got[1].Origin)
	}
	if got[0].Users[0].Name != "Ada" || got[0].Count != 3 {
		t.Errorf("cached emission = %+v", got[0])
	}
}

func TestSyncCommandRemoteFailure(t *testing.T) {
	srv := newUsersServer(t)
	useEnvironment(t, srv, "file")
	srv.failing.Store(true)

	t.Run("no cache reports the network failure", func(t *testing.T) {
		_, err := runCLI(t, "usersync", "sync", "--format", "json")
		if err == nil {
			t.Fatal("expected an error")
		}
		if kind, ok := usecase.KindOf(err); !ok || kind != usecase.KindNetwork {
			t.Errorf("KindOf(%v) = %v, %v, want network", err, kind, ok)
		}
		if !strings.Contains(err.Error(), "no users are cached") {
			t.Errorf("error = %q, want mention of the empty cache", err)
		}
	})

	t.Run("cached users hide the failure", func(t *testing.T) {
		srv.failing.Store(false)
		if _, err := runCLI(t, "usersync", "refresh", "--format", "json"); err != nil {
			t.Fatalf("refresh error = %v", err)
		}
		srv.failing.Store(true)

		output, err := runCLI(t, "usersync", "sync", "--format", "json")
		if err != nil {
			t.Fatalf("sync error = %v", err)
		}
		got := decodeEmissions(t, output)
		if len(got) != 1 || got[0].Origin != "cache" {
			t.Errorf("emissions = %+v, want only the cached one", got)
		}
	})
}

func TestRefreshCommand(t *testing.T) {
	srv := newUsersServer(t)
	useEnvironment(t, srv, "file")

	output, err := runCLI(t, "usersync", "refresh", "--format", "json")
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	got := decodeEmissions(t, output)
	if len(got) != 1 || got[0].Origin != "remote" || got[0].Count != 3 {
		t.Errorf("emissions = %+v, want one remote emission of 3 users", got)
	}

	srv.failing.Store(true)
	if _, err := runCLI(t, "usersync", "refresh"); err == nil {
		t.Error("refresh against a failing remote should fail even with a cache")
	}
}

func TestSyncBackends(t *testing.T) {
	tests := map[string]struct {
		backend    string
		wantOnDisk string
		wantSecond int
	}{
		"file": {
			backend:    "file",
			wantOnDisk: "allUsers.json",
			wantSecond: 2,
		},
		"sqlite": {
			backend:    "sqlite",
			wantOnDisk: "usersync.db",
			wantSecond: 2,
		},
		"memory forgets between runs": {
			backend:    "memory",
			wantSecond: 1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := newUsersServer(t)
			cacheDir := useEnvironment(t, srv, tt.backend)

			if _, err := runCLI(t, "usersync", "sync", "--format", "json"); err != nil {
				t.Fatalf("first sync error = %v", err)
			}
			output, err := runCLI(t, "usersync", "sync", "--format", "json")
			if err != nil {
				t.Fatalf("second sync error = %v", err)
			}
			if got := decodeEmissions(t, output); len(got) != tt.wantSecond {
				t.Errorf("second sync emitted %d results, want %d", len(got), tt.wantSecond)
			}

			if tt.wantOnDisk != "" {
				if _, err := os.Stat(filepath.Join(cacheDir, tt.wantOnDisk)); err != nil {
					t.Errorf("expected %s in cache dir: %v", tt.wantOnDisk, err)
				}
			}
		})
	}
}

func TestSyncCommandFormats(t *testing.T) {
	tests := map[string]struct {
		args       []string
		wantErr    bool
		wantOutput string
	}{
		"table is the default": {
			args:       []string{"usersync", "sync"},
			wantOutput: "remote 3 user(s)",
		},
		"yaml": {
			args:       []string{"usersync", "sync", "--format", "yaml"},
			wantOutput: "origin: remote",
		},
		"cards": {
			args:       []string{"usersync", "sync", "-f", "cards"},
			wantOutput: "Grace, 45",
		},
		"invalid format": {
			args:    []string{"usersync", "sync", "--format", "xml"},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := newUsersServer(t)
			useEnvironment(t, srv, "memory")

			output, err := runCLI(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(output, tt.wantOutput) {
				t.Errorf("Run() output = %q, want substring %q", output, tt.wantOutput)
			}
		})
	}
}

func TestCacheCommands(t *testing.T) {
	srv := newUsersServer(t)
	useEnvironment(t, srv, "file")

	output, err := runCLI(t, "usersync", "cache", "show")
	if err != nil {
		t.Fatalf("cache show on empty cache error = %v", err)
	}
	if !strings.Contains(output, "No cached users") {
		t.Errorf("output = %q, want empty cache warning", output)
	}

	if _, err := runCLI(t, "usersync", "refresh"); err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	hits := srv.hits.Load()

	output, err = runCLI(t, "usersync", "cache", "show", "--format", "json")
	if err != nil {
		t.Fatalf("cache show error = %v", err)
	}
	got := decodeEmissions(t, output)
	if len(got) != 1 || got[0].Origin != "cache" || got[0].Count != 3 {
		t.Errorf("cache show = %+v, want 3 cached users", got)
	}
	if srv.hits.Load() != hits {
		t.Error("cache show contacted the remote source")
	}

	output, err = runCLI(t, "usersync", "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear error = %v", err)
	}
	if !strings.Contains(output, "Cleared cache") {
		t.Errorf("output = %q, want confirmation", output)
	}

	output, err = runCLI(t, "usersync", "cache", "show")
	if err != nil {
		t.Fatalf("cache show after clear error = %v", err)
	}
	if !strings.Contains(output, "No cached users") {
		t.Errorf("output = %q, want empty cache warning", output)
	}
}

func TestCacheClearMemoryBackend(t *testing.T) {
	srv := newUsersServer(t)
	useEnvironment(t, srv, "memory")

	output, err := runCLI(t, "usersync", "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear error = %v", err)
	}
	if !strings.Contains(output, "nothing to clear") {
		t.Errorf("output = %q, want skipped notice", output)
	}
	if strings.Contains(output, "Cleared cache") {
		t.Errorf("output = %q, memory cache should not report a clear", output)
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usersync.yaml")

	output, err := runCLI(t, "usersync", "--config", path, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if !strings.Contains(output, path) {
		t.Errorf("output = %q, want path %q", output, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if _, err := runCLI(t, "usersync", "--config", path, "config", "init"); err == nil {
		t.Error("config init should refuse to overwrite without --force")
	}
	if _, err := runCLI(t, "usersync", "--config", path, "config", "init", "--force"); err != nil {
		t.Errorf("config init --force error = %v", err)
	}

	t.Setenv("USERSYNC_CACHE_BACKEND", "sqlite")
	output, err = runCLI(t, "usersync", "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"base_url:", "backend: sqlite", "format: table"} {
		if !strings.Contains(output, want) {
			t.Errorf("config show output missing %q:\n%s", want, output)
		}
	}

	output, err = runCLI(t, "usersync", "--config", path, "config", "path")
	if err != nil {
		t.Fatalf("config path error = %v", err)
	}
	if !strings.Contains(output, "config: "+path) || !strings.Contains(output, "usersync.db") {
		t.Errorf("config path output = %q", output)
	}
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("USERSYNC_CACHE_BACKEND", "redis")
	if _, err := runCLI(t, "usersync", "cache", "show"); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestDescribeFailure(t *testing.T) {
	cause := errors.New("boom")
	tests := map[string]struct {
		err  error
		want string
	}{
		"network": {
			err:  &usecase.Error{Kind: usecase.KindNetwork, Err: cause},
			want: "could not reach the remote source",
		},
		"store": {
			err:  &usecase.Error{Kind: usecase.KindStore, Err: cause},
			want: "cache unavailable",
		},
		"decode passes through": {
			err:  &usecase.Error{Kind: usecase.KindDecode, Err: cause},
			want: "decode error: boom",
		},
		"plain error passes through": {
			err:  cause,
			want: "boom",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := describeFailure(tt.err)
			if !strings.Contains(got.Error(), tt.want) {
				t.Errorf("describeFailure() = %q, want substring %q", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("describeFailure() should wrap the original error")
			}
		})
	}
}

func TestDescribeFailureFromRepository(t *testing.T) {
	repoErr := &repository.Error{Kind: repository.KindNetwork, Op: "fetch"}
	err := describeFailure(&usecase.Error{Kind: usecase.KindNetwork, Err: repoErr})
	var target *repository.Error
	if !errors.As(err, &target) {
		t.Fatalf("errors.As(%v) should find the repository error", err)
	}
}
