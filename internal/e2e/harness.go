// Package e2e provides testing infrastructure for end-to-end CLI tests.
// It includes a harness for running CLI commands against a fake remote
// source, fixture management, and utilities for isolated test environments.
package e2e

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauern/usersync/internal/cli"
)

// Result contains the outcome of running a CLI command.
type Result struct {
	// Stdout contains the captured standard output.
	Stdout string
	// Err is the error returned by the CLI command, if any.
	Err error
	// ExitCode is the inferred exit code (0 for success, 1 for error).
	ExitCode int
}

// Success returns true if the command completed without error.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Harness provides a test harness for running E2E CLI tests.
// It manages environment isolation, the fake remote source, and output
// capture.
type Harness struct {
	t       *testing.T
	homeDir string
	remote  *Remote
	env     map[string]string
}

// NewHarness creates a new E2E test harness.
// It sets up an isolated USERSYNC_HOME and points the remote source at a
// fresh Remote fixture that serves an empty collection until told otherwise.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	homeDir := t.TempDir()
	h := &Harness{
		t:       t,
		homeDir: homeDir,
		remote:  NewRemote(t),
		env:     make(map[string]string),
	}

	h.SetEnv("USERSYNC_HOME", homeDir)
	h.SetEnv("USERSYNC_REMOTE_BASE_URL", h.remote.URL())
	h.SetEnv("USERSYNC_REMOTE_USERS_PATH", UsersPath)
	h.SetEnv("USERSYNC_OUTPUT_COLOR", "never")

	return h
}

// SetEnv sets an environment variable for CLI commands run through this harness.
// The environment will be restored after the test completes.
func (h *Harness) SetEnv(key, value string) {
	h.t.Helper()
	h.env[key] = value
	h.t.Setenv(key, value)
}

// UseBackend selects the cache backend for subsequent commands.
func (h *Harness) UseBackend(backend string) {
	h.t.Helper()
	h.SetEnv("USERSYNC_CACHE_BACKEND", backend)
}

// HomeDir returns the isolated home directory for this test harness.
func (h *Harness) HomeDir() string {
	return h.homeDir
}

// CacheDir returns the default cache directory under the test home.
func (h *Harness) CacheDir() string {
	if dir := h.env["USERSYNC_CACHE_LOCATION"]; dir != "" {
		return dir
	}
	return filepath.Join(h.homeDir, "cache")
}

// Remote returns the fake remote source.
func (h *Harness) Remote() *Remote {
	return h.remote
}

// Run executes a CLI command with the given arguments and captures the output.
func (h *Harness) Run(args ...string) *Result {
	h.t.Helper()

	if len(args) == 0 || args[0] != "usersync" {
		args = append([]string{"usersync"}, args...)
	}

	oldStdout := os.Stdout
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		h.t.Fatalf("failed to create stdout pipe: %v", err)
	}
	os.Stdout = stdoutW

	// Drain concurrently so output larger than the pipe buffer cannot block
	// the command.
	var stdoutBuf bytes.Buffer
	var copyErr error
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		_, copyErr = io.Copy(&stdoutBuf, stdoutR)
	}()

	cmdErr := cli.Run(context.Background(), args)

	if err := stdoutW.Close(); err != nil {
		h.t.Fatalf("failed to close stdout pipe writer: %v", err)
	}
	os.Stdout = oldStdout

	<-copyDone
	if copyErr != nil {
		h.t.Fatalf("failed to read captured stdout: %v", copyErr)
	}

	exitCode := 0
	if cmdErr != nil {
		exitCode = 1
	}

	return &Result{
		Stdout:   stdoutBuf.String(),
		Err:      cmdErr,
		ExitCode: exitCode,
	}
}
