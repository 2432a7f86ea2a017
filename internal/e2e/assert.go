package e2e

import (
	"encoding/json"
	"os"
	"slices"
	"strings"
	"testing"
)

// AssertSuccess fails the test if the command did not succeed.
func AssertSuccess(t *testing.T, r *Result) {
	t.Helper()
	if !r.Success() {
		t.Fatalf("expected success, got error: %v\nstdout: %s", r.Err, r.Stdout)
	}
}

// AssertError fails the test if the command did not return an error.
func AssertError(t *testing.T, r *Result) {
	t.Helper()
	if r.Success() {
		t.Fatalf("expected error, but command succeeded\nstdout: %s", r.Stdout)
	}
}

// AssertExitCode fails the test if the exit code doesn't match.
func AssertExitCode(t *testing.T, r *Result, expected int) {
	t.Helper()
	if r.ExitCode != expected {
		t.Errorf("expected exit code %d, got %d\nerror: %v\nstdout: %s", expected, r.ExitCode, r.Err, r.Stdout)
	}
}

// AssertOutputContains fails the test if stdout doesn't contain the substring.
func AssertOutputContains(t *testing.T, r *Result, substr string) {
	t.Helper()
	if !strings.Contains(r.Stdout, substr) {
		t.Errorf("expected output to contain %q\ngot: %s", substr, r.Stdout)
	}
}

// AssertOutputNotContains fails the test if stdout contains the substring.
func AssertOutputNotContains(t *testing.T, r *Result, substr string) {
	t.Helper()
	if strings.Contains(r.Stdout, substr) {
		t.Errorf("expected output to NOT contain %q\ngot: %s", substr, r.Stdout)
	}
}

// AssertErrorContains fails the test if the error message doesn't contain the substring.
func AssertErrorContains(t *testing.T, r *Result, substr string) {
	t.Helper()
	if r.Success() {
		t.Fatalf("expected error containing %q, but command succeeded", substr)
	}
	if errMsg := r.Err.Error(); !strings.Contains(errMsg, substr) {
		t.Errorf("expected error to contain %q\ngot: %s", substr, errMsg)
	}
}

// AssertFileExists fails the test if the file doesn't exist.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("expected file to exist: %s", path)
	}
}

// AssertFileNotExists fails the test if the file exists.
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file to NOT exist: %s", path)
	}
}

// Emission is one JSON document printed by sync, refresh or cache show.
type Emission struct {
	Origin string `json:"origin"`
	Count  int    `json:"count"`
	Users  []struct {
		ID   int    `json:"user_id"`
		Name string `json:"name"`
	} `json:"users"`
}

// IDs returns the user ids of the emission in order.
func (e Emission) IDs() []int {
	ids := make([]int, len(e.Users))
	for i, u := range e.Users {
		ids[i] = u.ID
	}
	return ids
}

// ParseEmissions decodes the JSON documents printed with --format json.
func ParseEmissions(t *testing.T, r *Result) []Emission {
	t.Helper()
	var out []Emission
	dec := json.NewDecoder(strings.NewReader(r.Stdout))
	for dec.More() {
		var e Emission
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("failed to decode emission: %v\nstdout: %s", err, r.Stdout)
		}
		out = append(out, e)
	}
	return out
}

// ExpectedEmission describes one emission by origin and ids.
type ExpectedEmission struct {
	Origin string
	IDs    []int
}

// AssertEmissions fails the test unless the printed emissions match want in
// order.
func AssertEmissions(t *testing.T, r *Result, want ...ExpectedEmission) {
	t.Helper()
	got := ParseEmissions(t, r)
	if len(got) != len(want) {
		t.Fatalf("expected %d emissions, got %d\nstdout: %s", len(want), len(got), r.Stdout)
	}
	for i := range want {
		if got[i].Origin != want[i].Origin {
			t.Errorf("emission %d origin = %q, want %q", i, got[i].Origin, want[i].Origin)
		}
		if ids := got[i].IDs(); !slices.Equal(ids, want[i].IDs) {
			t.Errorf("emission %d ids = %v, want %v", i, ids, want[i].IDs)
		}
		if got[i].Count != len(want[i].IDs) {
			t.Errorf("emission %d count = %d, want %d", i, got[i].Count, len(want[i].IDs))
		}
	}
}
