// Package progress provides the activity indicator shown while a remote
// round-trip is outstanding.
package progress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/ui"
)

// Spinner wraps an indeterminate progressbar with integration to usersync's
// UI and logging.
type Spinner struct {
	bar     *progressbar.ProgressBar
	enabled bool
	desc    string

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
	started time.Time
}

// Options configures the spinner behavior.
type Options struct {
	// Description is the text shown next to the spinner.
	Description string
	// Writer is the output destination. Defaults to os.Stderr.
	Writer io.Writer
	// Interval is the animation tick. Defaults to 100ms.
	Interval time.Duration
}

// DefaultOptions returns sensible defaults for CLI spinners.
func DefaultOptions() Options {
	return Options{
		Description: "Syncing",
		Writer:      os.Stderr,
		Interval:    100 * time.Millisecond,
	}
}

// Start creates a spinner and starts animating it.
// The spinner is only shown if:
//   - Colors are enabled (respects NO_COLOR and --no-color)
//   - Output is a terminal
//   - Not in debug mode (to avoid interfering with logs)
func Start(opts Options) *Spinner {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}

	s := &Spinner{
		enabled: shouldShowProgress(opts.Writer),
		desc:    opts.Description,
		started: time.Now(),
	}

	if !s.enabled {
		logging.Debug(fmt.Sprintf("%s started", opts.Description))
		return s
	}

	s.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(opts.Writer),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(ui.IsColorEnabled()),
	)
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.animate(opts.Interval)
	return s
}

func (s *Spinner) animate(interval time.Duration) {
	defer close(s.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.bar.Add(1)
			s.mu.Unlock()
		}
	}
}

// Enabled reports whether the spinner renders anything.
func (s *Spinner) Enabled() bool {
	return s.enabled
}

// Describe updates the spinner description.
func (s *Spinner) Describe(desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desc = desc
	if !s.enabled {
		return
	}
	s.bar.Describe(desc)
}

// Stop halts the animation and clears the line. Stop is idempotent.
func (s *Spinner) Stop() error {
	if !s.enabled {
		logging.Debug(fmt.Sprintf("%s completed", s.desc),
			slog.Duration(logging.KeyDuration, time.Since(s.started)))
		return nil
	}

	s.mu.Lock()
	select {
	case <-s.stop:
		s.mu.Unlock()
		return nil
	default:
		close(s.stop)
	}
	s.mu.Unlock()

	<-s.stopped
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bar.Finish()
}

// shouldShowProgress determines if the spinner should be displayed.
func shouldShowProgress(w io.Writer) bool {
	// Check if colors are enabled (respects NO_COLOR)
	if !ui.IsColorEnabled() {
		return false
	}

	// Only animate on a terminal, never into a pipe or file
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}

	// Disable progress if at debug level (avoid interfering with logs)
	if logging.Default().Enabled(context.Background(), logging.LevelDebug) {
		return false
	}

	return true
}
