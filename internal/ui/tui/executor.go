package tui

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/klauern/usersync/internal/dispatch"
)

// runMsg carries work onto the program's event loop.
type runMsg struct {
	fn func()
}

// ProgramExecutor is a dispatch.Executor whose context is the event loop of
// a bubbletea program. Models that run through it must call Bind from Update
// and execute runMsg work, which BrowseModel does.
type ProgramExecutor struct {
	mu      sync.Mutex
	program *tea.Program
	running bool

	gid atomic.Uint64
}

// NewProgramExecutor returns an executor with no program attached. Until a
// program is attached, Dispatch runs work on the calling goroutine.
func NewProgramExecutor() *ProgramExecutor {
	return &ProgramExecutor{}
}

// Attach routes subsequent Dispatch calls through p.
func (e *ProgramExecutor) Attach(p *tea.Program) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.program = p
	e.running = true
}

// Detach marks the program as finished. Later work runs on the caller.
func (e *ProgramExecutor) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.program = nil
	e.gid.Store(0)
}

// Bind records the calling goroutine as the event loop.
func (e *ProgramExecutor) Bind() {
	e.gid.Store(dispatch.GoroutineID())
}

// Bound reports whether the event loop has been observed.
func (e *ProgramExecutor) Bound() bool {
	return e.gid.Load() != 0
}

// InContext reports whether the caller runs on the event loop.
func (e *ProgramExecutor) InContext() bool {
	gid := e.gid.Load()
	return gid != 0 && gid == dispatch.GoroutineID()
}

// Dispatch hands fn to the event loop.
func (e *ProgramExecutor) Dispatch(fn func()) {
	e.mu.Lock()
	p, running := e.program, e.running
	e.mu.Unlock()

	if p == nil || !running {
		fn()
		return
	}
	// Send blocks until the loop takes the message, or drops it once the
	// program has exited.
	p.Send(runMsg{fn: fn})
}

var _ dispatch.Executor = (*ProgramExecutor)(nil)
