package dispatch

// Executor is an execution context that work can be handed to.
type Executor interface {
	// InContext reports whether the calling goroutine runs on this executor.
	InContext() bool
	// Dispatch schedules fn to run on this executor without waiting for it.
	Dispatch(fn func())
}

// Run executes fn on exec, inline when the caller is already on exec.
func Run(exec Executor, fn func()) {
	if exec.InContext() {
		fn()
		return
	}
	exec.Dispatch(fn)
}

// Submitter is an Executor that reports whether it accepted work.
type Submitter interface {
	Executor
	Submit(fn func()) bool
}

// TryRun is Run for callers that must know whether fn was accepted. It
// reports false only when exec is a Submitter that refused fn.
func TryRun(exec Executor, fn func()) bool {
	if exec.InContext() {
		fn()
		return true
	}
	if s, ok := exec.(Submitter); ok {
		return s.Submit(fn)
	}
	exec.Dispatch(fn)
	return true
}

// Inline is an Executor that runs everything on the calling goroutine.
type Inline struct{}

// InContext always returns true.
func (Inline) InContext() bool { return true }

// Dispatch runs fn immediately.
func (Inline) Dispatch(fn func()) { fn() }
