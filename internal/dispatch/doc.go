// Package dispatch provides the execution contexts used by usersync.
//
// An Executor owns a logical execution context (a UI event loop, a serial
// work queue) and answers one question: is the calling goroutine already
// running on that context. Callers that must deliver on a designated context
// run inline when InContext reports true and hop with Dispatch otherwise:
//
//	if exec.InContext() {
//	    fn()
//	} else {
//	    exec.Dispatch(fn)
//	}
//
// Queue is a serial executor backed by one goroutine. It is used both as the
// default delivery context and as the single writer in front of cache stores.
package dispatch
