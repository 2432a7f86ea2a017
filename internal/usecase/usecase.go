// Package usecase maps repository emissions to domain users and delivers them
// on a designated execution context.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauern/usersync/internal/dispatch"
	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/repository"
)

// Repository is the orchestrator consumed by the use case.
type Repository interface {
	GetCachedThenSync(ctx context.Context, cb repository.Callback) <-chan struct{}
	Refresh(ctx context.Context, cb repository.Callback) <-chan struct{}
	LoadCached(ctx context.Context, cb repository.Callback) <-chan struct{}
}

// Kind classifies failures surfaced to the presentation layer.
type Kind string

const (
	KindNetwork Kind = "network"
	KindDecode  Kind = "decode"
	KindStore   Kind = "store"
	KindUnknown Kind = "unknown"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Error is a failure delivered to the presentation layer.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error", e.Kind)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a use case error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind, true
	}
	return "", false
}

// Result is one delivered emission.
type Result struct {
	Users  []model.User
	Origin model.Origin
	Err    error
}

// OK returns true if the emission carries users.
func (r Result) OK() bool {
	return r.Err == nil
}

// Callback receives delivered emissions.
type Callback func(Result)

// UserUsecase maps repository results to users.
type UserUsecase struct {
	repo     Repository
	executor dispatch.Executor
	owned    *dispatch.Queue
	closed   atomic.Bool
	once     sync.Once
}

// Option configures a UserUsecase.
type Option func(*UserUsecase)

// WithExecutor delivers every emission on exec.
func WithExecutor(exec dispatch.Executor) Option {
	return func(u *UserUsecase) {
		if exec != nil {
			u.executor = exec
		}
	}
}

// WithDelivery toggles the delivery-context guarantee. When disabled,
// emissions are delivered on whichever goroutine produced them.
func WithDelivery(enabled bool) Option {
	return func(u *UserUsecase) {
		if !enabled {
			u.executor = dispatch.Inline{}
		}
	}
}

// New creates a UserUsecase. Without options, emissions are delivered on a
// serial queue named "main" owned by the use case.
func New(repo Repository, opts ...Option) *UserUsecase {
	u := &UserUsecase{repo: repo}
	for _, opt := range opts {
		opt(u)
	}
	if u.executor == nil {
		u.owned = dispatch.NewQueue("main")
		u.executor = u.owned
	}
	return u
}

// Executor returns the delivery context.
func (u *UserUsecase) Executor() dispatch.Executor {
	return u.executor
}

// LoadUsersCachedThenSync delivers the cached users when there are any, then
// the remote users or a failure.
func (u *UserUsecase) LoadUsersCachedThenSync(ctx context.Context, cb Callback) <-chan struct{} {
	return u.start(cb, func(inner repository.Callback) <-chan struct{} {
		return u.repo.GetCachedThenSync(ctx, inner)
	})
}

// RefreshUsers delivers the remote users or a failure.
func (u *UserUsecase) RefreshUsers(ctx context.Context, cb Callback) <-chan struct{} {
	return u.start(cb, func(inner repository.Callback) <-chan struct{} {
		return u.repo.Refresh(ctx, inner)
	})
}

// LoadCachedUsers delivers the cached users or a store failure.
func (u *UserUsecase) LoadCachedUsers(ctx context.Context, cb Callback) <-chan struct{} {
	return u.start(cb, func(inner repository.Callback) <-chan struct{} {
		return u.repo.LoadCached(ctx, inner)
	})
}

// Close drops later deliveries and stops an owned executor after the
// deliveries already queued have run.
func (u *UserUsecase) Close() {
	u.once.Do(func() {
		u.closed.Store(true)
		if u.owned != nil {
			u.owned.Close()
		}
	})
}

// start issues a repository call and returns a channel closed once every
// emission of the call has been delivered.
func (u *UserUsecase) start(cb Callback, call func(repository.Callback) <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	if u.closed.Load() {
		close(done)
		return done
	}

	inner := call(func(res repository.Result) {
		mapped := Map(res)
		u.deliver(func() {
			if u.closed.Load() {
				return
			}
			cb(mapped)
		})
	})

	go func() {
		<-inner
		signal := func() { close(done) }
		// Queued after the last emission, so it runs after it on a serial
		// executor. An executor that refuses it must not leave callers
		// waiting.
		if !u.deliver(signal) {
			logging.Debug("executor refused completion signal")
			signal()
		}
	}()
	return done
}

// deliver hands fn to the delivery context and reports whether it was
// accepted.
func (u *UserUsecase) deliver(fn func()) bool {
	if u.owned == nil {
		return dispatch.TryRun(u.executor, fn)
	}
	if u.owned.InContext() {
		fn()
		return true
	}
	if !u.owned.Submit(fn) {
		// The queue is closed. fn drops callbacks itself once the use case
		// is closed, and completion signals still have to fire.
		logging.Debug("delivering after queue shutdown", logging.Queue(u.owned.Name()))
		fn()
	}
	return true
}

// Map converts a repository emission into a delivered result.
func Map(res repository.Result) Result {
	if res.Err != nil {
		return Result{Err: &Error{Kind: kindOf(res.Err), Err: res.Err}}
	}
	return Result{Users: model.FromRecords(res.Records), Origin: res.Origin}
}

func kindOf(err error) Kind {
	kind, ok := repository.KindOf(err)
	if !ok {
		return KindUnknown
	}
	switch kind {
	case repository.KindNetwork:
		return KindNetwork
	case repository.KindDecode:
		return KindDecode
	case repository.KindStore:
		return KindStore
	default:
		return KindUnknown
	}
}
