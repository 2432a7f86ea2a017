package repository

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/klauern/usersync/internal/dispatch"
	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/remote"
	"github.com/klauern/usersync/internal/store"
)

const tracerName = "github.com/klauern/usersync/internal/repository"

// Repository orchestrates the cache store and the remote source for one
// logical collection.
type Repository struct {
	remote     remote.Source
	store      store.Store
	collection string

	// writer serializes every store mutation issued by this repository.
	writer *dispatch.Queue
	// calls serializes whole calls when WithSerializedCalls is set.
	calls *dispatch.Queue

	gen    atomic.Uint64
	closed atomic.Bool
	once   sync.Once

	tracer trace.Tracer
}

// Option configures a Repository.
type Option func(*Repository)

// WithSerializedCalls runs GetCachedThenSync, Refresh and LoadCached calls
// one at a time, so emissions of concurrent calls never interleave.
func WithSerializedCalls() Option {
	return func(r *Repository) {
		r.calls = dispatch.NewQueue("repository-calls")
	}
}

// WithCollection names the collection in logs and spans.
func WithCollection(name string) Option {
	return func(r *Repository) {
		if name != "" {
			r.collection = name
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Repository) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Repository. Both collaborators are required.
func New(src remote.Source, st store.Store, opts ...Option) (*Repository, error) {
	if src == nil {
		return nil, errors.New("repository: remote source is required")
	}
	if st == nil {
		return nil, errors.New("repository: cache store is required")
	}
	r := &Repository{
		remote:     src,
		store:      st,
		collection: store.DefaultKey,
		writer:     dispatch.NewQueue("store-writer"),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetCachedThenSync emits the cached collection when it is non-empty, then
// fetches and persists the remote one. The callback fires zero, one or two
// times; the returned channel is closed after the last invocation returned.
func (r *Repository) GetCachedThenSync(ctx context.Context, cb Callback) <-chan struct{} {
	return r.start(ctx, "get_cached_then_sync", func(ctx context.Context, emit Callback) {
		emittedLocal := false

		cached, err := r.store.ReadAll(ctx)
		switch {
		case err != nil:
			logging.WithContext(ctx).Debug("no cached collection available", logging.Err(err))
		case len(cached) == 0:
			logging.WithContext(ctx).Debug("cached collection is empty")
		default:
			emittedLocal = true
			emit(Result{Records: cached, Origin: model.OriginCache})
		}

		res := r.fetchAndPersist(ctx)
		if res.Err != nil && emittedLocal {
			logging.WithContext(ctx).Debug("remote failure masked by cached emission", logging.Err(res.Err))
			return
		}
		emit(res)
	}, cb)
}

// Refresh fetches and persists the remote collection. The callback fires
// exactly once unless the repository is closed first.
func (r *Repository) Refresh(ctx context.Context, cb Callback) <-chan struct{} {
	return r.start(ctx, "refresh", func(ctx context.Context, emit Callback) {
		emit(r.fetchAndPersist(ctx))
	}, cb)
}

// LoadCached reads the cache store only. A read failure is reported as a
// KindStore error; an empty collection is a success.
func (r *Repository) LoadCached(ctx context.Context, cb Callback) <-chan struct{} {
	return r.start(ctx, "load_cached", func(ctx context.Context, emit Callback) {
		cached, err := r.store.ReadAll(ctx)
		if err != nil {
			emit(Result{Err: &Error{Kind: KindStore, Op: "read", Err: err}})
			return
		}
		emit(Result{Records: cached, Origin: model.OriginCache})
	}, cb)
}

// ClearCache removes the persisted collection. It goes through the writer
// queue and waits for the removal to finish.
func (r *Repository) ClearCache(ctx context.Context) error {
	if r.closed.Load() {
		return &Error{Kind: KindStore, Op: "clear", Err: ErrClosed}
	}
	var err error
	if !r.writer.Do(func() {
		err = r.store.Clear(context.WithoutCancel(ctx))
	}) {
		return &Error{Kind: KindStore, Op: "clear", Err: ErrClosed}
	}
	if err != nil {
		return &Error{Kind: KindStore, Op: "clear", Err: err}
	}
	logging.Debug("cleared cached collection", logging.Collection(r.collection))
	return nil
}

// Close invalidates outstanding calls and stops the writer queue once its
// pending writes have run. Close is idempotent.
func (r *Repository) Close() {
	r.once.Do(func() {
		r.closed.Store(true)
		r.gen.Add(1)
		if r.calls != nil {
			r.calls.Close()
		}
		r.writer.Close()
	})
}

// start runs body off the caller's goroutine. Emissions are dropped once the
// repository has been closed after the call was issued.
func (r *Repository) start(ctx context.Context, op string, body func(context.Context, Callback), cb Callback) <-chan struct{} {
	done := make(chan struct{})
	// gen must be read before closed; Close stores closed, then bumps gen.
	gen := r.gen.Load()
	if r.closed.Load() {
		close(done)
		return done
	}

	// Issued calls run to completion; cancellation of the caller's context
	// does not reach the collaborators.
	ctx = context.WithoutCancel(ctx)
	ctx = logging.NewContext(ctx, logging.With(
		logging.Collection(r.collection),
		logging.Operation(op),
	))

	run := func() {
		defer close(done)
		if r.gen.Load() != gen {
			return
		}
		defer logging.Timer(op)()

		ctx, span := r.tracer.Start(ctx, "repository."+op,
			trace.WithAttributes(attribute.String(logging.KeyCollection, r.collection)),
		)
		defer span.End()

		emissions := 0
		body(ctx, func(res Result) {
			if r.gen.Load() != gen {
				logging.Debug("dropping emission of invalidated call",
					logging.Operation(op),
					logging.Collection(r.collection),
				)
				return
			}
			emissions++
			if res.Err != nil {
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, res.Err.Error())
			}
			cb(res)
		})
		span.SetAttributes(attribute.Int("emissions", emissions))
	}

	if r.calls != nil {
		if !r.calls.Submit(run) {
			close(done)
		}
		return done
	}
	go run()
	return done
}

// fetchAndPersist fetches the remote collection and writes it to the store.
// The write outcome never changes the result.
func (r *Repository) fetchAndPersist(ctx context.Context) Result {
	ctx, span := r.tracer.Start(ctx, "repository.fetch_and_persist")
	defer span.End()

	records, err := r.remote.FetchAll(ctx)
	if err != nil {
		logging.WithContext(ctx).Warn("remote fetch failed", logging.Err(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Result{Err: &Error{Kind: KindNetwork, Op: "fetch", Err: err}}
	}
	span.SetAttributes(attribute.Int("records", len(records)))

	r.persist(ctx, records)
	return Result{Records: records, Origin: model.OriginRemote}
}

// persist writes records through the single writer and waits for the write.
func (r *Repository) persist(ctx context.Context, records []model.Record) {
	var err error
	accepted := r.writer.Do(func() {
		err = r.store.WriteAll(ctx, records)
	})
	switch {
	case !accepted:
		logging.WithContext(ctx).Debug("skipping cache write on closed repository")
	case err != nil:
		logging.WithContext(ctx).Warn("cache write failed; serving fetched collection anyway", logging.Err(err))
		trace.SpanFromContext(ctx).AddEvent("cache write failed",
			trace.WithAttributes(attribute.String(logging.KeyError, err.Error())),
		)
	default:
		logging.WithContext(ctx).Debug("persisted fetched collection",
			logging.Count(len(records)),
			slog.String(logging.KeyOrigin, string(model.OriginRemote)),
		)
	}
}
