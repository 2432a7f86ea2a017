package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauern/usersync/internal/dispatch"
	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/remote"
	"github.com/klauern/usersync/internal/repository"
	"github.com/klauern/usersync/internal/store"
)

const waitTimeout = 2 * time.Second

// scriptedRepo replays a fixed list of emissions for every call.
type scriptedRepo struct {
	results []repository.Result
	gate    chan struct{}
	// inline emits on the caller's goroutine instead of a new one.
	inline  bool
	emitter atomic.Uint64
}

func (s *scriptedRepo) play(cb repository.Callback) <-chan struct{} {
	done := make(chan struct{})
	run := func() {
		defer close(done)
		if s.gate != nil {
			<-s.gate
		}
		s.emitter.Store(dispatch.GoroutineID())
		for _, res := range s.results {
			cb(res)
		}
	}
	if s.inline {
		run()
	} else {
		go run()
	}
	return done
}

func (s *scriptedRepo) GetCachedThenSync(_ context.Context, cb repository.Callback) <-chan struct{} {
	return s.play(cb)
}

func (s *scriptedRepo) Refresh(_ context.Context, cb repository.Callback) <-chan struct{} {
	return s.play(cb)
}

func (s *scriptedRepo) LoadCached(_ context.Context, cb repository.Callback) <-chan struct{} {
	return s.play(cb)
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) callback(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func (c *collector) all() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("call did not complete")
	}
}

func sampleRecords() []model.Record {
	return []model.Record{
		{ID: 1, Name: "Ada", Age: 36, Location: "London", About: "math", ProfilePicURL: "https://example.com/a.jpg"},
		{ID: 2, Name: "Grace", Age: 45, Location: "NYC", About: "", ProfilePicURL: ""},
		{ID: 3, Name: "Linus", Age: 28, Location: "Helsinki", About: "kernels", ProfilePicURL: "not a url"},
	}
}

func TestMapPreservesRecords(t *testing.T) {
	res := Map(repository.Result{Records: sampleRecords(), Origin: model.OriginRemote})
	if res.Err != nil {
		t.Fatalf("Map() error = %v", res.Err)
	}
	if res.Origin != model.OriginRemote {
		t.Errorf("Origin = %s, want remote", res.Origin)
	}
	if len(res.Users) != 3 {
		t.Fatalf("got %d users, want 3", len(res.Users))
	}
	for i, r := range sampleRecords() {
		u := res.Users[i]
		if u.ID != r.ID || u.Name != r.Name || u.Age != r.Age || u.Location != r.Location || u.About != r.About {
			t.Errorf("user %d = %+v, record %+v", i, u, r)
		}
	}
	if got := res.Users[0].PictureURL(); got != "https://example.com/a.jpg" {
		t.Errorf("PictureURL() = %q", got)
	}
	if res.Users[1].ProfilePicURL != nil || res.Users[2].ProfilePicURL != nil {
		t.Error("empty or malformed picture references should map to nil")
	}
}

func TestMapEmptyCollection(t *testing.T) {
	res := Map(repository.Result{Records: nil, Origin: model.OriginCache})
	if res.Err != nil || res.Users == nil || len(res.Users) != 0 {
		t.Errorf("Map(nil) = %+v, want empty success", res)
	}
}

func TestMapRetagsErrors(t *testing.T) {
	cause := errors.New("boom")
	tests := map[string]struct {
		err  error
		want Kind
	}{
		"network":     {err: &repository.Error{Kind: repository.KindNetwork, Op: "fetch", Err: remote.ErrNetwork}, want: KindNetwork},
		"decode":      {err: &repository.Error{Kind: repository.KindDecode, Op: "fetch", Err: remote.ErrDecode}, want: KindDecode},
		"store":       {err: &repository.Error{Kind: repository.KindStore, Op: "read", Err: store.ErrLoad}, want: KindStore},
		"other kind":  {err: &repository.Error{Kind: repository.Kind("quota"), Err: cause}, want: KindUnknown},
		"plain error": {err: cause, want: KindUnknown},
		"wrapped":     {err: fmt.Errorf("outer: %w", &repository.Error{Kind: repository.KindNetwork}), want: KindNetwork},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			res := Map(repository.Result{Err: tt.err})
			if res.Users != nil {
				t.Error("failure should not carry users")
			}
			kind, ok := KindOf(res.Err)
			if !ok || kind != tt.want {
				t.Errorf("kind = %q (ok=%v), want %q", kind, ok, tt.want)
			}
			if !errors.Is(res.Err, tt.err) {
				t.Errorf("cause not preserved: %v", res.Err)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindNetwork, Err: errors.New("offline")}
	if err.Error() != "network error: offline" {
		t.Errorf("Error() = %q", err.Error())
	}
	if (&Error{Kind: KindUnknown}).Error() != "unknown error" {
		t.Errorf("Error() without cause = %q", (&Error{Kind: KindUnknown}).Error())
	}
}

func TestEmissionCountOrderAndOrigin(t *testing.T) {
	repo := &scriptedRepo{results: []repository.Result{
		{Records: sampleRecords()[:2], Origin: model.OriginCache},
		{Records: sampleRecords(), Origin: model.OriginRemote},
	}}
	uc := New(repo)
	defer uc.Close()

	calls := map[string]func(context.Context, Callback) <-chan struct{}{
		"cached then sync": uc.LoadUsersCachedThenSync,
		"refresh":          uc.RefreshUsers,
		"load cached":      uc.LoadCachedUsers,
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			var c collector
			wait(t, call(context.Background(), c.callback))

			got := c.all()
			if len(got) != 2 {
				t.Fatalf("got %d deliveries, want 2", len(got))
			}
			if got[0].Origin != model.OriginCache || len(got[0].Users) != 2 {
				t.Errorf("first delivery = %s/%d users", got[0].Origin, len(got[0].Users))
			}
			if got[1].Origin != model.OriginRemote || fmt.Sprint(model.UserIDs(got[1].Users)) != "[1 2 3]" {
				t.Errorf("second delivery = %s/%v", got[1].Origin, model.UserIDs(got[1].Users))
			}
		})
	}
}

func TestDefaultDeliveryContext(t *testing.T) {
	repo := &scriptedRepo{results: []repository.Result{
		{Records: sampleRecords(), Origin: model.OriginCache},
		{Err: &repository.Error{Kind: repository.KindNetwork}},
	}}
	uc := New(repo)
	defer uc.Close()

	var inContext, total atomic.Int32
	wait(t, uc.LoadUsersCachedThenSync(context.Background(), func(Result) {
		total.Add(1)
		if uc.Executor().InContext() {
			inContext.Add(1)
		}
	}))

	if total.Load() != 2 || inContext.Load() != 2 {
		t.Errorf("in-context deliveries = %d of %d, want 2 of 2", inContext.Load(), total.Load())
	}
}

func TestDeliveryHopsToDesignatedExecutor(t *testing.T) {
	main := dispatch.NewQueue("ui")
	defer main.Close()

	repo := &scriptedRepo{results: []repository.Result{
		{Records: sampleRecords(), Origin: model.OriginRemote},
	}}
	uc := New(repo, WithExecutor(main))
	defer uc.Close()

	var onMain atomic.Bool
	wait(t, uc.RefreshUsers(context.Background(), func(Result) {
		onMain.Store(main.InContext())
	}))

	if !onMain.Load() {
		t.Error("delivery did not run on the designated executor")
	}
	if repo.emitter.Load() == 0 {
		t.Fatal("repository never emitted")
	}
}

func TestDeliveryInContextIsSynchronous(t *testing.T) {
	main := dispatch.NewQueue("ui")
	defer main.Close()

	repo := &scriptedRepo{
		inline:  true,
		results: []repository.Result{{Records: sampleRecords(), Origin: model.OriginCache}},
	}
	uc := New(repo, WithExecutor(main))
	defer uc.Close()

	var deliveredBeforeReturn bool
	main.Do(func() {
		delivered := false
		uc.LoadCachedUsers(context.Background(), func(Result) {
			delivered = true
		})
		deliveredBeforeReturn = delivered
	})

	if !deliveredBeforeReturn {
		t.Error("emission produced on the designated context should be delivered synchronously")
	}
}

func TestClosedDesignatedExecutorStillCompletes(t *testing.T) {
	main := dispatch.NewQueue("ui")
	main.Close()

	repo := &scriptedRepo{results: []repository.Result{
		{Records: sampleRecords(), Origin: model.OriginRemote},
	}}
	uc := New(repo, WithExecutor(main))
	defer uc.Close()

	var c collector
	wait(t, uc.RefreshUsers(context.Background(), c.callback))

	if got := c.all(); len(got) != 0 {
		t.Errorf("got %d deliveries through a closed executor, want 0", len(got))
	}
}

func TestDeliveryDisabled(t *testing.T) {
	repo := &scriptedRepo{results: []repository.Result{
		{Records: sampleRecords(), Origin: model.OriginRemote},
	}}
	uc := New(repo, WithDelivery(false))
	defer uc.Close()

	var receiver atomic.Uint64
	wait(t, uc.RefreshUsers(context.Background(), func(Result) {
		receiver.Store(dispatch.GoroutineID())
	}))

	if receiver.Load() != repo.emitter.Load() {
		t.Errorf("delivered on goroutine %d, emitted on %d", receiver.Load(), repo.emitter.Load())
	}
}

func TestDeliveryPreservesOrder(t *testing.T) {
	var results []repository.Result
	for i := range 50 {
		results = append(results, repository.Result{
			Records: []model.Record{{ID: i}},
			Origin:  model.OriginRemote,
		})
	}
	uc := New(&scriptedRepo{results: results})
	defer uc.Close()

	var c collector
	wait(t, uc.RefreshUsers(context.Background(), c.callback))

	got := c.all()
	if len(got) != 50 {
		t.Fatalf("got %d deliveries, want 50", len(got))
	}
	for i, res := range got {
		if res.Users[0].ID != i {
			t.Fatalf("delivery %d carries id %d", i, res.Users[0].ID)
		}
	}
}

func TestCloseDropsDeliveries(t *testing.T) {
	repo := &scriptedRepo{
		gate:    make(chan struct{}),
		results: []repository.Result{{Records: sampleRecords(), Origin: model.OriginRemote}},
	}
	uc := New(repo)

	var c collector
	done := uc.RefreshUsers(context.Background(), c.callback)
	uc.Close()
	close(repo.gate)
	wait(t, done)

	if got := c.all(); len(got) != 0 {
		t.Errorf("got %d deliveries after Close, want 0", len(got))
	}

	var after collector
	wait(t, uc.LoadCachedUsers(context.Background(), after.callback))
	if got := after.all(); len(got) != 0 {
		t.Errorf("call issued after Close delivered %d results", len(got))
	}
	uc.Close()
}

func TestWithRepository(t *testing.T) {
	mem := store.NewMemory()
	if err := mem.WriteAll(context.Background(), sampleRecords()[:2]); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	src := remoteFunc(func(context.Context) ([]model.Record, error) {
		return sampleRecords(), nil
	})
	repo, err := repository.New(src, mem)
	if err != nil {
		t.Fatalf("repository.New() error = %v", err)
	}
	defer repo.Close()

	uc := New(repo)
	defer uc.Close()

	var c collector
	wait(t, uc.LoadUsersCachedThenSync(context.Background(), c.callback))

	got := c.all()
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(got))
	}
	if fmt.Sprint(model.UserIDs(got[0].Users)) != "[1 2]" || got[0].Origin != model.OriginCache {
		t.Errorf("first delivery = %s %v", got[0].Origin, model.UserIDs(got[0].Users))
	}
	if fmt.Sprint(model.UserIDs(got[1].Users)) != "[1 2 3]" || got[1].Origin != model.OriginRemote {
		t.Errorf("second delivery = %s %v", got[1].Origin, model.UserIDs(got[1].Users))
	}
}

type remoteFunc func(context.Context) ([]model.Record, error)

func (f remoteFunc) FetchAll(ctx context.Context) ([]model.Record, error) {
	return f(ctx)
}
