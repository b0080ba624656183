package dataset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/eduops/internal/metrics"
	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
)

func newLeads(backend source.Backend) *Dataset {
	return New(Config{
		View: "leads",
		Primary: &source.ServerFilteredFetch{
			Backend: backend, Collection: "leads", Allowed: []string{"status", "q"},
		},
		Secondary: []source.Fetcher{&source.SecondaryFetch{Backend: backend, Collection: "programs"}},
		Metrics:   metrics.New(),
	})
}

func seed() *source.Static {
	return source.NewStatic().
		Set("leads", "id",
			record.Raw{"id": "1", "name": "Ana", "status": "new"},
			record.Raw{"id": "2", "name": "Bo", "status": "enrolled"},
		).
		Set("programs", "id", record.Raw{"id": "p1", "name": "MBA"})
}

func TestSnapshotBeforeLoad(t *testing.T) {
	d := newLeads(seed())
	s := d.Snapshot()
	assert.Zero(t, s.Epoch)
	assert.Empty(t, s.Primary)
	assert.NotNil(t, s.Primary)
	assert.False(t, s.Loaded("leads"))
}

func TestLoad(t *testing.T) {
	d := newLeads(seed())
	id, err := d.Load(context.Background(), source.Params{"status": "new"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	s := d.Snapshot()
	assert.True(t, s.Settled)
	assert.True(t, s.Loaded("leads"))
	assert.True(t, s.Loaded("programs"))
	require.Len(t, s.Primary, 1)
	assert.Equal(t, "Ana", s.Primary[0].String("name"))
	assert.Equal(t, "MBA", s.Lookup("programs", "id")["p1"].String("name"))
}

func TestSecondaryFailureIsPartial(t *testing.T) {
	backend := seed()
	backend.Fail("programs", errors.New("boom"))
	d := newLeads(backend)

	_, err := d.Load(context.Background(), nil)
	require.NoError(t, err)

	s := d.Snapshot()
	assert.Len(t, s.Primary, 2)
	assert.Equal(t, StateFailed, s.States["programs"])
	assert.Empty(t, s.Lookup("programs", "id"))
	var fe *source.FetchError
	require.ErrorAs(t, s.Errors["programs"], &fe)
	assert.Equal(t, "programs", fe.Source)
}

func TestPrimaryFailureReturned(t *testing.T) {
	backend := seed()
	backend.Fail("leads", errors.New("down"))
	d := newLeads(backend)

	_, err := d.Load(context.Background(), nil)
	require.Error(t, err)
	s := d.Snapshot()
	assert.Equal(t, StateFailed, s.States["leads"])
	assert.True(t, s.Loaded("programs"))
}

func TestLateResultDropped(t *testing.T) {
	backend := seed()
	release := make(chan struct{})
	var first atomic.Bool
	backend.Before = func(_ context.Context, collection, _ string) {
		if collection == "leads" && first.CompareAndSwap(false, true) {
			<-release
		}
	}
	d := newLeads(backend)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Load(context.Background(), source.Params{"status": "new"})
	}()
	// Wait for the first epoch to begin before superseding it.
	require.Eventually(t, func() bool { return d.Epoch() == 1 }, timeout, tick)

	id, err := d.Load(context.Background(), source.Params{"status": "enrolled"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	close(release)
	wg.Wait()

	s := d.Snapshot()
	assert.Equal(t, uint64(2), s.Epoch)
	require.Len(t, s.Primary, 1)
	assert.Equal(t, "Bo", s.Primary[0].String("name"))
}

func TestConcurrentLoadsCoalesce(t *testing.T) {
	backend := seed()
	release := make(chan struct{})
	backend.Before = func(_ context.Context, collection, _ string) {
		if collection == "leads" {
			<-release
		}
	}
	d := newLeads(backend)

	var wg, started sync.WaitGroup
	ids := make([]uint64, 3)
	for i := range ids {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			ids[i], _ = d.Load(context.Background(), source.Params{"q": "a"})
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return d.Epoch() == 1 }, timeout, tick)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, backend.Calls("leads"))
	assert.Equal(t, uint64(1), d.Epoch())
	for _, id := range ids {
		assert.Equal(t, uint64(1), id)
	}
}

func TestEnsureReusesMatchingEpoch(t *testing.T) {
	backend := seed()
	d := newLeads(backend)
	ctx := context.Background()

	_, err := d.Ensure(ctx, source.Params{"status": "new"})
	require.NoError(t, err)
	_, err = d.Ensure(ctx, source.Params{"status": "new"})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.Calls("leads"))

	s, err := d.Ensure(ctx, source.Params{"status": "enrolled"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Epoch)
	assert.Equal(t, 2, backend.Calls("leads"))
}

func TestRefreshKeepsParamsAndResetsDetails(t *testing.T) {
	backend := seed()
	d := newLeads(backend)
	ctx := context.Background()

	id, err := d.Load(ctx, source.Params{"status": "new"})
	require.NoError(t, err)

	get := func(ctx context.Context, key string) (record.Raw, error) {
		return backend.GetDetail(ctx, "leads", key)
	}
	res, err := d.LoadDetails(ctx, id, []string{"1", "1", "9"}, get)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requested)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, 1, res.Missed)
	assert.True(t, d.Claimed("9"))
	assert.NotNil(t, d.Snapshot().Detail("1"))

	res, err = d.LoadDetails(ctx, id, []string{"1"}, get)
	require.NoError(t, err)
	assert.Zero(t, res.Requested)

	id2, err := d.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, "status=new", d.Snapshot().Params.Signature())
	assert.False(t, d.Claimed("1"))
	assert.Nil(t, d.Snapshot().Detail("1"))

	_, err = d.LoadDetails(ctx, id, []string{"1"}, get)
	assert.ErrorIs(t, err, ErrStaleEpoch)
}

func TestEvents(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []string
	)
	backend := seed()
	backend.Fail("programs", errors.New("boom"))
	d := New(Config{
		View:      "leads",
		Primary:   &source.ClientFilteredFetch{Backend: backend, Collection: "leads"},
		Secondary: []source.Fetcher{&source.SecondaryFetch{Backend: backend, Collection: "programs"}},
		OnEvent: func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			kinds = append(kinds, ev.Kind)
		},
	})
	_, err := d.Load(context.Background(), nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, kinds, 3)
	assert.Equal(t, EventEpochStarted, kinds[0])
	assert.ElementsMatch(t, []string{EventSourceLoaded, EventSourceFailed}, kinds[1:])
}

func TestEnsureDoesNotReturnAnotherParamsEpoch(t *testing.T) {
	backend := seed()
	release := make(chan struct{})
	var first atomic.Bool
	backend.Before = func(_ context.Context, collection, _ string) {
		if collection == "leads" && first.CompareAndSwap(false, true) {
			<-release
		}
	}
	d := newLeads(backend)

	var (
		wg   sync.WaitGroup
		snap Snapshot
		err  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		snap, err = d.Ensure(context.Background(), source.Params{"status": "new"})
	}()
	require.Eventually(t, func() bool { return d.Epoch() == 1 }, timeout, tick)

	other, otherErr := d.Ensure(context.Background(), source.Params{"status": "enrolled"})
	require.NoError(t, otherErr)
	require.Len(t, other.Primary, 1)
	assert.Equal(t, "Bo", other.Primary[0].String("name"))

	close(release)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, "status=new", snap.Params.Signature())
	assert.Empty(t, snap.Primary)
	assert.Equal(t, StatePending, snap.States["leads"])
	assert.False(t, snap.Loaded("leads"))
	assert.False(t, snap.Settled)
}

func TestRefreshDuringLoadStartsNewEpoch(t *testing.T) {
	backend := seed()
	release := make(chan struct{})
	var first atomic.Bool
	backend.Before = func(_ context.Context, collection, _ string) {
		if collection == "leads" && first.CompareAndSwap(false, true) {
			<-release
		}
	}
	d := newLeads(backend)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Load(context.Background(), source.Params{"status": "new"})
	}()
	require.Eventually(t, func() bool { return d.Epoch() == 1 }, timeout, tick)

	id, err := d.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
	assert.Equal(t, 2, backend.Calls("leads"))

	close(release)
	wg.Wait()

	s := d.Snapshot()
	assert.Equal(t, uint64(2), s.Epoch)
	assert.Equal(t, "status=new", s.Params.Signature())
	assert.True(t, s.Loaded("leads"))
}
