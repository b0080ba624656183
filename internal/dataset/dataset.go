// Package dataset owns the fetched state of one list view.
//
// Every load starts a new epoch. Sources of an epoch are fetched
// concurrently and applied as they arrive; a result that arrives after its
// epoch has been superseded is dropped. Readers take snapshots, which may be
// partial while sources are still pending.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/eduops/internal/detail"
	"github.com/starford/eduops/internal/metrics"
	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
)

// State is the load state of one source within an epoch.
type State string

// Source states.
const (
	StatePending State = "pending"
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
)

// Event kinds.
const (
	EventEpochStarted  = "epoch.started"
	EventSourceLoaded  = "source.loaded"
	EventSourceFailed  = "source.failed"
	EventDetailsLoaded = "details.loaded"
)

// Event reports a change of dataset state.
type Event struct {
	Kind   string
	View   string
	Source string
	Epoch  uint64
	Err    error
}

// Config describes the sources of a dataset.
type Config struct {
	View      string
	Primary   source.Fetcher
	Secondary []source.Fetcher
	// DetailBatchSize is the wave width for detail look-ups.
	DetailBatchSize int
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	// OnEvent, when set, is called after every state change. It must not
	// block.
	OnEvent func(Event)
}

type epoch struct {
	id          uint64
	params      source.Params
	sig         string
	collections map[string][]record.Raw
	states      map[string]State
	errs        map[string]error
	details     *detail.Cache
	settled     chan struct{}
}

// Dataset is the per-view state container.
type Dataset struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.RWMutex
	seq uint64
	cur *epoch

	loads singleflight.Group
}

// New creates an empty dataset. Nothing is fetched until Load or Ensure.
func New(cfg Config) *Dataset {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dataset{cfg: cfg, logger: logger.With(slog.String("view", cfg.View))}
}

// Snapshot is an immutable view of one epoch. Callers must not modify the
// record slices.
type Snapshot struct {
	Epoch   uint64
	Params  source.Params
	Primary []record.Raw
	// Collections holds every loaded source by name, primary included.
	Collections map[string][]record.Raw
	States      map[string]State
	Errors      map[string]error
	Details     map[string]record.Raw
	Settled     bool
}

// Loaded reports whether the named source has resolved successfully.
func (s Snapshot) Loaded(name string) bool { return s.States[name] == StateLoaded }

// Collection returns the records of a source, empty while it is pending or
// after it failed.
func (s Snapshot) Collection(name string) []record.Raw {
	if recs, ok := s.Collections[name]; ok {
		return recs
	}
	return []record.Raw{}
}

// Lookup indexes a secondary source by field. A pending or failed source
// yields an empty map, exactly like a lookup miss.
func (s Snapshot) Lookup(name, field string) map[string]record.Raw {
	return record.Index(s.Collection(name), field)
}

// Detail returns the detail record for key, or nil.
func (s Snapshot) Detail(key string) record.Raw {
	return s.Details[key]
}

// PrimaryName returns the name of the primary source.
func (d *Dataset) PrimaryName() string { return d.cfg.Primary.Name() }

// Epoch returns the current epoch id, 0 before the first load.
func (d *Dataset) Epoch() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cur == nil {
		return 0
	}
	return d.cur.id
}

// Snapshot returns the current state. Before the first load the snapshot is
// empty with Epoch 0.
func (d *Dataset) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

func (d *Dataset) snapshotLocked() Snapshot {
	ep := d.cur
	if ep == nil {
		return Snapshot{
			Primary:     []record.Raw{},
			Collections: map[string][]record.Raw{},
			States:      map[string]State{},
			Errors:      map[string]error{},
			Details:     map[string]record.Raw{},
		}
	}
	s := Snapshot{
		Epoch:       ep.id,
		Params:      ep.params,
		Collections: make(map[string][]record.Raw, len(ep.collections)),
		States:      make(map[string]State, len(ep.states)),
		Errors:      make(map[string]error, len(ep.errs)),
		Details:     ep.details.Snapshot(),
	}
	for k, v := range ep.collections {
		s.Collections[k] = v
	}
	for k, v := range ep.states {
		s.States[k] = v
	}
	for k, v := range ep.errs {
		s.Errors[k] = v
	}
	s.Primary = s.Collection(d.cfg.Primary.Name())
	select {
	case <-ep.settled:
		s.Settled = true
	default:
	}
	return s
}

func (d *Dataset) fetchers() []source.Fetcher {
	return append([]source.Fetcher{d.cfg.Primary}, d.cfg.Secondary...)
}

// Load starts a new epoch with params and waits until every source has
// settled. Concurrent loads with the same params share one epoch. The
// returned error is the primary source's failure, if any; secondary
// failures are reported through the snapshot and events only.
func (d *Dataset) Load(ctx context.Context, params source.Params) (uint64, error) {
	if params == nil {
		params = source.Params{}
	}
	v, err, _ := d.loads.Do(params.Signature(), func() (any, error) {
		// The shared load must outlive the first caller's request.
		return d.load(context.WithoutCancel(ctx), params)
	})
	id, _ := v.(uint64)
	return id, err
}

// Refresh starts a new epoch with the current params, even while a load
// with the same params is in flight. Caches of the previous epoch, the
// detail de-duplication set included, are discarded.
func (d *Dataset) Refresh(ctx context.Context) (uint64, error) {
	d.mu.RLock()
	params := source.Params{}
	if d.cur != nil {
		params = d.cur.params
	}
	d.mu.RUnlock()
	return d.load(context.WithoutCancel(ctx), params)
}

// Ensure loads the dataset if nothing is loaded yet or params select a
// different server-side result set, and returns the snapshot for params.
// An epoch still in flight is not waited for. When a load with other
// params supersedes this one, the returned snapshot has every source
// pending: the records of the current epoch belong to another result set.
func (d *Dataset) Ensure(ctx context.Context, params source.Params) (Snapshot, error) {
	if params == nil {
		params = source.Params{}
	}
	sig := params.Signature()
	d.mu.RLock()
	fresh := d.cur != nil && d.cur.sig == sig
	d.mu.RUnlock()

	var err error
	if !fresh {
		_, err = d.Load(ctx, params)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cur == nil || d.cur.sig != sig {
		return d.pendingLocked(params), nil
	}
	return d.snapshotLocked(), err
}

// pendingLocked returns a snapshot for params with every source pending.
func (d *Dataset) pendingLocked(params source.Params) Snapshot {
	s := Snapshot{
		Params:      params,
		Primary:     []record.Raw{},
		Collections: map[string][]record.Raw{},
		States:      map[string]State{},
		Errors:      map[string]error{},
		Details:     map[string]record.Raw{},
	}
	if d.cur != nil {
		s.Epoch = d.cur.id
	}
	for _, f := range d.fetchers() {
		s.States[f.Name()] = StatePending
	}
	return s
}

func (d *Dataset) begin(params source.Params) *epoch {
	d.mu.Lock()
	d.seq++
	ep := &epoch{
		id:          d.seq,
		params:      params,
		sig:         params.Signature(),
		collections: map[string][]record.Raw{},
		states:      map[string]State{},
		errs:        map[string]error{},
		details:     detail.NewCache(),
		settled:     make(chan struct{}),
	}
	for _, f := range d.fetchers() {
		ep.states[f.Name()] = StatePending
	}
	d.cur = ep
	d.mu.Unlock()

	d.cfg.Metrics.IncEpoch(d.cfg.View)
	d.logger.Info("dataset: epoch started", slog.Uint64("epoch", ep.id), slog.String("params", ep.sig))
	d.emit(Event{Kind: EventEpochStarted, View: d.cfg.View, Epoch: ep.id})
	return ep
}

func (d *Dataset) load(ctx context.Context, params source.Params) (uint64, error) {
	ep := d.begin(params)
	defer close(ep.settled)

	var (
		g          errgroup.Group
		primaryErr error
	)
	for _, f := range d.fetchers() {
		g.Go(func() error {
			start := time.Now()
			recs, err := f.Fetch(ctx, params)
			d.cfg.Metrics.ObserveFetch(d.cfg.View, f.Name(), time.Since(start), err)
			applied := d.apply(ep.id, f.Name(), recs, err)
			if err != nil && applied && f == d.cfg.Primary {
				primaryErr = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return ep.id, primaryErr
}

// apply stores a fetch result if its epoch is still current and reports
// whether it did.
func (d *Dataset) apply(id uint64, name string, recs []record.Raw, err error) bool {
	d.mu.Lock()
	if d.cur == nil || d.cur.id != id {
		d.mu.Unlock()
		d.cfg.Metrics.IncLateDropped(d.cfg.View, name)
		d.logger.Debug("dataset: dropped late result", slog.String("source", name), slog.Uint64("epoch", id))
		return false
	}
	ev := Event{View: d.cfg.View, Source: name, Epoch: id}
	if err != nil {
		d.cur.states[name] = StateFailed
		d.cur.errs[name] = err
		ev.Kind, ev.Err = EventSourceFailed, err
	} else {
		if recs == nil {
			recs = []record.Raw{}
		}
		d.cur.collections[name] = recs
		d.cur.states[name] = StateLoaded
		ev.Kind = EventSourceLoaded
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("dataset: source failed", slog.String("source", name), slog.Uint64("epoch", id), slog.String("error", err.Error()))
	} else {
		d.logger.Debug("dataset: source loaded", slog.String("source", name), slog.Uint64("epoch", id), slog.Int("records", len(recs)))
	}
	d.emit(ev)
	return true
}

// ErrStaleEpoch is returned by LoadDetails when the epoch was superseded.
var ErrStaleEpoch = errors.New("dataset: stale epoch")

// LoadDetails looks up details for keys within epoch id using get. Keys
// already claimed in the epoch are skipped. Waves stop as soon as the epoch
// is superseded.
func (d *Dataset) LoadDetails(ctx context.Context, id uint64, keys []string, get detail.Getter) (detail.Result, error) {
	d.mu.RLock()
	ep := d.cur
	d.mu.RUnlock()
	if ep == nil || ep.id != id {
		return detail.Result{}, fmt.Errorf("%w: %d", ErrStaleEpoch, id)
	}

	res := detail.Fetch(context.WithoutCancel(ctx), ep.details, keys, get, detail.Options{
		BatchSize: d.cfg.DetailBatchSize,
		Alive:     func() bool { return d.Epoch() == id },
		OnError: func(key string, err error) {
			d.logger.Warn("dataset: detail lookup failed",
				slog.String("key", key), slog.Uint64("epoch", id), slog.String("error", err.Error()))
		},
	})
	d.cfg.Metrics.AddDetails(d.cfg.View, res.Found, res.Missed, res.Failed)
	if res.Requested > 0 && d.Epoch() == id {
		d.emit(Event{Kind: EventDetailsLoaded, View: d.cfg.View, Epoch: id})
	}
	return res, nil
}

// Claimed reports whether key was already claimed for detail look-up in
// the current epoch.
func (d *Dataset) Claimed(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur != nil && d.cur.details.Claimed(key)
}

func (d *Dataset) emit(ev Event) {
	if d.cfg.OnEvent != nil {
		d.cfg.OnEvent(ev)
	}
}
