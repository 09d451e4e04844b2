// Package watcher detects external edits to the configuration file by
// polling its modification time and size. Changes the owner announced
// in advance through a write token are ignored, so the system never
// reloads in response to its own writes.
package watcher

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/arca/pkg/location"
)

// DefaultInterval is the poll period used when no option overrides it.
const DefaultInterval = 500 * time.Millisecond

// State describes the watcher lifecycle.
type State int32

const (
	// StateDormant means the watcher was created but never started.
	StateDormant State = iota

	// StateWatching means the poll loop is running.
	StateWatching

	// StateStopped means the poll loop was halted. Start rearms it.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDormant:
		return "dormant"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Resolver supplies the watched location. It is consulted on every
// tick because environment changes can move the file at runtime.
type Resolver interface {
	Resolve() location.Location
}

// ReloadFunc is invoked when an external edit is detected.
type ReloadFunc func() error

// Snapshot is the last observed file metadata. A zero Snapshot means
// the file has not been seen yet.
type Snapshot struct {
	ModTime time.Time
	Size    int64
	Exists  bool
}

func (s Snapshot) equal(other Snapshot) bool {
	return s.Exists == other.Exists &&
		s.Size == other.Size &&
		s.ModTime.Equal(other.ModTime)
}

// Watcher polls a single configuration file. All mutation of its state
// happens under one mutex; the poll loop runs on its own goroutine and
// never blocks the owner's operations.
type Watcher struct {
	resolver Resolver
	reload   ReloadFunc
	interval time.Duration

	mu       sync.Mutex
	state    State
	snapshot Snapshot
	token    string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// New creates a dormant watcher. The resolver is queried on every tick
// for the file to observe; reload runs whenever an unannounced change
// is detected.
func New(resolver Resolver, reload ReloadFunc, opts ...Option) *Watcher {
	w := &Watcher{
		resolver: resolver,
		reload:   reload,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start arms the poll loop. The current file metadata is recorded as
// the comparison baseline before the first tick, and any stale token
// from a previous run is discarded. Starting a watching watcher is a
// no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.state == StateWatching {
		w.mu.Unlock()
		return
	}
	snapshot, path := w.observe()
	w.snapshot = snapshot
	w.token = ""
	w.state = StateWatching
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop()

	logger.Debugw("File watcher started", "path", path, "interval", w.interval.String())
}

// Stop halts the poll loop and waits for it to exit. The watcher can
// be rearmed with Start, which establishes a fresh baseline.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != StateWatching {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.state = StateStopped
	w.mu.Unlock()

	w.wg.Wait()
	logger.Debugw("File watcher stopped")
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Snapshot returns the last observed file metadata.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot
}

// Interval returns the poll period.
func (w *Watcher) Interval() time.Duration {
	return w.interval
}

// RegisterWrite announces the owner's next disk write. The token slot
// holds a single value; the next observed change consumes it and is
// suppressed instead of triggering a reload. Two writes inside one
// poll interval share the slot, so they are disambiguated only to the
// granularity of that interval.
func (w *Watcher) RegisterWrite(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.token = token
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// observe resolves the current file path and stats it. A missing file
// or stat failure yields a zero snapshot.
func (w *Watcher) observe() (Snapshot, string) {
	if w.resolver == nil {
		return Snapshot{}, ""
	}
	path := w.resolver.Resolve().Path()
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnw("Cannot stat configuration file", "path", path, "error", err)
		}
		return Snapshot{}, path
	}
	return Snapshot{ModTime: info.ModTime(), Size: info.Size(), Exists: true}, path
}

func (w *Watcher) tick() {
	current, path := w.observe()
	if !current.Exists {
		// Nothing to compare against. The previous snapshot is kept so a
		// transient gap during an atomic replace is not itself a change;
		// the replacement's metadata decides on a later tick.
		return
	}

	w.mu.Lock()
	if current.equal(w.snapshot) {
		w.mu.Unlock()
		return
	}
	w.snapshot = current
	token := w.token
	w.token = ""
	w.mu.Unlock()

	if token != "" {
		logger.Debugw("Suppressed self-inflicted file change", "path", path, "token", token)
		return
	}

	logger.Infow("External configuration change detected", "path", path)
	if w.reload == nil {
		return
	}
	if err := w.reload(); err != nil {
		logger.Errorw("Reload after external change failed", "path", path, "error", err)
	}
}
