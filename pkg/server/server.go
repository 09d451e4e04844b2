// Package server hosts the authoritative configuration tree behind a
// single-writer lock. Puts and deletes re-read the on-disk file before
// merging, so external edits made between operations are never
// clobbered. Every disk write is announced to the file watcher through
// a single-slot token, and notification fan-out runs on worker pools
// after the caller's response, so slow subscribers never delay a
// writer.
package server

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	"github.com/kart-io/arca/pkg/cache"
	"github.com/kart-io/arca/pkg/infra/pool"
	"github.com/kart-io/arca/pkg/keypath"
	"github.com/kart-io/arca/pkg/location"
	"github.com/kart-io/arca/pkg/override"
	"github.com/kart-io/arca/pkg/registry"
	"github.com/kart-io/arca/pkg/tree"
	"github.com/kart-io/arca/pkg/utils/json"
	"github.com/kart-io/arca/pkg/watcher"
)

// Server owns the in-memory configuration tree and the on-disk file.
// It is the only writer of both; the cache and the registries are
// populated exclusively through it.
type Server struct {
	resolver     *location.Resolver
	cache        *cache.PathCache
	subs         *registry.SubscriptionRegistry
	callbacks    *registry.CallbackRegistry
	watcher      *watcher.Watcher
	dispatch     *pool.Pool
	callbackPool *pool.Pool

	mu      sync.RWMutex
	tree    map[string]any
	loaded  bool
	entropy *ulid.MonotonicEntropy

	closed atomic.Bool
}

type options struct {
	dir          string
	file         string
	pollInterval time.Duration
	cacheOff     bool
}

// Option configures a Server.
type Option func(*options)

// WithLocation statically configures the directory and file name.
// Either value may be empty to keep the resolver default. Environment
// variables still outrank both.
func WithLocation(dir, file string) Option {
	return func(o *options) {
		o.dir = dir
		o.file = file
	}
}

// WithPollInterval sets the file watcher poll period.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithoutCache disables the fast-path cache. Lookups then always
// resolve against the in-memory tree.
func WithoutCache() Option {
	return func(o *options) {
		o.cacheOff = true
	}
}

// New creates a Server for the given configuration domain. The tree is
// loaded lazily on first use; the file watcher stays dormant until
// StartWatching.
func New(domain string, opts ...Option) (*Server, error) {
	o := &options{pollInterval: watcher.DefaultInterval}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		resolver:  location.NewResolver(domain, location.WithDir(o.dir), location.WithFile(o.file)),
		subs:      registry.NewSubscriptionRegistry(),
		callbacks: registry.NewCallbackRegistry(),
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
	if !o.cacheOff {
		s.cache = cache.New()
	}

	dispatch, err := pool.New(s.resolver.Domain()+"-dispatch", pool.DispatchPool, pool.DispatchConfig())
	if err != nil {
		return nil, err
	}
	callbackPool, err := pool.New(s.resolver.Domain()+"-callback", pool.CallbackPool, pool.CallbackConfig())
	if err != nil {
		dispatch.Release()
		return nil, err
	}
	s.dispatch = dispatch
	s.callbackPool = callbackPool
	s.watcher = watcher.New(s.resolver, s.externalReload, watcher.WithInterval(o.pollInterval))

	logger.Debugw("Configuration server ready",
		"domain", s.resolver.Domain(),
		"location", s.resolver.Resolve().Path(),
	)
	return s, nil
}

// Domain returns the configuration domain name.
func (s *Server) Domain() string {
	return s.resolver.Domain()
}

// EnvPrefix returns the prefix of the environment variables the server
// honors for location and value overrides.
func (s *Server) EnvPrefix() string {
	return s.resolver.EnvPrefix()
}

// Location returns the currently resolved file location.
func (s *Server) Location() location.Location {
	return s.resolver.Resolve()
}

// Get returns the value at path. The cache is consulted first; on a
// miss the in-memory tree answers, loading the file on first use. The
// returned value is a deep copy.
func (s *Server) Get(path keypath.Path) (any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if path.IsZero() {
		return nil, ErrEmptyPath
	}

	if v, ok := s.cache.Get(path); ok {
		return v, nil
	}

	s.mu.RLock()
	if s.loaded {
		v, ok := tree.Get(s.tree, path)
		if !ok {
			s.mu.RUnlock()
			return nil, notFound(path)
		}
		s.cacheBranchLocked(path)
		s.mu.RUnlock()
		return tree.CloneValue(v), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	v, ok := tree.Get(s.tree, path)
	if !ok {
		return nil, notFound(path)
	}
	s.cacheBranchLocked(path)
	return tree.CloneValue(v), nil
}

// Put stores value at path. The on-disk file is re-read first so an
// external edit between operations survives the merge; intermediate
// maps are created as needed and a non-map value in the way is
// replaced by the new nested shape. The merged tree is persisted,
// swapped in, and reflected in the cache before Put returns; the
// notifications for path and its still-resolving ancestors are
// dispatched asynchronously afterwards. Returns the stored value.
func (s *Server) Put(path keypath.Path, value any) (any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if path.IsZero() {
		return nil, ErrEmptyPath
	}

	s.mu.Lock()
	filePath := s.resolver.Resolve().Path()
	fresh, err := s.loadFile(filePath)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	stored := tree.CloneValue(value)
	tree.Set(fresh, path, stored)

	token := s.nextTokenLocked()
	s.watcher.RegisterWrite(token)
	if err := s.persist(filePath, fresh); err != nil {
		// Clear the unused token so the next external change is not
		// mistaken for this failed write.
		s.watcher.RegisterWrite("")
		s.mu.Unlock()
		return nil, err
	}

	s.tree = fresh
	s.loaded = true
	s.cache.Invalidate(path)
	s.cacheBranchLocked(path)
	s.dispatchBranchLocked(path)
	s.mu.Unlock()

	logger.Debugw("Configuration value stored", "path", path.String(), "token", token)
	return tree.CloneValue(stored), nil
}

// Delete removes the value at path, pruning parent maps it empties up
// to but not including the root. Same re-read discipline as Put. The
// deleted path's cache subtree is invalidated and ancestors are
// notified. Deleting an absent path reports ErrNotFound.
func (s *Server) Delete(path keypath.Path) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if path.IsZero() {
		return ErrEmptyPath
	}

	s.mu.Lock()
	filePath := s.resolver.Resolve().Path()
	fresh, err := s.loadFile(filePath)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !tree.Delete(fresh, path) {
		s.mu.Unlock()
		return notFound(path)
	}

	token := s.nextTokenLocked()
	s.watcher.RegisterWrite(token)
	if err := s.persist(filePath, fresh); err != nil {
		s.watcher.RegisterWrite("")
		s.mu.Unlock()
		return err
	}

	s.tree = fresh
	s.loaded = true
	s.cache.Invalidate(path)
	for _, p := range path.Ancestors() {
		if v, ok := tree.Get(s.tree, p); ok {
			s.cache.Set(p, v)
		} else {
			// The ancestor was pruned away with the deleted leaf.
			s.cache.Invalidate(p)
		}
	}
	s.dispatchBranchLocked(path)
	s.mu.Unlock()

	logger.Debugw("Configuration value deleted", "path", path.String(), "token", token)
	return nil
}

// Reload discards the in-memory state, re-reads and re-parses the
// file, rebuilds the cache, and fires the whole-tree callbacks. On I/O
// or parse failure the tree resets to empty rather than staying
// partially populated, and the error is returned. The returned tree is
// a deep copy.
func (s *Server) Reload() (map[string]any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	filePath := s.resolver.Resolve().Path()
	fresh, err := s.loadFile(filePath)
	if err != nil {
		s.tree = map[string]any{}
		s.loaded = true
		s.cache.Clear()
		s.mu.Unlock()
		logger.Errorw("Configuration reload failed", "path", filePath, "error", err)
		return nil, err
	}

	s.tree = fresh
	s.loaded = true
	s.rebuildCacheLocked()
	s.submitCallbacksLocked(tree.Clone(s.tree))
	s.mu.Unlock()

	logger.Infow("Configuration reloaded", "path", filePath, "keys", len(fresh))
	return tree.Clone(fresh), nil
}

// Tree returns a deep copy of the whole configuration tree, loading
// the file on first use.
func (s *Server) Tree() (map[string]any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return tree.Clone(s.tree), nil
}

// SwitchLocation redirects the server to a different configuration
// file at runtime. Empty arguments keep the corresponding current
// value. The watcher is halted during the move and rearmed with a
// fresh baseline afterwards if it was running; the cache and tree are
// rebuilt from the new file. Returns the previous location together
// with any reload error from the new one.
func (s *Server) SwitchLocation(dir, file string) (location.Location, error) {
	if s.closed.Load() {
		return location.Location{}, ErrClosed
	}

	wasWatching := s.watcher.State() == watcher.StateWatching
	// Stop outside the lock: an in-flight tick may be blocked in
	// Reload waiting for it.
	s.watcher.Stop()

	s.mu.Lock()
	previous := s.resolver.Switch(dir, file)
	s.tree = map[string]any{}
	s.loaded = false
	s.cache.Clear()
	s.mu.Unlock()

	_, err := s.Reload()
	if wasWatching {
		s.watcher.Start()
	}

	logger.Infow("Configuration location switched",
		"previous", previous.Path(),
		"current", s.resolver.Resolve().Path(),
	)
	return previous, err
}

// Subscribe registers a listener for changes at exactly path. The
// returned subscription's channel receives (path, value) events with
// the given buffer capacity. Returns nil for a zero path or a closed
// server.
func (s *Server) Subscribe(path keypath.Path, buffer int) *registry.Subscription {
	if s.closed.Load() || path.IsZero() {
		return nil
	}
	return s.subs.Subscribe(path, buffer)
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Server) Unsubscribe(sub *registry.Subscription) {
	s.subs.Unsubscribe(sub)
}

// RegisterCallback adds a named whole-tree callback fired on every
// reload. A duplicate name replaces the previous callback.
func (s *Server) RegisterCallback(name string, fn registry.TreeCallback) {
	if s.closed.Load() {
		return
	}
	s.callbacks.Register(name, fn)
}

// UnregisterCallback removes a named callback.
func (s *Server) UnregisterCallback(name string) bool {
	return s.callbacks.Unregister(name)
}

// OnChange adds a zero-argument callback fired on every reload. The
// returned handle is the only way to remove it.
func (s *Server) OnChange(fn func()) *registry.Handle {
	if s.closed.Load() {
		return nil
	}
	return s.callbacks.Add(fn)
}

// RemoveOnChange removes a callback added with OnChange.
func (s *Server) RemoveOnChange(h *registry.Handle) bool {
	return s.callbacks.Remove(h)
}

// ApplyEnvOverrides applies <PREFIX>_CONFIG_OVERRIDE_* environment
// values as Puts and returns the paths written. Failures are logged
// and skipped so one bad variable cannot block the rest.
func (s *Server) ApplyEnvOverrides() []keypath.Path {
	if s.closed.Load() {
		return nil
	}
	overrides := override.Scan(s.resolver.EnvPrefix())
	applied := make([]keypath.Path, 0, len(overrides))
	for _, o := range overrides {
		if _, err := s.Put(o.Path, o.Value); err != nil {
			logger.Warnw("Environment override not applied", "path", o.Path.String(), "error", err)
			continue
		}
		applied = append(applied, o.Path)
	}
	if len(applied) > 0 {
		logger.Infow("Environment overrides applied", "count", len(applied))
	}
	return applied
}

// StartWatching arms the external-change poller.
func (s *Server) StartWatching() {
	if s.closed.Load() {
		return
	}
	s.watcher.Start()
}

// StopWatching halts the external-change poller. StartWatching rearms
// it.
func (s *Server) StopWatching() {
	s.watcher.Stop()
}

// WatcherState reports the poller lifecycle state.
func (s *Server) WatcherState() watcher.State {
	return s.watcher.State()
}

// Close stops the watcher, drains the notification pools, and closes
// every subscriber channel. Further operations report ErrClosed.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.watcher.Stop()
	if err := s.dispatch.ReleaseTimeout(5 * time.Second); err != nil {
		logger.Warnw("Dispatch pool release timed out", "error", err)
	}
	if err := s.callbackPool.ReleaseTimeout(5 * time.Second); err != nil {
		logger.Warnw("Callback pool release timed out", "error", err)
	}
	s.subs.Close()
	logger.Debugw("Configuration server closed", "domain", s.resolver.Domain())
}

// externalReload is the watcher's hook for unannounced file changes.
func (s *Server) externalReload() error {
	_, err := s.Reload()
	return err
}

// ensureLoadedLocked performs the lazy first load. A failed load
// leaves an empty but loaded tree and returns the error; later calls
// do not retry. Caller holds s.mu for writing.
func (s *Server) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	filePath := s.resolver.Resolve().Path()
	fresh, err := s.loadFile(filePath)
	if err != nil {
		s.tree = map[string]any{}
		s.loaded = true
		logger.Errorw("Initial configuration load failed", "path", filePath, "error", err)
		return err
	}
	s.tree = fresh
	s.loaded = true
	logger.Debugw("Configuration loaded", "path", filePath, "keys", len(fresh))
	return nil
}

// loadFile reads and parses the configuration file. A missing or
// blank file is an empty tree, not an error.
func (s *Server) loadFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

// persist writes the tree pretty-printed, creating the directory on
// first write. The write goes through a temp file and a rename so the
// watcher and external readers never observe a half-written file.
func (s *Server) persist(path string, data map[string]any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: path, Err: err}
	}
	encoded = append(encoded, '\n')

	tmp, err := os.CreateTemp(dir, ".arca-config-")
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// nextTokenLocked mints a monotonically unique write token. The
// entropy source is not safe for concurrent use; caller holds s.mu
// for writing.
func (s *Server) nextTokenLocked() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// cacheBranchLocked refreshes cache entries for path and every
// ancestor that still resolves. Caller holds s.mu.
func (s *Server) cacheBranchLocked(path keypath.Path) {
	for _, p := range path.SelfAndAncestors() {
		if v, ok := tree.Get(s.tree, p); ok {
			s.cache.Set(p, v)
		}
	}
}

// rebuildCacheLocked clears the cache and repopulates it with every
// path in the tree, leaves and subtrees alike. Caller holds s.mu.
func (s *Server) rebuildCacheLocked() {
	s.cache.Clear()
	s.cacheSubtreeLocked(nil, s.tree)
}

func (s *Server) cacheSubtreeLocked(prefix keypath.Path, node map[string]any) {
	for key, value := range node {
		p := prefix.Child(key)
		s.cache.Set(p, value)
		if child, ok := value.(map[string]any); ok {
			s.cacheSubtreeLocked(p, child)
		}
	}
}

type notification struct {
	path  keypath.Path
	value any
}

// dispatchBranchLocked submits one notification batch for path and
// every ancestor that still resolves. Submission happens under s.mu on
// a single-worker pool, so batches publish in exactly the order the
// writes were applied. The batch values are deep copies taken now;
// delivery happens after the caller's response.
func (s *Server) dispatchBranchLocked(path keypath.Path) {
	batch := make([]notification, 0, len(path))
	for _, p := range path.SelfAndAncestors() {
		if v, ok := tree.Get(s.tree, p); ok {
			batch = append(batch, notification{path: p.Clone(), value: tree.CloneValue(v)})
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := s.dispatch.Submit(func() {
		for _, n := range batch {
			s.subs.Publish(n.path, n.value)
		}
	}); err != nil {
		logger.Warnw("Notification dispatch rejected", "path", path.String(), "error", err)
	}
}

// submitCallbacksLocked hands the reload snapshot to the callback
// pool. Caller holds s.mu.
func (s *Server) submitCallbacksLocked(snapshot map[string]any) {
	if err := s.callbackPool.Submit(func() {
		s.callbacks.Fire(snapshot)
	}); err != nil {
		logger.Warnw("Callback dispatch rejected", "error", err)
	}
}
