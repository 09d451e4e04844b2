package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/arca/pkg/keypath"
	"github.com/kart-io/arca/pkg/registry"
	"github.com/kart-io/arca/pkg/tree"
	"github.com/kart-io/arca/pkg/watcher"
)

// newTestServer builds a server rooted in a temp directory with a fast
// poll interval. Environment variables that could redirect the
// location are neutralized first.
func newTestServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	t.Setenv("ARCA_CONFIG_PATH", "")
	t.Setenv("ARCA_CONFIG_FILE", "")
	t.Setenv("TESTAPP_CONFIG_PATH", "")
	t.Setenv("TESTAPP_CONFIG_FILE", "")

	dir := t.TempDir()
	all := append([]Option{
		WithLocation(dir, "config.json"),
		WithPollInterval(20 * time.Millisecond),
	}, opts...)
	s, err := New("testapp", all...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, filepath.Join(dir, "config.json")
}

func seedFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readTree(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded
}

func recvEvent(t *testing.T, sub *registry.Subscription) registry.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return registry.Event{}
	}
}

func expectNoEvent(t *testing.T, sub *registry.Subscription, wait time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(wait):
	}
}

func TestServer_PutGetRoundTrip(t *testing.T) {
	s, path := newTestServer(t)

	stored, err := s.Put(keypath.Parse("database.host"), "localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", stored)

	got, err := s.Get(keypath.Parse("database.host"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", got)

	parent, err := s.Get(keypath.Parse("database"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"host": "localhost"}, parent)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "  \"database\""), "file must be pretty-printed")
	assert.True(t, strings.HasSuffix(string(raw), "\n"))
	assert.Equal(t, map[string]any{"database": map[string]any{"host": "localhost"}}, readTree(t, path))
}

func TestServer_PutMergesIntoExistingTree(t *testing.T) {
	s, path := newTestServer(t)
	seedFile(t, path, `{"app":{"name":"X"}}`)

	_, err := s.Put(keypath.Parse("app.version"), "1.0")
	require.NoError(t, err)

	got, err := s.Get(keypath.Parse("app"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "X", "version": "1.0"}, got)
}

func TestServer_PutOverwritesScalarIntermediate(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.Put(keypath.Parse("a"), "scalar")
	require.NoError(t, err)
	_, err = s.Put(keypath.Parse("a.b"), 1)
	require.NoError(t, err)

	got, err := s.Get(keypath.Parse("a.b"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, got)
}

func TestServer_PutRereadsDiskBeforeMerge(t *testing.T) {
	s, path := newTestServer(t)

	_, err := s.Put(keypath.Parse("a"), 1)
	require.NoError(t, err)

	// Edit the file behind the server's back, keeping the existing key.
	seedFile(t, path, `{"a":1,"external":"edit"}`)

	_, err = s.Put(keypath.Parse("b"), 2)
	require.NoError(t, err)

	got, err := s.Get(keypath.Parse("external"))
	require.NoError(t, err, "the external edit must survive the merge")
	assert.Equal(t, "edit", got)

	onDisk := readTree(t, path)
	assert.Contains(t, onDisk, "a")
	assert.Contains(t, onDisk, "external")
	assert.Contains(t, onDisk, "b")
}

func TestServer_DeletePrunesEmptyParents(t *testing.T) {
	s, path := newTestServer(t)

	_, err := s.Put(keypath.Parse("a.b.c"), 1)
	require.NoError(t, err)

	require.NoError(t, s.Delete(keypath.Parse("a.b.c")))

	_, err = s.Get(keypath.Parse("a"))
	assert.ErrorIs(t, err, ErrNotFound, "pruning must remove the emptied chain")
	_, err = s.Get(keypath.Parse("a.b"))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, readTree(t, path), "the file must shrink back to an empty object")
}

func TestServer_DeleteKeepsPopulatedParents(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.Put(keypath.Parse("a.b"), 1)
	require.NoError(t, err)
	_, err = s.Put(keypath.Parse("a.c"), 2)
	require.NoError(t, err)

	require.NoError(t, s.Delete(keypath.Parse("a.b")))

	got, err := s.Get(keypath.Parse("a"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"c": float64(2)}, got)
}

func TestServer_DeleteMissingPath(t *testing.T) {
	s, _ := newTestServer(t)

	err := s.Delete(keypath.Parse("no.such.path"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServer_ReloadIdempotent(t *testing.T) {
	s, path := newTestServer(t)
	seedFile(t, path, `{"database":{"host":"db1","port":5432},"debug":true}`)

	first, err := s.Reload()
	require.NoError(t, err)
	second, err := s.Reload()
	require.NoError(t, err)

	assert.True(t, tree.Equal(first, second), "reload with no intervening change must be idempotent")

	got, err := s.Get(keypath.Parse("database.port"))
	require.NoError(t, err)
	assert.EqualValues(t, 5432, got)
}

func TestServer_ReloadFailureResetsToEmpty(t *testing.T) {
	s, path := newTestServer(t)

	_, err := s.Put(keypath.Parse("key"), "value")
	require.NoError(t, err)

	seedFile(t, path, `{broken json`)

	_, err = s.Reload()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	_, err = s.Get(keypath.Parse("key"))
	assert.ErrorIs(t, err, ErrNotFound, "the tree must reset to empty, not stay partially populated")

	whole, err := s.Tree()
	require.NoError(t, err)
	assert.Empty(t, whole)

	// A repaired file brings everything back.
	seedFile(t, path, `{"key":"restored"}`)
	_, err = s.Reload()
	require.NoError(t, err)
	got, err := s.Get(keypath.Parse("key"))
	require.NoError(t, err)
	assert.Equal(t, "restored", got)
}

func TestServer_LazyFirstLoadFailure(t *testing.T) {
	s, path := newTestServer(t)
	seedFile(t, path, `{broken`)

	_, err := s.Get(keypath.Parse("anything"))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr, "the first lookup surfaces the load failure")

	_, err = s.Get(keypath.Parse("anything"))
	assert.ErrorIs(t, err, ErrNotFound, "later lookups see the empty tree")
}

func TestServer_MissingFileIsEmptyTree(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.Get(keypath.Parse("anything"))
	assert.ErrorIs(t, err, ErrNotFound)

	whole, err := s.Tree()
	require.NoError(t, err)
	assert.Empty(t, whole)
}

func TestServer_ExternalChangeTriggersReloadAndCallbacks(t *testing.T) {
	s, path := newTestServer(t)

	trees := make(chan map[string]any, 4)
	s.RegisterCallback("observer", func(m map[string]any) {
		trees <- m
	})
	s.StartWatching()
	defer s.StopWatching()

	seedFile(t, path, `{"watched":"change"}`)

	select {
	case m := <-trees:
		assert.Equal(t, "change", m["watched"])
	case <-time.After(2 * time.Second):
		t.Fatal("whole-tree callback did not fire for an external edit")
	}

	got, err := s.Get(keypath.Parse("watched"))
	require.NoError(t, err)
	assert.Equal(t, "change", got)
}

func TestServer_NoSelfNotification(t *testing.T) {
	s, path := newTestServer(t)

	_, err := s.Put(keypath.Parse("seed"), 1)
	require.NoError(t, err)

	var fires atomic.Int32
	handle := s.OnChange(func() {
		fires.Add(1)
	})
	require.NotNil(t, handle)

	s.StartWatching()
	defer s.StopWatching()

	_, err = s.Put(keypath.Parse("seed"), 2)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 0, fires.Load(), "the server's own write must not look like an external change")

	seedFile(t, path, `{"seed":2,"external":"edit"}`)
	require.Eventually(t, func() bool {
		return fires.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond, "a genuine external edit after a self-write must still fire")
}

func TestServer_SubscriberSeesAncestorChange(t *testing.T) {
	s, _ := newTestServer(t)

	parent := s.Subscribe(keypath.Parse("database"), 8)
	leaf := s.Subscribe(keypath.Parse("database.host"), 8)
	other := s.Subscribe(keypath.Parse("unrelated"), 8)
	require.NotNil(t, parent)

	_, err := s.Put(keypath.Parse("database.host"), "x")
	require.NoError(t, err)

	leafEv := recvEvent(t, leaf)
	assert.Equal(t, "database.host", leafEv.Path.String())
	assert.Equal(t, "x", leafEv.Value)

	parentEv := recvEvent(t, parent)
	assert.Equal(t, "database", parentEv.Path.String())
	assert.Equal(t, map[string]any{"host": "x"}, parentEv.Value)

	expectNoEvent(t, other, 150*time.Millisecond)
}

func TestServer_DeleteNotifiesAncestors(t *testing.T) {
	s, _ := newTestServer(t)

	parent := s.Subscribe(keypath.Parse("svc"), 8)
	deleted := s.Subscribe(keypath.Parse("svc.a"), 8)

	_, err := s.Put(keypath.Parse("svc.a"), 1)
	require.NoError(t, err)
	_, err = s.Put(keypath.Parse("svc.b"), 2)
	require.NoError(t, err)

	// Drain the events the two puts produced.
	assert.EqualValues(t, 1, recvEvent(t, deleted).Value)
	recvEvent(t, parent)
	recvEvent(t, parent)

	require.NoError(t, s.Delete(keypath.Parse("svc.a")))

	ev := recvEvent(t, parent)
	assert.Equal(t, "svc", ev.Path.String())
	assert.Equal(t, map[string]any{"b": float64(2)}, ev.Value)

	// The deleted path no longer resolves, so its own subscribers see
	// nothing.
	expectNoEvent(t, deleted, 150*time.Millisecond)
}

func TestServer_PerPathNotificationOrder(t *testing.T) {
	s, _ := newTestServer(t)

	sub := s.Subscribe(keypath.Parse("counter"), 64)
	require.NotNil(t, sub)

	const writes = 10
	for i := 0; i < writes; i++ {
		_, err := s.Put(keypath.Parse("counter"), i)
		require.NoError(t, err)
	}

	for i := 0; i < writes; i++ {
		ev := recvEvent(t, sub)
		assert.EqualValues(t, i, ev.Value, "subscribers must observe writes in application order")
	}
}

func TestServer_UnsubscribeStopsDelivery(t *testing.T) {
	s, _ := newTestServer(t)

	sub := s.Subscribe(keypath.Parse("key"), 8)
	require.NotNil(t, sub)
	s.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok, "unsubscribing closes the channel")

	_, err := s.Put(keypath.Parse("key"), 1)
	require.NoError(t, err)
}

func TestServer_GetPopulatesCacheForBranch(t *testing.T) {
	s, path := newTestServer(t)
	seedFile(t, path, `{"a":{"b":{"c":1}}}`)

	_, err := s.Get(keypath.Parse("a.b.c"))
	require.NoError(t, err)

	assert.True(t, s.cache.Contains(keypath.Parse("a.b.c")))
	assert.True(t, s.cache.Contains(keypath.Parse("a.b")), "every prefix gets its own entry")
	assert.True(t, s.cache.Contains(keypath.Parse("a")))
}

func TestServer_CacheAgreesWithTree(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.Put(keypath.Parse("a.b"), 1)
	require.NoError(t, err)
	_, err = s.Put(keypath.Parse("a.c"), map[string]any{"d": 2})
	require.NoError(t, err)
	_, err = s.Get(keypath.Parse("a"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(keypath.Parse("a.b")))
	_, err = s.Put(keypath.Parse("x"), 3)
	require.NoError(t, err)
	_, err = s.Reload()
	require.NoError(t, err)
	_, err = s.Put(keypath.Parse("a.c.e"), 4)
	require.NoError(t, err)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.cache.Paths() {
		cached, ok := s.cache.Get(p)
		require.True(t, ok)
		inTree, ok := tree.Get(s.tree, p)
		require.True(t, ok, "cached path %s missing from the tree", p)
		assert.True(t, tree.ValueEqual(cached, inTree), "cache and tree disagree at %s", p)
	}

	// The reload rebuilt every path and the following put refreshed its
	// branch, so each leaf in the tree must also be a cache hit.
	for dotted := range tree.Flatten(s.tree) {
		assert.True(t, s.cache.Contains(keypath.Parse(dotted)), "leaf %s missing from the cache", dotted)
	}
}

func TestServer_WithoutCache(t *testing.T) {
	s, _ := newTestServer(t, WithoutCache())
	require.Nil(t, s.cache)

	_, err := s.Put(keypath.Parse("a.b"), "value")
	require.NoError(t, err)

	got, err := s.Get(keypath.Parse("a.b"))
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	require.NoError(t, s.Delete(keypath.Parse("a.b")))
	_, err = s.Get(keypath.Parse("a.b"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServer_SwitchLocation(t *testing.T) {
	s, pathA := newTestServer(t)
	dirB := t.TempDir()

	_, err := s.Put(keypath.Parse("which"), "a")
	require.NoError(t, err)

	s.StartWatching()
	defer s.StopWatching()

	previous, err := s.SwitchLocation(dirB, "")
	require.NoError(t, err)
	assert.Equal(t, pathA, previous.Path())
	assert.Equal(t, watcher.StateWatching, s.WatcherState(), "the watcher must be rearmed after a switch")

	_, err = s.Get(keypath.Parse("which"))
	assert.ErrorIs(t, err, ErrNotFound, "the old tree must not leak into the new location")

	_, err = s.Put(keypath.Parse("which"), "b")
	require.NoError(t, err)

	previous, err = s.SwitchLocation(filepath.Dir(pathA), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dirB, "config.json"), previous.Path())

	got, err := s.Get(keypath.Parse("which"))
	require.NoError(t, err)
	assert.Equal(t, "a", got, "switching back restores the original file's content")
}

func TestServer_ApplyEnvOverrides(t *testing.T) {
	s, path := newTestServer(t)
	t.Setenv("TESTAPP_CONFIG_OVERRIDE_SERVER_PORT", "8080")
	t.Setenv("TESTAPP_CONFIG_OVERRIDE_FEATURE_ENABLED", "true")

	applied := s.ApplyEnvOverrides()
	require.Len(t, applied, 2)
	assert.Equal(t, "feature.enabled", applied[0].String())
	assert.Equal(t, "server.port", applied[1].String())

	port, err := s.Get(keypath.Parse("server.port"))
	require.NoError(t, err)
	assert.Equal(t, int64(8080), port)

	enabled, err := s.Get(keypath.Parse("feature.enabled"))
	require.NoError(t, err)
	assert.Equal(t, true, enabled)

	onDisk := readTree(t, path)
	assert.Contains(t, onDisk, "server", "overrides persist like ordinary puts")
}

func TestServer_OnChangeLifecycle(t *testing.T) {
	s, path := newTestServer(t)
	seedFile(t, path, `{"v":1}`)

	var fires atomic.Int32
	handle := s.OnChange(func() {
		fires.Add(1)
	})
	require.NotNil(t, handle)

	_, err := s.Reload()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return fires.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, s.RemoveOnChange(handle))
	assert.False(t, s.RemoveOnChange(handle), "a handle is single-use")

	_, err = s.Reload()
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, fires.Load(), "a removed callback must stay silent")
}

func TestServer_NamedCallbackReplacedAndUnregistered(t *testing.T) {
	s, path := newTestServer(t)
	seedFile(t, path, `{"v":1}`)

	var first, second atomic.Int32
	s.RegisterCallback("observer", func(map[string]any) { first.Add(1) })
	s.RegisterCallback("observer", func(map[string]any) { second.Add(1) })

	_, err := s.Reload()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return second.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 0, first.Load(), "re-registering a name replaces the callback")

	assert.True(t, s.UnregisterCallback("observer"))
	_, err = s.Reload()
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, second.Load())
}

func TestServer_EmptyPathRejected(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.Get(nil)
	assert.ErrorIs(t, err, ErrEmptyPath)
	_, err = s.Put(nil, 1)
	assert.ErrorIs(t, err, ErrEmptyPath)
	assert.ErrorIs(t, s.Delete(nil), ErrEmptyPath)
	assert.Nil(t, s.Subscribe(nil, 8))
}

func TestServer_Close(t *testing.T) {
	s, _ := newTestServer(t)

	sub := s.Subscribe(keypath.Parse("key"), 8)
	require.NotNil(t, sub)

	s.Close()
	s.Close() // idempotent

	_, err := s.Get(keypath.Parse("key"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Put(keypath.Parse("key"), 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete(keypath.Parse("key")), ErrClosed)
	_, err = s.Reload()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.SwitchLocation(t.TempDir(), "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, s.Subscribe(keypath.Parse("key"), 8))
	assert.Nil(t, s.ApplyEnvOverrides())

	_, ok := <-sub.C()
	assert.False(t, ok, "closing the server closes subscriber channels")
}

func TestServer_ConcurrentReadsAndWrites(t *testing.T) {
	s, path := newTestServer(t)

	const writers = 4
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				p := keypath.Parse(fmt.Sprintf("load.w%d.k%d", w, i))
				if _, err := s.Put(p, i); err != nil {
					t.Errorf("put %s: %v", p, err)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _ = s.Get(keypath.Parse("load"))
			}
		}()
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			got, err := s.Get(keypath.Parse(fmt.Sprintf("load.w%d.k%d", w, i)))
			require.NoError(t, err)
			assert.EqualValues(t, i, got)
		}
	}

	onDisk := readTree(t, path)
	load, ok := onDisk["load"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, load, writers, "every writer's branch must survive the interleaved merges")
}
