package registry

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackRegistry_NamedReceivesTree(t *testing.T) {
	r := NewCallbackRegistry()

	var got map[string]any
	r.Register("observer", func(tree map[string]any) {
		got = tree
	})

	want := map[string]any{"app": map[string]any{"name": "X"}}
	r.Fire(want)

	require.NotNil(t, got)
	assert.Equal(t, want, got)
}

func TestCallbackRegistry_RegisterReplacesSameName(t *testing.T) {
	r := NewCallbackRegistry()

	var first, second int32
	r.Register("dup", func(map[string]any) { atomic.AddInt32(&first, 1) })
	r.Register("dup", func(map[string]any) { atomic.AddInt32(&second, 1) })

	r.Fire(map[string]any{})

	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
	assert.Equal(t, 1, r.Len())
}

func TestCallbackRegistry_Unregister(t *testing.T) {
	r := NewCallbackRegistry()

	var calls int32
	r.Register("gone", func(map[string]any) { atomic.AddInt32(&calls, 1) })

	assert.True(t, r.Unregister("gone"))
	assert.False(t, r.Unregister("gone"))
	assert.False(t, r.Unregister("never-existed"))

	r.Fire(map[string]any{})
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCallbackRegistry_AnonymousHandle(t *testing.T) {
	r := NewCallbackRegistry()

	var calls int32
	h := r.Add(func() { atomic.AddInt32(&calls, 1) })
	require.NotNil(t, h)

	r.Fire(map[string]any{})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.True(t, r.Remove(h))
	assert.False(t, r.Remove(h), "handles are single-use")
	assert.False(t, r.Remove(nil))

	r.Fire(map[string]any{})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCallbackRegistry_HandlesAreDistinct(t *testing.T) {
	r := NewCallbackRegistry()

	h1 := r.Add(func() {})
	h2 := r.Add(func() {})
	assert.NotEqual(t, *h1, *h2)

	assert.True(t, r.Remove(h1))
	// Removing h1 must not affect h2
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Remove(h2))
}

func TestCallbackRegistry_PanicIsolated(t *testing.T) {
	r := NewCallbackRegistry()

	var survived int32
	r.Register("bomber", func(map[string]any) { panic("boom") })
	r.Register("survivor", func(map[string]any) { atomic.AddInt32(&survived, 1) })
	r.Add(func() { panic("boom too") })
	r.Add(func() { atomic.AddInt32(&survived, 1) })

	assert.NotPanics(t, func() { r.Fire(map[string]any{}) })
	assert.Equal(t, int32(2), atomic.LoadInt32(&survived))
}

func TestCallbackRegistry_NilCallbacksIgnored(t *testing.T) {
	r := NewCallbackRegistry()
	r.Register("nil", nil)
	assert.Nil(t, r.Add(nil))
	assert.Equal(t, 0, r.Len())
}
