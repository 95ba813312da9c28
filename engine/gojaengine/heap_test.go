package gojaengine

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

func TestHeapSlotReuseBumpsGeneration(t *testing.T) {
	h, err := newHeap(make([]byte, MinArenaSize))
	require.NoError(t, err)
	require.EqualValues(t, MinArenaSize/slotSize, h.slots())

	rt := goja.New()
	noCollect := func() { t.Fatal("unexpected collection") }

	old, err := h.alloc(rt.ToValue("old"), noCollect)
	require.NoError(t, err)
	idx, gen := old.Ptr()
	require.EqualValues(t, 0, idx)
	require.EqualValues(t, 0, gen)

	require.EqualValues(t, 1, h.sweep())
	_, ok := h.deref(old)
	require.False(t, ok)

	reused, err := h.alloc(rt.ToValue("new"), noCollect)
	require.NoError(t, err)
	idx, gen = reused.Ptr()
	require.EqualValues(t, 0, idx)
	require.EqualValues(t, 1, gen)

	_, ok = h.deref(old)
	require.False(t, ok, "old reference must not resolve to the reused slot")
	v, ok := h.deref(reused)
	require.True(t, ok)
	require.EqualValues(t, "new", v.String())
}

func TestHeapMarkSurvivesSweep(t *testing.T) {
	h, err := newHeap(make([]byte, MinArenaSize))
	require.NoError(t, err)
	rt := goja.New()

	keep, err := h.alloc(rt.ToValue(1.5), func() {})
	require.NoError(t, err)
	_, err = h.alloc(rt.ToValue(2.5), func() {})
	require.NoError(t, err)

	h.mark(keep)
	require.EqualValues(t, 1, h.sweep())
	require.EqualValues(t, 1, h.live)

	// marks are cleared, so an unmarked second sweep frees it
	require.EqualValues(t, 1, h.sweep())
	require.EqualValues(t, 0, h.live)
	require.EqualValues(t, 2, h.collections)
	require.EqualValues(t, 2, h.freed)
}

func TestHeapAllocCollectsWhenFull(t *testing.T) {
	h, err := newHeap(make([]byte, MinArenaSize))
	require.NoError(t, err)
	rt := goja.New()

	for i := 0; i < h.slots(); i++ {
		_, err := h.alloc(rt.ToValue(i), func() {})
		require.NoError(t, err)
	}

	collected := false
	_, err = h.alloc(rt.ToValue("x"), func() {
		collected = true
		h.sweep()
	})
	require.NoError(t, err)
	require.True(t, collected)
	require.EqualValues(t, 1, h.live)
}
