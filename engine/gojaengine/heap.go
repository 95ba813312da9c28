package gojaengine

import (
	"encoding/binary"
	"fmt"

	"github.com/dop251/goja"

	"github.com/buke/mquickjs-go/engine"
)

// MinArenaSize is the smallest arena NewContext accepts.
const MinArenaSize = 4 * 1024

// Every heap slot owns slotSize bytes of the arena:
//
//	[0:4] generation (little endian)
//	[4]   state (slotFree / slotLive)
//	[5]   mark bit
const slotSize = 16

const (
	slotFree byte = 0
	slotLive byte = 1
)

// heap is the slot table backing every non-immediate value of a context.
// Slot headers live in the arena; the script values themselves are kept in a
// parallel slice because the Go collector must see them.
type heap struct {
	arena []byte
	vals  []goja.Value
	free  []uint32
	live  int

	collections int
	freed       int
}

func newHeap(arena []byte) (*heap, error) {
	if len(arena) < MinArenaSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", engine.ErrArenaTooSmall, len(arena), MinArenaSize)
	}
	n := len(arena) / slotSize
	if n > engine.MaxSlots {
		n = engine.MaxSlots
	}
	used := arena[:n*slotSize]
	for i := range used {
		used[i] = 0
	}

	h := &heap{
		arena: arena,
		vals:  make([]goja.Value, n),
		free:  make([]uint32, 0, n),
	}
	// lowest index is handed out first
	for i := n - 1; i >= 0; i-- {
		h.free = append(h.free, uint32(i))
	}
	return h, nil
}

func (h *heap) slots() int { return len(h.vals) }

func (h *heap) header(i uint32) []byte {
	off := int(i) * slotSize
	return h.arena[off : off+slotSize]
}

func (h *heap) gen(i uint32) uint32 {
	return binary.LittleEndian.Uint32(h.header(i))
}

// alloc stores gv in a free slot. When the table is full it runs collect once
// before giving up.
func (h *heap) alloc(gv goja.Value, collect func()) (engine.Value, error) {
	if len(h.free) == 0 {
		collect()
	}
	if len(h.free) == 0 {
		return engine.Exception, fmt.Errorf("%w: %d slots live", engine.ErrOutOfMemory, h.live)
	}

	i := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]

	hdr := h.header(i)
	hdr[4] = slotLive
	hdr[5] = 0
	h.vals[i] = gv
	h.live++
	return engine.MakePtr(i, h.gen(i)), nil
}

// deref resolves a heap reference, rejecting freed and reused slots.
func (h *heap) deref(v engine.Value) (goja.Value, bool) {
	i, gen := v.Ptr()
	if int(i) >= len(h.vals) {
		return nil, false
	}
	hdr := h.header(i)
	if hdr[4] != slotLive || binary.LittleEndian.Uint32(hdr) != gen {
		return nil, false
	}
	return h.vals[i], true
}

func (h *heap) mark(v engine.Value) {
	if !v.IsPtr() {
		return
	}
	if _, ok := h.deref(v); !ok {
		return
	}
	i, _ := v.Ptr()
	h.header(i)[5] = 1
}

// sweep frees every live slot that was not marked and clears the marks.
func (h *heap) sweep() int {
	freed := 0
	for i := range h.vals {
		hdr := h.header(uint32(i))
		if hdr[4] != slotLive {
			continue
		}
		if hdr[5] != 0 {
			hdr[5] = 0
			continue
		}
		binary.LittleEndian.PutUint32(hdr, binary.LittleEndian.Uint32(hdr)+1)
		hdr[4] = slotFree
		h.vals[i] = nil
		h.free = append(h.free, uint32(i))
		h.live--
		freed++
	}
	h.collections++
	h.freed += freed
	return freed
}

func (h *heap) release() {
	for i := range h.vals {
		h.vals[i] = nil
	}
	h.vals = nil
	h.free = nil
	h.live = 0
	h.arena = nil
}
