package protocol

import (
	"github.com/pkg/errors"
)

// Window is the receiver's reassembly ring. Generation g covers the seq
// numbers [g*cap+1, (g+1)*cap]; slot i holds seq g*cap+i+1.
type Window struct {
	slots      []*Segment
	Generation int
	Base       int // 1-based offset of the first slot not yet in order
}

func NewWindow(capacity int) *Window {
	return &Window{
		slots: make([]*Segment, capacity),
		Base:  1,
	}
}

func (w *Window) Cap() int { return len(w.slots) }

// Expected is the next seq number needed in order.
func (w *Window) Expected() int {
	return w.Cap()*w.Generation + w.Base
}

// Limit is the highest seq number of the current generation.
func (w *Window) Limit() int {
	return w.Cap() * (w.Generation + 1)
}

func (w *Window) offset(seq int) (int, bool) {
	first := w.Cap()*w.Generation + 1
	if seq < first || seq > w.Limit() {
		return 0, false
	}
	return seq - first, true
}

// Get reports the segment buffered for seq, if seq is in this generation
// and its slot is occupied.
func (w *Window) Get(seq int) (*Segment, bool) {
	i, ok := w.offset(seq)
	if !ok || w.slots[i] == nil {
		return nil, false
	}
	return w.slots[i], true
}

// Put stores seg in its slot. Seq numbers outside the generation are rejected.
func (w *Window) Put(seg *Segment) error {
	i, ok := w.offset(seg.SeqNumber)
	if !ok {
		return errors.Errorf("seq %d outside generation %d", seg.SeqNumber, w.Generation)
	}
	w.slots[i] = seg
	return nil
}

// Advance moves Base past every contiguous occupied slot.
func (w *Window) Advance() {
	for w.Base <= w.Cap() && w.slots[w.Base-1] != nil {
		w.Base++
	}
}

// Full reports whether every slot is in order.
func (w *Window) Full() bool {
	return w.Base > w.Cap()
}

// Occupied counts the non-empty slots.
func (w *Window) Occupied() int {
	n := 0
	for _, seg := range w.slots {
		if seg != nil {
			n++
		}
	}
	return n
}

// Flush hands the in-order prefix to commit in slot order, empties every slot
// and starts the next generation. Segments buffered beyond a gap are
// discarded rather than committed out of order.
func (w *Window) Flush(commit func(*Segment) error) error {
	for i := 0; i < w.Base-1; i++ {
		if err := commit(w.slots[i]); err != nil {
			return err
		}
	}
	for i := range w.slots {
		w.slots[i] = nil
	}
	w.Generation++
	w.Base = 1
	return nil
}
