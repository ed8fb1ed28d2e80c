package protocol

import (
	"github.com/google/btree"
)

type queueEntry struct {
	seg   *Segment
	acked bool
}

// TransmitQueue holds every data segment of the file, indexed by seq-1.
// Payloads never change after construction; only the acked flags do.
// Unacknowledged seq numbers are also kept in an ordered set so window
// scans skip acknowledged entries.
type TransmitQueue struct {
	entries []queueEntry
	unacked *btree.BTreeG[int]
}

func NewTransmitQueue(data []byte, payloadSize int) *TransmitQueue {
	total := (len(data) + payloadSize - 1) / payloadSize
	q := &TransmitQueue{
		entries: make([]queueEntry, total),
		unacked: btree.NewG(16, func(a, b int) bool { return a < b }),
	}
	for i := 0; i < total; i++ {
		end := min((i+1)*payloadSize, len(data))
		q.entries[i].seg = NewDataSegment(i+1, data[i*payloadSize:end], payloadSize)
		q.unacked.ReplaceOrInsert(i + 1)
	}
	return q
}

// Len is the number of data segments.
func (q *TransmitQueue) Len() int { return len(q.entries) }

// Outstanding is the number of segments not yet acknowledged.
func (q *TransmitQueue) Outstanding() int { return q.unacked.Len() }

func (q *TransmitQueue) Done() bool { return q.unacked.Len() == 0 }

func (q *TransmitQueue) valid(seq int) bool {
	return seq >= 1 && seq <= len(q.entries)
}

func (q *TransmitQueue) Segment(seq int) (*Segment, bool) {
	if !q.valid(seq) {
		return nil, false
	}
	return q.entries[seq-1].seg, true
}

func (q *TransmitQueue) Acked(seq int) bool {
	return q.valid(seq) && q.entries[seq-1].acked
}

// Mark acknowledges seq. Out of range numbers (a sack of 0 after the very
// first segment was lost) are ignored. Reports whether seq was newly acked.
func (q *TransmitQueue) Mark(seq int) bool {
	if !q.valid(seq) || q.entries[seq-1].acked {
		return false
	}
	q.entries[seq-1].acked = true
	q.unacked.Delete(seq)
	return true
}

// MarkThrough acknowledges every seq number up to and including seq.
func (q *TransmitQueue) MarkThrough(seq int) int {
	var pending []int
	q.unacked.AscendLessThan(seq+1, func(s int) bool {
		pending = append(pending, s)
		return true
	})
	for _, s := range pending {
		q.Mark(s)
	}
	return len(pending)
}

// Window returns the first size unacknowledged seq numbers at or after base,
// in order.
func (q *TransmitQueue) Window(base, size int) []int {
	window := make([]int, 0, size)
	if size <= 0 {
		return window
	}
	q.unacked.AscendGreaterOrEqual(base, func(s int) bool {
		window = append(window, s)
		return len(window) < size
	})
	return window
}
