package priorityQueue

import (
	"container/heap"
	"net/netip"
	"time"
)

// A DelayedPacket is a datagram held back until its release time.
type DelayedPacket struct {
	Release time.Time      // when the packet may leave
	Dst     netip.AddrPort // where it goes
	Data    []byte
	Op      string // trace label used on release
	Index   int    // The index of the item in the heap
}

// A PriorityQueue implements heap.Interface and holds DelayedPackets,
// earliest release first.
type PriorityQueue []*DelayedPacket

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].Release.Before(pq[j].Release)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*DelayedPacket)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // don't stop the GC from reclaiming the item eventually
	item.Index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// Schedule queues data for dst at release.
func (pq *PriorityQueue) Schedule(release time.Time, dst netip.AddrPort, data []byte, op string) {
	heap.Push(pq, &DelayedPacket{Release: release, Dst: dst, Data: data, Op: op})
}

// Due pops every packet whose release time is not after now, in release order.
func (pq *PriorityQueue) Due(now time.Time) []*DelayedPacket {
	var due []*DelayedPacket
	for pq.Len() > 0 && !(*pq)[0].Release.After(now) {
		due = append(due, heap.Pop(pq).(*DelayedPacket))
	}
	return due
}

// Next is the earliest release time, ok is false when the queue is empty.
func (pq PriorityQueue) Next() (time.Time, bool) {
	if len(pq) == 0 {
		return time.Time{}, false
	}
	return pq[0].Release, true
}
