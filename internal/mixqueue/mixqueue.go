// Package mixqueue implements the audio/video mix-correct reordering
// queue used when a publisher emits audio and video out of timestamp
// order. See spec.md §3/§4.5.
package mixqueue

import (
	"sort"
	"sync"

	"github.com/zsiec/originhub/internal/packet"
)

// emitAfterPureRun is the pure-kind count that forces an emit even with
// zero packets of the other kind.
const emitAfterPureRun = 10

type entry struct {
	pkt *packet.Packet
	seq uint64 // insertion-order tiebreaker for equal timestamps
}

// Queue holds audio and video packets ordered by timestamp (with an
// insertion-order tiebreaker, per SPEC_FULL.md §13) and emits the
// earliest one once the "mix OK" predicate holds.
//
// MaxSize mirrors C2's max_queue_size (spec.md §9 open question): once
// the queue holds more than MaxSize packets, the oldest buffered packet,
// whatever its kind, is dropped even if the emit predicate hasn't fired.
// MaxSize of 0 means unbounded.
type Queue struct {
	mu       sync.Mutex
	items    []entry
	nbVideos int
	nbAudios int
	nextSeq  uint64
	MaxSize  int
}

// New creates an empty Queue.
func New(maxSize int) *Queue {
	return &Queue{MaxSize: maxSize}
}

// Push inserts pkt into the queue, ordered by timestamp.
func (q *Queue) Push(pkt *packet.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := entry{pkt: pkt, seq: q.nextSeq}
	q.nextSeq++

	idx := sort.Search(len(q.items), func(i int) bool {
		if q.items[i].pkt.Timestamp != pkt.Timestamp {
			return q.items[i].pkt.Timestamp > pkt.Timestamp
		}
		return q.items[i].seq > e.seq
	})
	q.items = append(q.items, entry{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = e

	if pkt.IsVideo() {
		q.nbVideos++
	} else if pkt.IsAudio() {
		q.nbAudios++
	}

	if q.MaxSize > 0 && len(q.items) > q.MaxSize {
		q.forceEvictLocked()
	}
}

// forceEvictLocked drops the oldest packet once the queue has grown past
// MaxSize without the emit predicate having fired, preventing unbounded
// growth under continuous single-kind input (spec.md §9).
func (q *Queue) forceEvictLocked() {
	if len(q.items) == 0 {
		return
	}
	dropped := q.items[0]
	q.items = q.items[1:]
	if dropped.pkt.IsVideo() {
		q.nbVideos--
	} else if dropped.pkt.IsAudio() {
		q.nbAudios--
	}
}

// Pop returns the earliest-timestamp packet and true if the mix-OK
// predicate holds, or nil and false if the caller should buffer more
// before trying again.
func (q *Queue) Pop() (*packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	ok := (q.nbVideos >= emitAfterPureRun && q.nbAudios == 0) ||
		(q.nbAudios >= emitAfterPureRun && q.nbVideos == 0) ||
		(q.nbVideos >= 1 && q.nbAudios >= 1)
	if !ok {
		return nil, false
	}

	e := q.items[0]
	q.items = q.items[1:]
	if e.pkt.IsVideo() {
		q.nbVideos--
	} else if e.pkt.IsAudio() {
		q.nbAudios--
	}
	return e.pkt, true
}

// Len returns the number of packets currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
