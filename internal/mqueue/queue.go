// Package mqueue implements the bounded FIFO of media packets each
// consumer (and forwarder) drains from, including the shrink-on-overflow
// policy that trades fine-grained packet loss for preserved sequence
// headers. See spec.md §3/§4.2.
package mqueue

import (
	"sync"

	"github.com/zsiec/originhub/internal/packet"
)

// unset marks av_start/av_end as not yet observed.
const unset = int64(-1)

// Queue is a FIFO of media packets bounded by a maximum span between the
// oldest and newest enqueued timestamp. It is safe for concurrent use:
// every method takes the queue's own mutex.
type Queue struct {
	mu           sync.Mutex
	items        []*packet.Packet
	avStart      int64
	avEnd        int64
	maxQueueSize int64 // 0 = unbounded
}

// New creates an empty Queue with the given overflow threshold (0 =
// unbounded). The unit matches packet.Packet.Timestamp (milliseconds).
func New(maxQueueSize int64) *Queue {
	return &Queue{
		avStart:      unset,
		avEnd:        unset,
		maxQueueSize: maxQueueSize,
	}
}

// SetQueueSize changes the overflow threshold.
func (q *Queue) SetQueueSize(maxQueueSize int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxQueueSize = maxQueueSize
}

// Enqueue appends pkt to the queue and returns true if doing so triggered
// a shrink (overflow).
func (q *Queue) Enqueue(pkt *packet.Packet) (overflowed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts := pkt.Timestamp
	// Script/metadata packets carrying timestamp 0 do not advance av_end
	// unless no packet has been observed yet — a re-pushed metadata packet
	// must not reset the queue's notion of "now".
	if !(pkt.IsMetadata() && ts == 0 && q.avEnd != unset) {
		q.avEnd = ts
	}
	if q.avStart == unset {
		q.avStart = ts
	}

	q.items = append(q.items, pkt)

	if q.maxQueueSize > 0 && q.avEnd-q.avStart > q.maxQueueSize {
		q.shrinkLocked()
		overflowed = true
	}
	return overflowed
}

// Shrink forces the overflow policy regardless of current size.
func (q *Queue) Shrink() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shrinkLocked()
}

// shrinkLocked keeps only the most recently seen audio and video sequence
// headers, retimestamped to av_end, and discards every other packet.
func (q *Queue) shrinkLocked() {
	var lastAudioSH, lastVideoSH *packet.Packet
	for _, p := range q.items {
		if !p.IsSequence {
			continue
		}
		if p.IsAudio() {
			lastAudioSH = p
		} else if p.IsVideo() {
			lastVideoSH = p
		}
	}

	kept := make([]*packet.Packet, 0, 2)
	if lastAudioSH != nil {
		sh := lastAudioSH.Copy()
		sh.Timestamp = q.avEnd
		kept = append(kept, sh)
	}
	if lastVideoSH != nil {
		sh := lastVideoSH.Copy()
		sh.Timestamp = q.avEnd
		kept = append(kept, sh)
	}

	q.items = kept
	q.avStart = q.avEnd
}

// DumpPackets drains up to max packets from the front of the queue (0 =
// drain all). av_start is advanced to the timestamp of the last dumped
// packet.
func (q *Queue) DumpPackets(max int) []*packet.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := q.items[:n]
	q.items = q.items[n:]
	q.avStart = out[n-1].Timestamp
	return out
}

// Snapshot returns a copy of every queued packet without draining the
// queue, used by the walk-without-draining read path (spec.md §4.2).
func (q *Queue) Snapshot() []*packet.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*packet.Packet, len(q.items))
	copy(out, q.items)
	return out
}

// Size returns the number of packets currently queued.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Duration returns av_end - av_start, or 0 if no packet has been
// observed.
func (q *Queue) Duration() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.avStart == unset || q.avEnd == unset {
		return 0
	}
	return q.avEnd - q.avStart
}

// Bounds returns the current av_start/av_end pair for diagnostics.
func (q *Queue) Bounds() (start, end int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.avStart, q.avEnd
}
