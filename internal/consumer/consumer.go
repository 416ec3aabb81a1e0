// Package consumer implements the per-client view onto a live source: a
// bounded packet queue, jitter correction, and a wake-on-threshold wait
// primitive so playback loops don't poll. See spec.md §4.6.
package consumer

import (
	"sync"
	"time"

	"github.com/zsiec/originhub/internal/jitter"
	"github.com/zsiec/originhub/internal/mqueue"
	"github.com/zsiec/originhub/internal/packet"
)

// pausePulse is how long wait() sleeps while paused, instead of blocking
// indefinitely on the condition variable.
const pausePulse = 300 * time.Millisecond

// DestroyNotifier is the capability a Consumer holds on its source (spec.md
// §9): only the ability to unlink itself, nothing else.
type DestroyNotifier interface {
	OnConsumerDestroy(c *Consumer)
}

// Consumer is a single playing client's view of a stream: its own jitter
// state plus a bounded packet queue, woken by enqueue rather than polled.
type Consumer struct {
	id        string
	corrector *jitter.Corrector
	queue     *mqueue.Queue

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool

	source DestroyNotifier
}

// New creates a Consumer with the given jitter algorithm and queue
// overflow threshold (milliseconds). source may be nil in tests.
func New(id string, algo jitter.Algorithm, maxQueueSize int64, source DestroyNotifier) *Consumer {
	c := &Consumer{
		id:        id,
		corrector: jitter.New(algo),
		queue:     mqueue.New(maxQueueSize),
		source:    source,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ID returns the consumer's identifier.
func (c *Consumer) ID() string { return c.id }

// Enqueue copies pkt, jitter-corrects it (unless atc, which bypasses
// correction so the publisher's absolute timestamps pass straight
// through), enqueues it, and wakes any task blocked in Wait whose
// threshold is now satisfied.
func (c *Consumer) Enqueue(pkt *packet.Packet, atc bool) {
	cp := pkt.Copy()
	if !atc {
		c.corrector.Correct(cp)
	}
	c.queue.Enqueue(cp)

	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Wait blocks until the queue holds at least minMsgs packets spanning at
// least minDuration, until the consumer is paused or closed, or until an
// enqueue wakes it. ATC streams whose duration has gone negative (a
// sequence-header re-push retimestamped behind the current av_start) wake
// immediately, since that signals content the reader must not miss.
func (c *Consumer) Wait(minMsgs int, minDuration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.closed {
			return
		}
		if c.paused {
			c.mu.Unlock()
			time.Sleep(pausePulse)
			c.mu.Lock()
			return
		}

		size := c.queue.Size()
		dur := time.Duration(c.queue.Duration()) * time.Millisecond
		satisfied := size >= minMsgs && dur >= minDuration
		negativeDuration := dur < 0

		if satisfied || negativeDuration {
			return
		}

		c.cond.Wait()
	}
}

// DumpPackets drains up to max queued packets (0 = all). While paused it
// always returns empty, matching spec.md §4.6's pause contract.
func (c *Consumer) DumpPackets(max int) []*packet.Packet {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		return nil
	}
	return c.queue.DumpPackets(max)
}

// OnPlayClientPause toggles the pause flag.
func (c *Consumer) OnPlayClientPause(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
	if !paused {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// Close marks the consumer closed, waking any blocked Wait, and notifies
// its source so it can be unlinked from the consumer list.
func (c *Consumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	if c.source != nil {
		c.source.OnConsumerDestroy(c)
	}
}

// QueueSize returns the number of packets currently queued.
func (c *Consumer) QueueSize() int { return c.queue.Size() }
