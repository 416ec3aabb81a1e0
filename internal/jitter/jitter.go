// Package jitter implements per-consumer timestamp correction so that
// decoders downstream of the origin core see monotonically sane
// timestamps regardless of publisher jitter. See spec.md §4.1.
package jitter

import "github.com/zsiec/originhub/internal/packet"

// Algorithm selects a jitter-correction mode for a consumer.
type Algorithm int

// Supported correction modes.
const (
	// AlgoOff passes timestamps through unchanged.
	AlgoOff Algorithm = iota
	// AlgoZero subtracts the first packet's timestamp from every
	// subsequent packet, leaving metadata untouched.
	AlgoZero
	// AlgoFull enforces monotonic, jitter-smoothed output timestamps and
	// forces metadata timestamps to zero.
	AlgoFull
)

// maxJumpMillis is the empirical discontinuity bound past which a delta is
// considered bogus and replaced by substituteDeltaMillis.
const maxJumpMillis = 250

// substituteDeltaMillis is the delta substituted for a bogus jump so
// decoder pacing stays sane.
const substituteDeltaMillis = 10

// Corrector holds the per-consumer jitter-correction state machine.
type Corrector struct {
	algo               Algorithm
	lastPktCorrectTime int64 // -1 until the first packet has been corrected
	lastPktTime        int64
	firstTime          int64
	haveFirst          bool
}

// New creates a Corrector using the given algorithm.
func New(algo Algorithm) *Corrector {
	return &Corrector{
		algo:               algo,
		lastPktCorrectTime: -1,
	}
}

// Algorithm returns the corrector's configured mode.
func (c *Corrector) Algorithm() Algorithm { return c.algo }

// Correct mutates pkt.Timestamp in place according to the corrector's
// algorithm. It never fails.
func (c *Corrector) Correct(pkt *packet.Packet) {
	switch c.algo {
	case AlgoOff:
		return

	case AlgoZero:
		if pkt.IsMetadata() {
			return
		}
		if !c.haveFirst {
			c.firstTime = pkt.Timestamp
			c.haveFirst = true
		}
		pkt.Timestamp -= c.firstTime

	case AlgoFull:
		if pkt.IsMetadata() {
			pkt.Timestamp = 0
			return
		}
		c.correctFull(pkt)
	}
}

func (c *Corrector) correctFull(pkt *packet.Packet) {
	if c.lastPktCorrectTime < 0 {
		c.lastPktCorrectTime = 0
		c.lastPktTime = pkt.Timestamp
		pkt.Timestamp = 0
		return
	}

	// A delta beyond the empirical discontinuity bound, or a negative delta
	// (publisher timestamp went backwards), is replaced by a small fixed
	// step so decoder pacing stays sane instead of stalling or rewinding.
	delta := pkt.Timestamp - c.lastPktTime
	if delta > maxJumpMillis || delta < 0 {
		delta = substituteDeltaMillis
	}

	out := c.lastPktCorrectTime + delta
	if out < 0 {
		out = 0
	}

	c.lastPktTime = pkt.Timestamp
	c.lastPktCorrectTime = out
	pkt.Timestamp = out
}
