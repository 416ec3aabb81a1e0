package rtc

import "log/slog"

// syncState mirrors spec.md §4.13's three avsync states. A builder
// starts unknown, moves to no-sync on the first packet whose
// avsync_time is not yet known, and moves to synced once a packet
// carries a positive avsync_time. Packets are dropped while no-sync.
type syncState int

const (
	syncUnknown syncState = -1
	syncNone    syncState = 0
	syncReady   syncState = 2
)

// advance implements the on_rtp sync-state transition: avsync_time ≤ 0
// moves unknown to no-sync; avsync_time > 0 moves unknown or no-sync to
// synced. Once synced the state never regresses.
func advance(cur syncState, avsyncTime int64, log *slog.Logger, track string) syncState {
	if avsyncTime <= 0 {
		if cur < syncNone {
			log.Debug("rtc sync state transition", "track", track, "from", int(cur), "to", int(syncNone))
			return syncNone
		}
		return cur
	}
	if cur < syncReady {
		log.Debug("rtc sync state transition", "track", track, "from", int(cur), "to", int(syncReady))
		return syncReady
	}
	return cur
}
