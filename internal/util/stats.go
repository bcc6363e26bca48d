package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	Sessions       atomic.Int64 // negotiation sessions started
	Failures       atomic.Int64 // sessions that ended in Failed
	MessagesSent   atomic.Int64 // signaling messages written to the relay
	MessagesRecv   atomic.Int64 // signaling messages read from the relay
	Dropped        atomic.Int64 // malformed or out-of-sequence messages dropped
	CandidatesSent atomic.Int64 // local ICE candidates forwarded
	CandidatesRecv atomic.Int64 // remote ICE candidates applied
}

func (s *stats) AddSession()       { s.Sessions.Add(1) }
func (s *stats) AddFailure()       { s.Failures.Add(1) }
func (s *stats) AddSent()          { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()          { s.MessagesRecv.Add(1) }
func (s *stats) AddDropped()       { s.Dropped.Add(1) }
func (s *stats) AddCandidateSent() { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateRecv() { s.CandidatesRecv.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Sessions, Failures                  int64
	MessagesSent, MessagesRecv, Dropped int64
	CandidatesSent, CandidatesRecv      int64
}

// Snapshot reads every counter.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Sessions:       s.Sessions.Load(),
		Failures:       s.Failures.Load(),
		MessagesSent:   s.MessagesSent.Load(),
		MessagesRecv:   s.MessagesRecv.Load(),
		Dropped:        s.Dropped.Load(),
		CandidatesSent: s.CandidatesSent.Load(),
		CandidatesRecv: s.CandidatesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval, skipping quiet periods. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns the deltas between two snapshots for display in the logger.
func formatStats(prev, cur Snapshot) string {
	return fmt.Sprintf("Msg: %3d↑ %3d↓ | Cand: %3d↑ %3d↓ | Dropped: %2d | Sessions: %d (%d failed)",
		cur.MessagesSent-prev.MessagesSent,
		cur.MessagesRecv-prev.MessagesRecv,
		cur.CandidatesSent-prev.CandidatesSent,
		cur.CandidatesRecv-prev.CandidatesRecv,
		cur.Dropped-prev.Dropped,
		cur.Sessions,
		cur.Failures,
	)
}
