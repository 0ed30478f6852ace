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

// Stats is the process-wide session and traffic counter.
var Stats = &stats{}

type stats struct {
	Opened        atomic.Int64 // sessions started
	Closed        atomic.Int64 // sessions ended, for any reason
	Authenticated atomic.Int64 // sessions that completed authentication
	AuthFailures  atomic.Int64 // rejected authentication attempts
	BytesSent     atomic.Int64 // encoded bytes written to streams
	BytesRecv     atomic.Int64 // raw bytes read from streams
}

func (s *stats) Open() { s.Opened.Add(1) }
func (s *stats) Close() { s.Closed.Add(1) }
func (s *stats) Authenticate() { s.Authenticated.Add(1) }
func (s *stats) AuthFailure() { s.AuthFailures.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }
func (s *stats) Active() int64 { return s.Opened.Load() - s.Closed.Load() }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Opened, Closed, Authenticated, AuthFailures int64
	BytesSent, BytesRecv                        int64
}

func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Opened:        s.Opened.Load(),
		Closed:        s.Closed.Load(),
		Authenticated: s.Authenticated.Load(),
		AuthFailures:  s.AuthFailures.Load(),
		BytesSent:     s.BytesSent.Load(),
		BytesRecv:     s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs session statistics
// every interval while anything changes. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur, interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the change between two snapshots.
func formatStats(prev, cur Snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓ %d active | Auth: %d ok %d failed",
		formatBytes(float64(cur.BytesRecv-prev.BytesRecv)/secs),
		formatBytes(float64(cur.BytesSent-prev.BytesSent)/secs),
		cur.Opened-prev.Opened,
		cur.Closed-prev.Closed,
		cur.Opened-cur.Closed,
		cur.Authenticated-prev.Authenticated,
		cur.AuthFailures-prev.AuthFailures,
	)
}
