package relay

import (
	"os"
	"time"
)

// isStalled implements spec.md §4.2: a channel with no assigned live
// source is never stalled; otherwise a missing playlist counts as
// stalled, and an existing one is stalled once it hasn't been touched
// within stallThreshold.
func isStalled(active bool, playlistPath string, stallThreshold time.Duration, now time.Time) bool {
	if !active {
		return false
	}

	info, err := os.Stat(playlistPath)
	if err != nil {
		return true
	}

	return now.Sub(info.ModTime()) > stallThreshold
}

// stallThreshold returns target_duration * stall_factor.
func stallThreshold(targetDuration time.Duration, stallFactor float64) time.Duration {
	return time.Duration(float64(targetDuration) * stallFactor)
}

// selectSource returns the effective source for this tick given the
// current activation and stall state (spec.md §4.2).
func selectSource(active, stalled bool) Source {
	if active && !stalled {
		return SourceLive
	}
	return SourceStandby
}
