package relay

import (
	"fmt"
	"os"
	"path/filepath"
)

// stitchTick runs one pass of the Segment Stitcher (spec.md §4.3) against
// sourcePlaylistPath, admitting any segment whose upstream number exceeds
// lastProcessed into window, publishing each admitted file into segDir.
// It returns the updated window, the updated lastProcessed high-water
// mark, the updated mediaSeq counter, and whether a discontinuity mark
// was consumed during admission.
func stitchTick(
	sourcePlaylistPath string,
	segDir string,
	window []Segment,
	mediaSeq int64,
	lastProcessed int,
	discontinuityPending bool,
	windowSegments, maxSegments int,
) (newWindow []Segment, newMediaSeq int64, newLastProcessed int, newDiscontinuityPending bool, err error) {
	newWindow, newMediaSeq, newLastProcessed, newDiscontinuityPending = window, mediaSeq, lastProcessed, discontinuityPending

	if _, statErr := os.Stat(sourcePlaylistPath); statErr != nil {
		// Source playlist absent this tick: nothing to admit (spec.md §4.3.1).
		return
	}

	segments, parseErr := parseSourcePlaylist(sourcePlaylistPath)
	if parseErr != nil {
		// Malformed source playlist: abort this tick, mutate nothing (spec.md §7).
		return window, mediaSeq, lastProcessed, discontinuityPending, nil
	}

	sourceDir := filepath.Dir(sourcePlaylistPath)

	for _, seg := range segments {
		if seg.Seq < 0 {
			continue // didn't match segment_<NNN>.ts; skip defensively (spec.md §9).
		}
		if seg.Seq <= newLastProcessed {
			continue
		}

		srcPath := filepath.Join(sourceDir, seg.URI)
		if _, statErr := os.Stat(srcPath); statErr != nil {
			// Missing file: do not advance last_processed, retry next tick.
			continue
		}

		outURI := fmt.Sprintf("%d.ts", newMediaSeq)
		dstPath := filepath.Join(segDir, outURI)

		if err = mkdirAll(segDir); err != nil {
			return
		}
		if err = hardlinkOrCopy(srcPath, dstPath); err != nil {
			// Transient filesystem error: skip this segment, keep going (spec.md §7).
			err = nil
			continue
		}

		newWindow = append(newWindow, Segment{
			OutputURI:           outURI,
			DurationSeconds:     seg.Duration,
			DurationText:        seg.DurationText,
			DiscontinuityBefore: newDiscontinuityPending,
		})
		newDiscontinuityPending = false
		newMediaSeq++
		newLastProcessed = seg.Seq

		newWindow, err = trimWindow(newWindow, segDir, windowSegments, maxSegments)
		if err != nil {
			return
		}
	}

	return
}
