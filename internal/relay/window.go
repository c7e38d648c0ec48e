package relay

import "fmt"

// trimWindow enforces |window| <= min(windowSegments, maxSegments) by
// evicting from the front and unlinking each evicted segment's file.
// Eviction preserves invariants 1-3: indices still increase contiguously
// at the new front (spec.md §4.4).
func trimWindow(window []Segment, segDir string, windowSegments, maxSegments int) ([]Segment, error) {
	limit := windowSegments
	if maxSegments < limit {
		limit = maxSegments
	}
	if limit < 0 {
		limit = 0
	}

	for len(window) > limit {
		evicted := window[0]
		window = window[1:]

		path := segDir + "/" + evicted.OutputURI
		if err := removeIfExists(path); err != nil {
			return window, fmt.Errorf("evicting segment %s: %w", evicted.OutputURI, err)
		}
	}

	return window, nil
}
