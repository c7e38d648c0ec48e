package relay

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// sourceSegment is one #EXTINF entry parsed from an upstream playlist,
// before it has been admitted into a channel's output window.
type sourceSegment struct {
	// Seq is the upstream segment_<NNN>.ts index. -1 if the URI didn't
	// match the expected naming convention (skipped per spec.md §9).
	Seq int
	URI string
	// Duration is the parsed numeric form of the #EXTINF value.
	Duration float64
	// DurationText is the #EXTINF value exactly as written in the
	// source playlist, preserved so the output playlist can reproduce
	// it verbatim (spec.md §4.3/§6).
	DurationText string
}

var segmentNameRegexp = regexp.MustCompile(`^segment_(\d+)\.ts$`)

// parseSegmentSeq extracts NNN from a "segment_<NNN>.ts" URI. Anything
// that doesn't match is reported as not-ok and must be skipped by the
// caller, per spec.md §9 "segment-number parsing must be defensive".
func parseSegmentSeq(uri string) (int, bool) {
	m := segmentNameRegexp.FindStringSubmatch(uri)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseSourcePlaylist reads a local HLS media playlist file and returns its
// segments in playlist order. It only understands the subset of HLS needed
// to drive the Segment Stitcher (#EXTINF + URI lines); unrecognized tags are
// ignored rather than rejected, matching the upstream transcoder's own
// well-formed output.
func parseSourcePlaylist(path string) ([]sourceSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening playlist %s: %w", path, err)
	}
	defer f.Close()

	return parseSourcePlaylistReader(f)
}

func parseSourcePlaylistReader(r io.Reader) ([]sourceSegment, error) {
	scanner := bufio.NewScanner(r)
	const maxLineSize = 64 * 1024
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	var segments []sourceSegment
	var pendingDuration float64
	var pendingDurationText string
	havePending := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXTINF:") {
			durStr := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durStr, ","); idx >= 0 {
				durStr = durStr[:idx]
			}
			durStr = strings.TrimSpace(durStr)
			dur, err := strconv.ParseFloat(durStr, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing EXTINF duration %q: %w", durStr, err)
			}
			pendingDuration = dur
			pendingDurationText = durStr
			havePending = true
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		// Non-comment line following an #EXTINF is the segment URI.
		if havePending {
			seq, ok := parseSegmentSeq(line)
			if !ok {
				seq = -1
			}
			segments = append(segments, sourceSegment{
				Seq:          seq,
				URI:          line,
				Duration:     pendingDuration,
				DurationText: pendingDurationText,
			})
			havePending = false
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning playlist: %w", err)
	}

	return segments, nil
}

// renderOutputPlaylist renders the channel output playlist byte-for-byte
// per spec.md §4.5 and §6. Exact bytes matter: CDN caches and players are
// sensitive to format drift.
func renderOutputPlaylist(targetDuration int, window []Segment) ([]byte, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("cannot render playlist for an empty window")
	}

	n0, err := outputIndex(window[0].OutputURI)
	if err != nil {
		return nil, fmt.Errorf("parsing media sequence from %q: %w", window[0].OutputURI, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "#EXTM3U\n")
	fmt.Fprintf(&buf, "#EXT-X-VERSION:3\n")
	fmt.Fprintf(&buf, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	fmt.Fprintf(&buf, "#EXT-X-MEDIA-SEQUENCE:%d\n", n0)

	for _, s := range window {
		if s.DiscontinuityBefore {
			fmt.Fprintf(&buf, "#EXT-X-DISCONTINUITY\n")
		}
		durText := s.DurationText
		if durText == "" {
			durText = formatDuration(s.DurationSeconds)
		}
		fmt.Fprintf(&buf, "#EXTINF:%s,\n", durText)
		fmt.Fprintf(&buf, "segments/%s\n", s.OutputURI)
	}

	return buf.Bytes(), nil
}

// formatDuration is the fallback rendering used only when a segment
// carries no verbatim source text (spec.md §6): three decimal digits.
func formatDuration(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}

// outputIndex parses the monotonic integer index out of an output URI of
// the form "<N>.ts".
func outputIndex(uri string) (int64, error) {
	name := strings.TrimSuffix(uri, ".ts")
	if name == uri {
		return 0, fmt.Errorf("output uri %q missing .ts suffix", uri)
	}
	n, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("output uri %q is not numeric: %w", uri, err)
	}
	return n, nil
}
