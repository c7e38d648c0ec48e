package relay

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioState threads the worker-level state stitchTick mutates across
// ticks, exercising the stitcher/window/publisher pipeline the way
// ChannelWorker.tick does, without the subprocess supervisor or mutex.
type scenarioState struct {
	window               []Segment
	mediaSeq             int64
	lastProcessed        int
	discontinuityPending bool
}

func (s *scenarioState) tick(t *testing.T, playlistPath, segDir string, windowSegments, maxSegments int) {
	t.Helper()
	window, mediaSeq, lastProcessed, pending, err := stitchTick(
		playlistPath, segDir, s.window, s.mediaSeq, s.lastProcessed, s.discontinuityPending,
		windowSegments, maxSegments,
	)
	require.NoError(t, err)
	s.window, s.mediaSeq, s.lastProcessed, s.discontinuityPending = window, mediaSeq, lastProcessed, pending
}

// TestScenario_S1_ColdLiveTwoSegments matches spec.md §8 S1.
func TestScenario_S1_ColdLiveTwoSegments(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "in", "ch1")
	segDir := filepath.Join(t.TempDir(), "out", "ch1", "segments")
	playlistOut := filepath.Join(t.TempDir(), "out", "ch1", "index.m3u8")

	playlistPath := writeSourcePlaylist(t, srcDir, []sourceSegment{
		{Seq: 0, URI: "segment_000.ts", Duration: 2.0, DurationText: "2.0"},
		{Seq: 1, URI: "segment_001.ts", Duration: 2.0, DurationText: "2.0"},
	})

	s := &scenarioState{discontinuityPending: true} // set_source just assigned, per §4.6
	s.tick(t, playlistPath, segDir, 5, 100)

	require.NoError(t, publish(playlistOut, 2, s.window))

	data, err := os.ReadFile(playlistOut)
	require.NoError(t, err)

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXT-X-DISCONTINUITY\n" +
		"#EXTINF:2.0,\n" +
		"segments/0.ts\n" +
		"#EXTINF:2.0,\n" +
		"segments/1.ts\n"

	assert.Equal(t, want, string(data))
}

// TestScenario_S2_WindowOverflow matches spec.md §8 S2.
func TestScenario_S2_WindowOverflow(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "in", "ch1")
	segDir := filepath.Join(t.TempDir(), "out", "ch1", "segments")

	var segs []sourceSegment
	for i := 0; i < 5; i++ {
		segs = append(segs, sourceSegment{Seq: i, URI: segmentName(i), Duration: 2.0})
	}
	playlistPath := writeSourcePlaylist(t, srcDir, segs)

	s := &scenarioState{}
	s.tick(t, playlistPath, segDir, 2, 100)

	require.Len(t, s.window, 2)
	assert.Equal(t, "3.ts", s.window[0].OutputURI)
	assert.Equal(t, "4.ts", s.window[1].OutputURI)

	for _, gone := range []string{"0.ts", "1.ts", "2.ts"} {
		_, err := os.Stat(filepath.Join(segDir, gone))
		assert.True(t, os.IsNotExist(err), "expected %s to be evicted", gone)
	}

	data, err := renderOutputPlaylist(2, s.window)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#EXT-X-MEDIA-SEQUENCE:3")
}

func segmentName(n int) string {
	return fmt.Sprintf("segment_%03d.ts", n)
}

// TestScenario_S4_SourceSwap matches spec.md §8 S4.
func TestScenario_S4_SourceSwap(t *testing.T) {
	srcA := filepath.Join(t.TempDir(), "in", "ch1")
	segDir := filepath.Join(t.TempDir(), "out", "ch1", "segments")

	playlistA := writeSourcePlaylist(t, srcA, []sourceSegment{
		{Seq: 0, URI: "segment_000.ts", Duration: 2.0},
		{Seq: 1, URI: "segment_001.ts", Duration: 2.0},
	})

	s := &scenarioState{discontinuityPending: true}
	s.tick(t, playlistA, segDir, 10, 100)
	require.Len(t, s.window, 2)
	assert.Equal(t, "0.ts", s.window[0].OutputURI)
	assert.Equal(t, "1.ts", s.window[1].OutputURI)
	assert.EqualValues(t, 2, s.mediaSeq)

	// set_source("B"): control surface resets last_processed, NOT media_seq,
	// and sets discontinuity_pending (spec.md §4.3 "Source change reset").
	s.lastProcessed = 0
	s.discontinuityPending = true

	srcB := filepath.Join(t.TempDir(), "in", "ch1-b")
	playlistB := writeSourcePlaylist(t, srcB, []sourceSegment{
		{Seq: 0, URI: "segment_000.ts", Duration: 2.0},
	})

	s.tick(t, playlistB, segDir, 10, 100)
	require.Len(t, s.window, 3)
	assert.Equal(t, "2.ts", s.window[2].OutputURI)
	assert.True(t, s.window[2].DiscontinuityBefore)
}

// TestScenario_S6_AtomicPublish matches spec.md §8 S6: concurrent readers
// never observe a torn playlist.
func TestScenario_S6_AtomicPublish(t *testing.T) {
	playlistOut := filepath.Join(t.TempDir(), "index.m3u8")
	window := []Segment{{OutputURI: "0.ts", DurationSeconds: 2.0}}
	require.NoError(t, publish(playlistOut, 2, window))

	errs := make(chan error, 51)

	// Keep republishing while the readers run, so reads race with writes.
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			next := []Segment{{OutputURI: fmt.Sprintf("%d.ts", i), DurationSeconds: 2.0}}
			if err := publish(playlistOut, 2, next); err != nil {
				errs <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := os.ReadFile(playlistOut)
			if err != nil {
				errs <- err
				return
			}
			if _, perr := parseSourcePlaylistReader(bytes.NewReader(data)); perr != nil {
				errs <- perr
			}
		}()
	}

	wg.Wait()
	close(stop)
	<-writerDone
	close(errs)
	for err := range errs {
		t.Errorf("reader saw an error: %v", err)
	}
}
