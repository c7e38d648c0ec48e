package relay

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fifthbell/caupolican/internal/observability"
)

// newInstanceID returns a fresh sortable identifier for a worker instance,
// distinguishing successive workers created for the same channel ID across
// a delete_channel -> set_source re-creation cycle (spec.md §6 status).
func newInstanceID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Status is the snapshot returned by ChannelWorker.Status.
type Status struct {
	ChannelID     string  `json:"channel_id"`
	InstanceID    string  `json:"instance_id"`
	Active        bool    `json:"active"`
	CurrentSource string  `json:"current_source"`
	MediaSeq      int64   `json:"media_seq"`
	WindowLength  int     `json:"window_length"`
	RestartCount  int     `json:"restart_count"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	MemoryRSS     uint64  `json:"memory_rss_bytes,omitempty"`
}

// ChannelWorker is the per-channel relay state machine (spec.md §3). All
// fields below the mutex are owned exclusively by whichever goroutine
// currently holds it: the background tick loop for the whole tick body,
// or a control operation for the whole operation (spec.md §5).
type ChannelWorker struct {
	channelID  string
	instanceID string
	rc         *Context
	logger     *slog.Logger

	mu sync.Mutex

	mediaSeq             int64
	window               []Segment
	liveURL              string
	currentSource        Source
	discontinuityPending bool
	restartCount         int
	lastProcessed        int
	active               bool
	running              bool
	handle               *processHandle

	stopCh chan struct{}
}

// newChannelWorker constructs a worker in standby state with an empty
// window, matching a freshly created channel (spec.md §3 lifecycle).
func newChannelWorker(channelID string, rc *Context) *ChannelWorker {
	instanceID := newInstanceID()
	return &ChannelWorker{
		channelID:     channelID,
		instanceID:    instanceID,
		rc:            rc,
		logger:        observability.WithChannel(rc.Logger, channelID, instanceID),
		currentSource: SourceStandby,
		running:       true,
		stopCh:        make(chan struct{}),
	}
}

// run is the worker's dedicated background task: it ticks on the
// configured cadence until stop() flips running to false (spec.md §5).
func (w *ChannelWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.rc.Cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick runs one full tick body under the worker mutex: source selection,
// stitching, and publishing (spec.md §4.2-§4.5).
func (w *ChannelWorker) tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	now := time.Now()
	threshold := stallThreshold(w.rc.Cfg.TargetDuration, w.rc.Cfg.StallFactor)
	livePlaylist := w.rc.ChannelLivePlaylistPath(w.channelID)

	stalled := isStalled(w.active, livePlaylist, threshold, now)
	effective := selectSource(w.active, stalled)

	if effective != w.currentSource {
		w.currentSource = effective
		w.discontinuityPending = true
	}

	var sourcePlaylist string
	if effective == SourceLive {
		sourcePlaylist = livePlaylist
	} else {
		sourcePlaylist = w.rc.StandbyPlaylistPath()
	}

	segDir := segmentsDir(w.rc.Paths.ChannelOutDir(w.channelID))

	newWindow, newMediaSeq, newLastProcessed, newPending, err := stitchTick(
		sourcePlaylist,
		segDir,
		w.window,
		w.mediaSeq,
		w.lastProcessed,
		w.discontinuityPending,
		w.rc.Cfg.WindowSegments,
		w.rc.Cfg.MaxSegmentsPerChannel,
	)
	if err != nil {
		w.logger.Warn("stitch tick failed", "error", err)
		return
	}

	w.window = newWindow
	w.mediaSeq = newMediaSeq
	w.lastProcessed = newLastProcessed
	w.discontinuityPending = newPending

	playlistPath := w.rc.Paths.ChannelOutDir(w.channelID) + "/index.m3u8"
	targetSeconds := int(w.rc.Cfg.TargetDuration / time.Second)
	if err := publish(playlistPath, targetSeconds, w.window); err != nil {
		w.logger.Warn("publish failed", "error", err)
	}
}

// SetSource implements spec.md §4.6 set_source.
func (w *ChannelWorker) SetSource(url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopSubprocessLocked()

	w.liveURL = url
	w.active = true
	w.currentSource = SourceLive
	w.discontinuityPending = true
	w.lastProcessed = 0
	w.restartCount = 0

	return w.startSubprocessLocked()
}

// StopSource implements spec.md §4.6 stop_source. The window is preserved.
func (w *ChannelWorker) StopSource() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopSubprocessLocked()
	if err := removeAll(w.rc.Paths.ChannelInDir(w.channelID)); err != nil {
		return err
	}

	w.active = false
	w.liveURL = ""
	w.currentSource = SourceStandby
	w.discontinuityPending = true

	return nil
}

// ResetWindow implements spec.md §4.6 reset_window.
func (w *ChannelWorker) ResetWindow() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	segDir := segmentsDir(w.rc.Paths.ChannelOutDir(w.channelID))
	if err := removeAll(segDir); err != nil {
		return err
	}
	if err := mkdirAll(segDir); err != nil {
		return err
	}

	w.window = nil
	w.mediaSeq = 0
	w.lastProcessed = 0

	return nil
}

// Stop implements spec.md §4.6 stop: stop_source plus halting the
// background loop. Output directory removal is the control plane's
// responsibility, not the worker's (spec.md §3 lifecycle).
func (w *ChannelWorker) Stop() error {
	w.mu.Lock()
	w.stopSubprocessLocked()
	if err := removeAll(w.rc.Paths.ChannelInDir(w.channelID)); err != nil {
		w.mu.Unlock()
		return err
	}
	w.active = false
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return nil
}

// Status implements spec.md §4.6 status.
func (w *ChannelWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{
		ChannelID:     w.channelID,
		InstanceID:    w.instanceID,
		Active:        w.active,
		CurrentSource: w.currentSource.String(),
		MediaSeq:      w.mediaSeq,
		WindowLength:  len(w.window),
		RestartCount:  w.restartCount,
	}
	if w.handle != nil && w.handle.monitor != nil {
		s := w.handle.monitor.Stats()
		st.CPUPercent = s.CPUPercent
		st.MemoryRSS = s.MemoryRSS
	}
	return st
}

// startSubprocessLocked starts the transcoder for the current liveURL.
// Caller must hold w.mu. No-op if liveURL is unset (spec.md §4.1 start).
func (w *ChannelWorker) startSubprocessLocked() error {
	if w.liveURL == "" {
		return nil
	}

	outDir := w.rc.Paths.ChannelInDir(w.channelID)
	h, err := startSubprocess(
		w.rc.Cfg.TranscoderBinary,
		w.liveURL,
		outDir,
		int(w.rc.Cfg.TargetDuration/time.Second),
		w.rc.Cfg.WindowSegments,
		w.logger,
	)
	if err != nil {
		w.logger.Warn("failed to start transcoder", "error", err)
		return nil
	}

	w.handle = h
	go w.watchSubprocess(h)
	return nil
}

// stopSubprocessLocked terminates any owned subprocess. Caller must hold w.mu.
func (w *ChannelWorker) stopSubprocessLocked() {
	if w.handle == nil {
		return
	}
	stopSubprocess(w.handle, w.rc.Cfg.ProcessGrace)
	w.handle = nil
}

// watchSubprocess reaps an exited transcoder opportunistically and, if it
// is still the worker's current handle, runs the crash-restart policy
// (spec.md §4.1 handle_crash and §9 "opportunistic reaping").
func (w *ChannelWorker) watchSubprocess(h *processHandle) {
	<-h.done

	w.mu.Lock()
	if w.handle != h || !w.running {
		w.mu.Unlock()
		return // superseded by a control operation or the worker has stopped.
	}
	w.handle = nil

	if w.liveURL == "" {
		w.mu.Unlock()
		return
	}

	if w.restartCount >= w.rc.Cfg.RestartMax {
		w.restartCount = 0
		w.mu.Unlock()
		return
	}

	delay := backoffDelay(w.restartCount, w.rc.Cfg.BackoffBase, w.rc.Cfg.BackoffFactor, w.rc.Cfg.BackoffCap)
	w.restartCount++
	liveURL := w.liveURL
	w.mu.Unlock()

	// The backoff sleep happens outside the mutex so ticks and control
	// operations are not blocked for up to BACKOFF_CAP_MS.
	time.Sleep(delay)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.liveURL != liveURL || w.handle != nil {
		return // superseded while we slept.
	}
	if err := w.startSubprocessLocked(); err != nil {
		w.logger.Warn("restart failed", "error", err)
	}
}
