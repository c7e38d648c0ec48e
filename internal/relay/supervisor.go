package relay

import (
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/fifthbell/caupolican/internal/version"
	"github.com/fifthbell/caupolican/pkg/procsupervisor"
)

// transcoderArgs builds the fixed ffmpeg invocation that reads liveURL and
// writes an HLS directory at outDir, matching the reference relay's
// hard-coded encode ladder. The relay treats the transcoder as a black
// box; these flags set input reconnection, scaling and encoder settings,
// and the HLS output layout.
func transcoderArgs(binary, liveURL, outDir string, targetDuration, windowSegments int) (string, []string) {
	playlist := outDir + "/index.m3u8"
	segPattern := outDir + "/segment_%03d.ts"

	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_delay_max", "2",
		"-rw_timeout", "15000000",
		"-http_persistent", "0",
		"-user_agent", version.UserAgent(),
		"-probesize", "512k",
		"-analyzeduration", "1M",
		"-i", liveURL,
		"-vf", "scale=-2:1080:flags=bicubic,fps=30",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-g", "60",
		"-keyint_min", "60",
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", targetDuration),
		"-hls_list_size", fmt.Sprintf("%d", windowSegments),
		"-hls_flags", "independent_segments+delete_segments+program_date_time",
		"-hls_segment_filename", segPattern,
		playlist,
	}
	return binary, args
}

// startSubprocess creates outDir if missing and spawns the transcoder,
// returning a handle the reaper goroutine can watch. Precondition: the
// worker holds no other live handle for this channel (invariant 6).
func startSubprocess(binary, liveURL, outDir string, targetDuration, windowSegments int, logger *slog.Logger) (*processHandle, error) {
	if err := mkdirAll(outDir); err != nil {
		return nil, err
	}

	name, args := transcoderArgs(binary, liveURL, outDir, targetDuration, windowSegments)
	cmd := exec.Command(name, args...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting transcoder: %w", err)
	}

	h := &processHandle{cmd: cmd, startedAt: time.Now(), done: make(chan struct{})}
	h.monitor = procsupervisor.NewMonitor(cmd.Process.Pid, time.Second)
	h.monitor.Start()

	go func() {
		err := cmd.Wait()
		h.monitor.Stop()
		if err != nil {
			logger.Warn("transcoder exited", "error", err)
		} else {
			logger.Info("transcoder exited")
		}
		close(h.done)
	}()

	return h, nil
}

// stopSubprocess sends SIGTERM, waits up to grace for the reaper goroutine
// to observe exit, then sends SIGKILL as a last resort.
func stopSubprocess(h *processHandle, grace time.Duration) {
	if h == nil || h.cmd.Process == nil {
		return
	}

	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-h.done:
		return
	case <-time.After(grace):
	}

	_ = h.cmd.Process.Signal(syscall.SIGKILL)
	<-h.done
}

// backoffDelay computes the bounded exponential backoff for the Nth
// consecutive restart attempt (spec.md §4.1).
func backoffDelay(restartCount int, base time.Duration, factor float64, cap time.Duration) time.Duration {
	d := float64(base)
	for i := 0; i < restartCount; i++ {
		d *= factor
	}
	delay := time.Duration(d)
	if delay > cap {
		return cap
	}
	if delay < 0 {
		return cap
	}
	return delay
}
