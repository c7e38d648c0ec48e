// Package standby launches and supervises the shared fallback
// transcoder: a synthetic test-pattern or static-image stream written to
// in/standby/, read by every channel worker that has no live source or
// whose live source has stalled (spec.md §6 "standby input directory").
package standby

import (
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/fifthbell/caupolican/internal/config"
)

// Launcher owns the single global standby transcoder subprocess.
type Launcher struct {
	cfg    config.StandbyConfig
	outDir string
	binary string
	logger *slog.Logger

	cmd  *exec.Cmd
	done chan struct{}
}

// NewLauncher constructs a Launcher that will write its output under outDir.
func NewLauncher(cfg config.StandbyConfig, outDir, binary string, logger *slog.Logger) *Launcher {
	return &Launcher{cfg: cfg, outDir: outDir, binary: binary, logger: logger}
}

// Start spawns the standby transcoder. No-op if standby is disabled.
func (l *Launcher) Start() error {
	if !l.cfg.Enabled {
		return nil
	}

	name, args := l.buildArgs()
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting standby transcoder: %w", err)
	}

	l.cmd = cmd
	l.done = make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			l.logger.Warn("standby transcoder exited", "error", err)
		}
		close(l.done)
	}()

	return nil
}

// Stop terminates the standby transcoder, SIGTERM then SIGKILL after grace.
func (l *Launcher) Stop(grace time.Duration) {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}

	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-l.done:
		return
	case <-time.After(grace):
	}

	_ = l.cmd.Process.Signal(syscall.SIGKILL)
	<-l.done
}

// buildArgs constructs the standby ffmpeg invocation: a synthetic
// smptebars/anullsrc test pattern, or a static image with a text overlay
// when an image path is configured.
func (l *Launcher) buildArgs() (string, []string) {
	playlist := l.outDir + "/index.m3u8"
	segPattern := l.outDir + "/segment_%03d.ts"
	res := l.cfg.Resolution
	if res == "" {
		res = "1920x1080"
	}
	rate := l.cfg.FrameRate
	if rate <= 0 {
		rate = 30
	}

	var args []string
	if l.cfg.Image != "" {
		args = append(args,
			"-loop", "1",
			"-i", l.cfg.Image,
			"-f", "lavfi", "-i", "anullsrc=r=48000:cl=stereo",
			"-vf", fmt.Sprintf("scale=%s,drawtext=text='%s':fontcolor=white:fontsize=48:x=(w-text_w)/2:y=(h-text_h)/2", res, escapeDrawtext(l.cfg.Text)),
		)
	} else {
		args = append(args,
			"-f", "lavfi", "-i", fmt.Sprintf("smptebars=size=%s:rate=%d", res, rate),
			"-f", "lavfi", "-i", "anullsrc=r=48000:cl=stereo",
		)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "6",
		"-hls_flags", "independent_segments+delete_segments+program_date_time",
		"-hls_segment_filename", segPattern,
		playlist,
	)

	return l.binary, args
}

func escapeDrawtext(text string) string {
	if text == "" {
		return "STANDBY"
	}
	return text
}
