// Package cleanup runs the disk-pressure sweep: a cron-scheduled job that
// reclaims storage by stopping inactive channels first, then the oldest
// active ones, once the configured disk usage threshold is exceeded.
package cleanup

import (
	"log/slog"
	"sort"

	"github.com/robfig/cron/v3"

	"github.com/fifthbell/caupolican/internal/config"
)

// Relay is the subset of *relay.Manager the sweep depends on, kept
// narrow so this package stays decoupled from relay's internals.
type Relay interface {
	ListChannels() []ChannelSnapshot
	StopSource(channelID string) error
}

// ChannelSnapshot is the data the sweep needs about one channel.
type ChannelSnapshot struct {
	ChannelID string
	Active    bool
	MediaSeq  int64
}

// DiskUsage reports the current fraction of OUT_ROOT's filesystem in use.
type DiskUsage func(path string) (float64, error)

// Sweeper schedules and runs the disk-pressure sweep on a cron cadence
// (spec.md §6 out-of-scope "disk-pressure cleanup", grounded on the
// reference's periodic_cleanup/check_disk_usage).
type Sweeper struct {
	cfg       config.CleanupConfig
	outRoot   string
	relay     Relay
	diskUsage DiskUsage
	logger    *slog.Logger

	cron *cron.Cron
}

// NewSweeper constructs a Sweeper. diskUsage and relay are injected so
// the sweep logic is independent of gopsutil and the relay manager.
func NewSweeper(cfg config.CleanupConfig, outRoot string, relay Relay, diskUsage DiskUsage, logger *slog.Logger) *Sweeper {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	return &Sweeper{
		cfg:       cfg,
		outRoot:   outRoot,
		relay:     relay,
		diskUsage: diskUsage,
		logger:    logger,
		cron:      c,
	}
}

// Start registers the sweep job and starts the cron engine. No-op if
// cleanup is disabled in configuration.
func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	_, err := s.cron.AddFunc(s.cfg.Cron, s.runSweep)
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron engine and waits for any in-flight job.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runSweep is the cron job body: check disk usage and, when it is over
// threshold, stop channels (first inactive, then oldest active by
// media_seq) up to channels_per_sweep. Usage is not re-measured between
// stops.
func (s *Sweeper) runSweep() {
	usage, err := s.diskUsage(s.outRoot)
	if err != nil {
		s.logger.Warn("disk usage check failed", "error", err)
		return
	}

	if usage <= s.cfg.DiskUsageThreshold {
		return
	}

	s.logger.Warn("disk usage over threshold, reclaiming channels",
		"usage", usage, "threshold", s.cfg.DiskUsageThreshold)

	stopped := s.reclaim(usage)
	s.logger.Info("cleanup sweep complete", "channels_stopped", stopped)
}

// reclaim stops up to channels_per_sweep channels (every candidate when
// that is <= 0), whatever the measured usage. It stops inactive channels
// first (they contribute window storage with no ingestion benefit), then
// active channels ordered oldest-media_seq-first.
func (s *Sweeper) reclaim(usage float64) int {
	channels := s.relay.ListChannels()

	var inactive, active []ChannelSnapshot
	for _, c := range channels {
		if c.Active {
			active = append(active, c)
		} else {
			inactive = append(inactive, c)
		}
	}

	sort.Slice(active, func(i, j int) bool { return active[i].MediaSeq < active[j].MediaSeq })

	candidates := append(inactive, active...)

	stopped := 0
	limit := s.cfg.ChannelsPerSweep
	if limit <= 0 {
		limit = len(candidates)
	}

	for _, c := range candidates {
		if stopped >= limit {
			break
		}
		if err := s.relay.StopSource(c.ChannelID); err != nil {
			s.logger.Warn("failed to stop channel during cleanup", "channel", c.ChannelID, "error", err)
			continue
		}
		stopped++
	}

	return stopped
}
