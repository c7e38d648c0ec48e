package relay

import (
	"log/slog"

	"github.com/fifthbell/caupolican/internal/config"
)

// Context bundles the collaborators a ChannelWorker needs, threaded
// explicitly instead of reached for via package-level state (spec.md §9
// "Global state → explicit collaborators").
type Context struct {
	Cfg    config.RelayConfig
	Paths  config.StorageConfig
	Logger *slog.Logger
}

// StandbyPlaylistPath is the shared fallback playlist every worker reads
// when it has no live source or its live source has stalled.
func (c *Context) StandbyPlaylistPath() string {
	return c.Paths.StandbyInDir() + "/index.m3u8"
}

// ChannelLivePlaylistPath is the per-channel upstream playlist a worker's
// supervised transcoder writes.
func (c *Context) ChannelLivePlaylistPath(channelID string) string {
	return c.Paths.ChannelInDir(channelID) + "/index.m3u8"
}
