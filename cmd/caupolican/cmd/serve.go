package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fifthbell/caupolican/internal/cleanup"
	"github.com/fifthbell/caupolican/internal/config"
	"github.com/fifthbell/caupolican/internal/diskstat"
	"github.com/fifthbell/caupolican/internal/httpapi"
	"github.com/fifthbell/caupolican/internal/observability"
	"github.com/fifthbell/caupolican/internal/relay"
	"github.com/fifthbell/caupolican/internal/standby"
	"github.com/fifthbell/caupolican/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay daemon",
	Long: `Start the HLS relay daemon: the per-channel worker pool, the
global standby transcoder, the disk-pressure cleanup sweep, and the
control-plane HTTP server.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().String("out-root", "", "output root directory (overrides config)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.out_root", serveCmd.Flags().Lookup("out-root"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("out-root") {
		cfg.Storage.OutRoot, _ = cmd.Flags().GetString("out-root")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	transcoderBinary, err := util.FindBinary(cfg.Relay.TranscoderBinary, "CAUPOLICAN_TRANSCODER_BINARY")
	if err != nil {
		return fmt.Errorf("resolving relay.transcoder_binary: %w", err)
	}
	cfg.Relay.TranscoderBinary = transcoderBinary

	rc := &relay.Context{Cfg: cfg.Relay, Paths: cfg.Storage, Logger: logger}
	mgr := relay.NewManager(rc)

	standbyLauncher := standby.NewLauncher(cfg.Standby, cfg.Storage.StandbyInDir(), cfg.Relay.TranscoderBinary, logger)
	if err := standbyLauncher.Start(); err != nil {
		logger.Warn("failed to start standby transcoder", "error", err)
	}
	defer standbyLauncher.Stop(cfg.Relay.ProcessGrace)

	sweeper := cleanup.NewSweeper(cfg.Cleanup, cfg.Storage.OutRoot, managerRelayAdapter{mgr}, diskstat.Usage, logger)
	if err := sweeper.Start(); err != nil {
		logger.Warn("failed to start cleanup sweeper", "error", err)
	}
	defer sweeper.Stop()

	server := httpapi.NewServer(cfg.Server, mgr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.ListenAndServe() }()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErrCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	case <-ctx.Done():
	}

	mgr.Shutdown()
	return server.Shutdown(context.Background())
}

// managerRelayAdapter adapts *relay.Manager's []relay.Status to the
// cleanup package's narrower ChannelSnapshot view, keeping cleanup
// decoupled from relay's types.
type managerRelayAdapter struct {
	mgr *relay.Manager
}

func (a managerRelayAdapter) ListChannels() []cleanup.ChannelSnapshot {
	statuses := a.mgr.ListChannels()
	out := make([]cleanup.ChannelSnapshot, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, cleanup.ChannelSnapshot{ChannelID: st.ChannelID, Active: st.Active, MediaSeq: st.MediaSeq})
	}
	return out
}

func (a managerRelayAdapter) StopSource(channelID string) error {
	return a.mgr.StopSource(channelID)
}
