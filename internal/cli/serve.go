// serve.go implements the "trellis serve" command running the HTTP API.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/orchestrator"
	"github.com/trellis-dev/trellis/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration server",
	Long: `Start the HTTP API that drives the discover, plan, execute, and
converge workflow. Uses .trellis/config.yaml when present, defaults
otherwise.`,
	RunE: runServe,
}

var addrFlag string

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.ReadConfig(dir)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	level := cfg.Log.Level
	if Verbose() {
		level = "debug"
	}
	logger := log.Setup(level, cfg.Log.Format)

	events, err := log.NewLogger(dir)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(cmd.Context(), cfg, logger, events)
	if err != nil {
		return err
	}
	defer func() {
		if derr := orch.Destroy(); derr != nil {
			logger.Warn().Err(derr).Msg("destroying orchestrator")
		}
	}()

	addr := cfg.Server.Addr
	if addrFlag != "" {
		addr = addrFlag
	}
	srv, err := server.NewServer(orch, addr, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if serr := srv.Start(); serr != nil && serr != http.ErrServerClosed {
			errCh <- serr
		}
	}()
	fmt.Printf("trellis serving on http://%s\n", srv.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case serr := <-errCh:
		return fmt.Errorf("server failed: %w", serr)
	}
	return srv.Stop()
}
