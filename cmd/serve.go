package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/wirecat/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a capture session behind the control API",
	Long: `Run wirecat in the foreground as a service.

The daemon will:
  1. Load configuration and initialize logging and metrics
  2. Open the capture device (capture starts only if capture.autostart is set)
  3. Serve the HTTP control API for start/stop/clear, filtering,
     reassembly and export
  4. Publish packet summaries to NATS if sinks.nats is enabled
  5. Stop on SIGTERM/SIGINT and reload logging on SIGHUP`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	serveCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (none when empty)")
}

func runServe() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	return d.Run()
}
