package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inkfeed",
	Short: "Print spooler for ESC/POS thermal receipt printers",
	Long: `Inkfeed drives cheap thermal receipt printers over Bluetooth Low Energy
or serial. It runs as a small service with an HTTP API: submit text,
images or raw ESC/POS bytes, and jobs are queued, rasterized and fed to
the printer in order. Jobs submitted while no printer is configured are
held durably and printed once one is.

Commands:
  serve   Run the spooler service
  scan    Discover nearby BLE printers
  print   Print a file directly, bypassing the service`,
	Version: "1.2.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
