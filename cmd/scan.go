package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/transport"
)

var scanTimeout int

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover nearby BLE printers",
	Long: `Scan for Bluetooth Low Energy devices and print their addresses.
Use a discovered address as printer.address in the config, or via
PUT /api/settings/printer.

Exit codes:
  0 - Scan completed
  1 - Bluetooth adapter unavailable`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan duration in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(scanTimeout)*time.Second)
	defer cancel()

	devices, err := transport.ScanBLE(ctx, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	fmt.Printf("Scanning for %d seconds...\n", scanTimeout)
	seen := make(map[string]bool)
	for device := range devices {
		if seen[device.Address] {
			continue
		}
		seen[device.Address] = true
		name := device.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s  rssi=%-4d  %s\n", device.Address, device.RSSI, name)
	}

	fmt.Printf("Found %d device(s)\n", len(seen))
	return nil
}
