package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/config"
	"github.com/inkfeed/inkfeed/internal/core"
	"github.com/inkfeed/inkfeed/internal/escpos"
	"github.com/inkfeed/inkfeed/internal/raster"
	"github.com/inkfeed/inkfeed/internal/render"
)

var (
	printAddress   string
	printTransport string
	printBaud      int
	printWidth     string
	printNoCut     bool
	printEncoding  string
)

var printCmd = &cobra.Command{
	Use:   "print <file>",
	Short: "Print a file directly, bypassing the service",
	Long: `Connect to a printer and print a single file. PNG and JPEG files are
rasterized to the paper width; anything else is sent as plain text.

Examples:
  inkfeed print --address AA:BB:CC:DD:EE:FF receipt.txt
  inkfeed print --transport serial --address /dev/ttyUSB0 photo.png`,
	Args: cobra.ExactArgs(1),
	RunE: runPrint,
}

func init() {
	rootCmd.AddCommand(printCmd)
	printCmd.Flags().StringVarP(&printAddress, "address", "a", "", "BLE MAC address or serial device path")
	printCmd.Flags().StringVar(&printTransport, "transport", "ble", "Transport: ble or serial")
	printCmd.Flags().IntVar(&printBaud, "baud", 115200, "Baud rate (serial only)")
	printCmd.Flags().StringVar(&printWidth, "width", "narrow", "Paper width: narrow or wide")
	printCmd.Flags().BoolVar(&printNoCut, "no-cut", false, "Skip the trailing cut")
	printCmd.Flags().StringVar(&printEncoding, "encoding", "utf8", "Text encoding: utf8, cp437 or shiftjis")
	printCmd.MarkFlagRequired("address")
}

func runPrint(cmd *cobra.Command, args []string) error {
	base := config.LoadFromEnv()
	cfg := base.Printer
	cfg.Transport = printTransport
	cfg.Address = printAddress
	cfg.PaperWidth = printWidth
	cfg.AutoCut = !printNoCut
	cfg.Encoding = printEncoding
	cfg.BaudRate = printBaud
	if err := cfg.Validate(); err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	buf, err := encodeFile(args[0], content, cfg)
	if err != nil {
		return err
	}

	link := core.DefaultLinkFactory(cfg, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := link.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer link.Disconnect()

	writeCtx, cancelWrite := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancelWrite()
	if err := link.Write(writeCtx, buf); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}

	fmt.Printf("Printed %s (%d bytes)\n", args[0], len(buf))
	return nil
}

func encodeFile(path string, content []byte, cfg config.PrinterConfig) ([]byte, error) {
	b := escpos.NewBuilder(escpos.ParseEncoding(cfg.Encoding)).
		Init().
		Density(cfg.Density)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		img, _, err := image.Decode(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		bitmap, err := raster.Quantize(render.ScaleToWidth(img, cfg.DotsPerLine()))
		if err != nil {
			return nil, err
		}
		b.Raster(bitmap)
	default:
		for _, line := range strings.Split(string(content), "\n") {
			b.Text(line).Newline()
		}
	}

	b.Feed(cfg.FeedLines)
	if cfg.AutoCut {
		b.Cut(escpos.CutFull)
	}
	return b.Encode()
}
