// Package transport owns the physical link to the printer. A Link moves an
// encoded command buffer to the device in payload-sized chunks; exactly one
// endpoint may be connected per process.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected       = errors.New("transport is not connected")
	ErrAlreadyConnected   = errors.New("transport is already connected")
	ErrNoPrinterInterface = errors.New("no usable printer interface found on device")
	ErrConnectTimeout     = errors.New("connection attempt timed out")
	ErrLinkLost           = errors.New("link to printer lost")
)

// State of a Link's connection machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// DeviceInfo describes a discovered candidate printer.
type DeviceInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int16  `json:"rssi"`
}

// Link is a connection to a single printer endpoint.
//
// Write splits the buffer into chunks no larger than PayloadSize, writes
// them strictly in order with a pacing delay between chunks (not after the
// last), and fails the whole write on the first chunk error. Callers must
// serialize Write calls; the orchestrator does so by processing one job at
// a time.
type Link interface {
	Connect(ctx context.Context) error
	Write(ctx context.Context, buf []byte) error
	Disconnect() error
	Connected() bool

	// PayloadSize is the negotiated maximum chunk payload. Valid while
	// Connected.
	PayloadSize() int

	// SetDisconnectHandler registers a callback fired when the link drops
	// outside an explicit Disconnect. Must be set before Connect.
	SetDisconnectHandler(func(err error))
}

// Chunks splits buf into pieces of at most payload bytes, preserving order.
// The pieces alias buf; callers must not retain them past the write.
func Chunks(buf []byte, payload int) [][]byte {
	if payload <= 0 || len(buf) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(buf)+payload-1)/payload)
	for start := 0; start < len(buf); start += payload {
		end := start + payload
		if end > len(buf) {
			end = len(buf)
		}
		out = append(out, buf[start:end])
	}
	return out
}

// writeChunked drives a raw chunk writer through a whole buffer with pacing.
// The receiver's input buffer is tiny on these devices; the delay between
// chunks keeps it from overflowing.
func writeChunked(ctx context.Context, write func([]byte) error, buf []byte, payload int, delay time.Duration) error {
	chunks := Chunks(buf, payload)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := write(chunk); err != nil {
			return fmt.Errorf("failed to write chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if delay > 0 && i < len(chunks)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
