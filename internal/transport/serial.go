package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// serialPayload is the chunk payload for serial links. There is no MTU
// negotiation on a UART so the size is fixed small, matching the receive
// buffers found on serial receipt printers.
const serialPayload = 64

// SerialOptions configure a SerialLink.
type SerialOptions struct {
	Device     string
	BaudRate   int
	ChunkDelay time.Duration
}

// SerialLink drives a printer over a serial port. It satisfies the same
// Link contract as the BLE transport so the orchestrator does not care which
// physical layer is in use.
type SerialLink struct {
	opts   SerialOptions
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	port         serial.Port
	onDisconnect func(error)
}

func NewSerialLink(opts SerialOptions, logger *zap.Logger) *SerialLink {
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	return &SerialLink{opts: opts, logger: logger}
}

func (l *SerialLink) SetDisconnectHandler(fn func(err error)) {
	l.mu.Lock()
	l.onDisconnect = fn
	l.mu.Unlock()
}

func (l *SerialLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == Connected
}

func (l *SerialLink) PayloadSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connected {
		return 0
	}
	return serialPayload
}

func (l *SerialLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state == Connecting {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	if l.state == Connected {
		l.mu.Unlock()
		if err := l.Disconnect(); err != nil {
			return fmt.Errorf("failed to close previous port: %w", err)
		}
		l.mu.Lock()
	}
	l.state = Connecting
	l.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: l.opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(l.opts.Device, mode)
	if err != nil {
		l.mu.Lock()
		l.state = Disconnected
		l.mu.Unlock()
		return fmt.Errorf("failed to open serial port %s: %w", l.opts.Device, err)
	}

	l.logger.Info("serial link established",
		zap.String("device", l.opts.Device),
		zap.Int("baud", l.opts.BaudRate))

	l.mu.Lock()
	l.port = port
	l.state = Connected
	l.mu.Unlock()
	return nil
}

func (l *SerialLink) Write(ctx context.Context, buf []byte) error {
	l.mu.Lock()
	if l.state != Connected {
		l.mu.Unlock()
		return ErrNotConnected
	}
	port := l.port
	l.mu.Unlock()

	err := writeChunked(ctx, func(chunk []byte) error {
		n, err := port.Write(chunk)
		if err != nil {
			return err
		}
		if n != len(chunk) {
			return fmt.Errorf("short write: %d of %d bytes", n, len(chunk))
		}
		return nil
	}, buf, serialPayload, l.opts.ChunkDelay)

	if err != nil {
		// A failed UART write usually means the cable or adapter is gone.
		l.mu.Lock()
		wasConnected := l.state == Connected
		l.state = Disconnected
		handler := l.onDisconnect
		l.mu.Unlock()
		port.Close()
		if wasConnected && handler != nil {
			handler(ErrLinkLost)
		}
		return err
	}
	return nil
}

func (l *SerialLink) Disconnect() error {
	l.mu.Lock()
	if l.state != Connected {
		l.mu.Unlock()
		return nil
	}
	port := l.port
	l.state = Disconnected
	l.mu.Unlock()

	if err := port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}
