package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// Well-known GATT signatures, tried in priority order: the common thermal
// printer service, then the cat-printer vendor service, then anything with a
// writable characteristic.
var (
	printerService = bluetooth.New16BitUUID(0xFF00)
	printerWriter  = bluetooth.New16BitUUID(0xFF02)
	vendorService  = bluetooth.New16BitUUID(0xAE30)
	vendorWriter   = bluetooth.New16BitUUID(0xAE01)
)

// attHeaderOverhead is consumed by the ATT write header inside each MTU.
const attHeaderOverhead = 3

// minPayload is the payload of the minimum BLE MTU (23). Used when MTU
// negotiation is unavailable: fail closed rather than guess large.
const minPayload = 20

var (
	adapterOnce sync.Once
	adapterErr  error
)

func enableAdapter() (*bluetooth.Adapter, error) {
	adapter := bluetooth.DefaultAdapter
	adapterOnce.Do(func() {
		adapterErr = adapter.Enable()
	})
	if adapterErr != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", adapterErr)
	}
	return adapter, nil
}

// BLEOptions configure a BLELink.
type BLEOptions struct {
	Address        string
	ConnectTimeout time.Duration
	ChunkDelay     time.Duration
}

// BLELink drives a printer over Bluetooth Low Energy.
type BLELink struct {
	opts   BLEOptions
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	device       bluetooth.Device
	writer       bluetooth.DeviceCharacteristic
	payload      int
	onDisconnect func(error)
}

func NewBLELink(opts BLEOptions, logger *zap.Logger) *BLELink {
	return &BLELink{opts: opts, logger: logger}
}

func (l *BLELink) SetDisconnectHandler(fn func(err error)) {
	l.mu.Lock()
	l.onDisconnect = fn
	l.mu.Unlock()
}

func (l *BLELink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == Connected
}

func (l *BLELink) PayloadSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connected {
		return 0
	}
	return l.payload
}

// Connect establishes the link and negotiates the chunk payload size. A link
// that is already connected to another endpoint is torn down first so two
// writers never race on the radio.
func (l *BLELink) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state == Connecting {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	if l.state == Connected {
		l.mu.Unlock()
		if err := l.Disconnect(); err != nil {
			return fmt.Errorf("failed to tear down previous connection: %w", err)
		}
		l.mu.Lock()
	}
	l.state = Connecting
	l.mu.Unlock()

	err := l.connect(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = Disconnected
		return err
	}
	l.state = Connected
	return nil
}

func (l *BLELink) connect(ctx context.Context) error {
	adapter, err := enableAdapter()
	if err != nil {
		return err
	}

	var addr bluetooth.Address
	addr.Set(l.opts.Address)

	adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			return
		}
		l.mu.Lock()
		wasConnected := l.state == Connected && d.Address == l.device.Address
		if wasConnected {
			l.state = Disconnected
		}
		handler := l.onDisconnect
		l.mu.Unlock()

		if wasConnected {
			l.logger.Warn("ble link lost", zap.String("address", l.opts.Address))
			if handler != nil {
				handler(ErrLinkLost)
			}
		}
	})

	timeout := l.opts.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	l.logger.Debug("connecting to ble device", zap.String("address", l.opts.Address))
	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}

	writer, err := selectWriter(device)
	if err != nil {
		device.Disconnect()
		return err
	}

	payload := minPayload
	if mtu, err := writer.GetMTU(); err == nil && int(mtu) > attHeaderOverhead {
		payload = int(mtu) - attHeaderOverhead
	} else {
		l.logger.Warn("mtu negotiation unavailable, assuming minimum payload",
			zap.Int("payload", minPayload))
	}

	l.logger.Info("ble link established",
		zap.String("address", l.opts.Address),
		zap.Int("payload", payload))

	l.mu.Lock()
	l.device = device
	l.writer = writer
	l.payload = payload
	l.mu.Unlock()
	return nil
}

// selectWriter walks the device's services in signature priority order and
// returns the characteristic output should be written to.
func selectWriter(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	var zero bluetooth.DeviceCharacteristic

	if services, err := device.DiscoverServices([]bluetooth.UUID{printerService}); err == nil && len(services) > 0 {
		if chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{printerWriter}); err == nil && len(chars) > 0 {
			return chars[0], nil
		}
	}

	if services, err := device.DiscoverServices([]bluetooth.UUID{vendorService}); err == nil && len(services) > 0 {
		if chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{vendorWriter}); err == nil && len(chars) > 0 {
			return chars[0], nil
		}
	}

	// Last resort: the first service exposing any characteristic we can
	// write to. The characteristic API exposes no property flags, so probe
	// with a zero-length write command: it carries no data bytes, and the
	// stack rejects it on notify-only characteristics.
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return zero, fmt.Errorf("failed to discover services: %w", err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, c := range chars {
			if _, err := c.WriteWithoutResponse(nil); err == nil {
				return c, nil
			}
		}
	}

	return zero, ErrNoPrinterInterface
}

func (l *BLELink) Write(ctx context.Context, buf []byte) error {
	l.mu.Lock()
	if l.state != Connected {
		l.mu.Unlock()
		return ErrNotConnected
	}
	writer := l.writer
	payload := l.payload
	l.mu.Unlock()

	return writeChunked(ctx, func(chunk []byte) error {
		_, err := writer.WriteWithoutResponse(chunk)
		return err
	}, buf, payload, l.opts.ChunkDelay)
}

func (l *BLELink) Disconnect() error {
	l.mu.Lock()
	if l.state != Connected {
		l.mu.Unlock()
		return nil
	}
	device := l.device
	l.state = Disconnected
	l.mu.Unlock()

	if err := device.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect ble device: %w", err)
	}
	return nil
}

// ScanBLE streams discovered devices until ctx is canceled. Cancellation is
// the explicit stop-scan call; the returned channel closes once the radio
// has stopped scanning.
func ScanBLE(ctx context.Context, logger *zap.Logger) (<-chan DeviceInfo, error) {
	adapter, err := enableAdapter()
	if err != nil {
		return nil, err
	}

	out := make(chan DeviceInfo, 16)

	go func() {
		defer close(out)
		err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case out <- DeviceInfo{
				Address: result.Address.String(),
				Name:    result.LocalName(),
				RSSI:    result.RSSI,
			}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			logger.Error("ble scan failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		adapter.StopScan()
	}()

	return out, nil
}
