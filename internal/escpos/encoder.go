// Package escpos builds ESC/POS command streams for thermal receipt
// printers. A Builder accumulates opcode bytes through chained calls and is
// finalized with Encode; it performs no I/O.
package escpos

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/inkfeed/inkfeed/internal/raster"
)

var (
	ErrUnsupportedSymbology = errors.New("unsupported barcode symbology")
	ErrTextEncoding         = errors.New("text cannot be represented in the selected encoding")
)

type Alignment byte

const (
	AlignLeft   Alignment = 0x00
	AlignCenter Alignment = 0x01
	AlignRight  Alignment = 0x02
)

type FontSize byte

const (
	FontNormal       FontSize = 0x00
	FontDoubleHeight FontSize = 0x01
	FontDoubleWidth  FontSize = 0x10
	FontDouble       FontSize = 0x11
)

type CutMode byte

const (
	CutFull    CutMode = 0x00
	CutPartial CutMode = 0x01
)

// Symbology selects the barcode type for the GS k function-B form.
type Symbology byte

const (
	UPCA    Symbology = 65
	UPCE    Symbology = 66
	EAN13   Symbology = 67
	EAN8    Symbology = 68
	Code39  Symbology = 69
	ITF     Symbology = 70
	Codabar Symbology = 71
	Code93  Symbology = 72
	Code128 Symbology = 73
)

func (s Symbology) valid() bool {
	return s >= UPCA && s <= Code128
}

// Protocol limits. Values outside these ranges are clamped, matching how the
// hardware itself tolerates out-of-range parameters.
const (
	maxFeedLines     = 255
	maxBarcodeHeight = 255
	minBarcodeHeight = 1
	maxQRSize        = 16
	minQRSize        = 1
	maxQRData        = 2953
	maxDensity       = 4
	minDensity       = 1
	maxBeepCount     = 9
	maxBeepDuration  = 9
)

// Builder accumulates an ESC/POS command buffer. Methods return the builder
// for chaining; the first usage error sticks and is reported by Encode.
type Builder struct {
	buf      bytes.Buffer
	encoding Encoding
	err      error
}

// NewBuilder returns a Builder producing text in the given encoding.
func NewBuilder(encoding Encoding) *Builder {
	return &Builder{encoding: encoding}
}

// Err returns the first usage error recorded by any chained call.
func (b *Builder) Err() error {
	return b.err
}

// Encode finalizes the buffer and returns its bytes. The returned slice is a
// copy; the builder can keep being used or be Clear()ed for reuse.
func (b *Builder) Encode() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out, nil
}

// Clear resets the buffer and any sticky error for reuse.
func (b *Builder) Clear() *Builder {
	b.buf.Reset()
	b.err = nil
	return b
}

// Init writes ESC @, resetting the printer to its power-on state.
func (b *Builder) Init() *Builder {
	b.buf.Write([]byte{0x1B, 0x40})
	return b
}

func (b *Builder) Align(a Alignment) *Builder {
	if a > AlignRight {
		a = AlignRight
	}
	b.buf.Write([]byte{0x1B, 0x61, byte(a)})
	return b
}

func (b *Builder) Bold(on bool) *Builder {
	b.buf.Write([]byte{0x1B, 0x45, flag(on)})
	return b
}

func (b *Builder) Underline(on bool) *Builder {
	b.buf.Write([]byte{0x1B, 0x2D, flag(on)})
	return b
}

func (b *Builder) FontSize(size FontSize) *Builder {
	switch size {
	case FontNormal, FontDoubleHeight, FontDoubleWidth, FontDouble:
	default:
		size = FontNormal
	}
	b.buf.Write([]byte{0x1D, 0x21, byte(size)})
	return b
}

// Text encodes s in the builder's character encoding and appends the bytes.
func (b *Builder) Text(s string) *Builder {
	if b.err != nil {
		return b
	}
	encoded, err := b.encoding.encode(s)
	if err != nil {
		b.err = fmt.Errorf("%w: %v", ErrTextEncoding, err)
		return b
	}
	b.buf.Write(encoded)
	return b
}

func (b *Builder) Newline() *Builder {
	b.buf.WriteByte(0x0A)
	return b
}

// Feed advances the paper n lines (ESC d). The protocol carries the count in
// a single byte, so n is clamped to 255.
func (b *Builder) Feed(n int) *Builder {
	b.buf.Write([]byte{0x1B, 0x64, clampByte(n, 0, maxFeedLines)})
	return b
}

func (b *Builder) Cut(mode CutMode) *Builder {
	if mode != CutPartial {
		mode = CutFull
	}
	b.buf.Write([]byte{0x1D, 0x56, byte(mode)})
	return b
}

// Raster emits a GS v 0 raster block: an 8-byte header carrying the mode,
// width in bytes and height in dots (both little-endian 16-bit), followed by
// the packed rows.
func (b *Builder) Raster(r *raster.Raster) *Builder {
	b.buf.Write([]byte{
		0x1D, 0x76, 0x30, 0x00,
		byte(r.Stride), byte(r.Stride >> 8),
		byte(r.Height), byte(r.Height >> 8),
	})
	b.buf.Write(r.Data)
	return b
}

// Barcode emits GS h (height) followed by the GS k function-B form. An
// unrecognized symbology is a usage error; height is clamped.
func (b *Builder) Barcode(content string, symbology Symbology, height int) *Builder {
	if b.err != nil {
		return b
	}
	if !symbology.valid() {
		b.err = fmt.Errorf("%w: %d", ErrUnsupportedSymbology, symbology)
		return b
	}
	data := []byte(content)
	if len(data) > 255 {
		data = data[:255]
	}
	b.buf.Write([]byte{0x1D, 0x68, clampByte(height, minBarcodeHeight, maxBarcodeHeight)})
	b.buf.Write([]byte{0x1D, 0x6B, byte(symbology), byte(len(data))})
	b.buf.Write(data)
	return b
}

// QR emits the GS ( k model/size/error-level/store/print sequence for a
// model-2 QR symbol. size is the module size in dots, clamped to 1..16.
func (b *Builder) QR(content string, size int) *Builder {
	if b.err != nil {
		return b
	}
	data := []byte(content)
	// Model 2 byte-mode capacity; anything longer would also overflow the
	// 16-bit store-command length.
	if len(data) > maxQRData {
		data = data[:maxQRData]
	}

	// Select model 2.
	b.buf.Write([]byte{0x1D, 0x28, 0x6B, 0x04, 0x00, 0x31, 0x41, 0x32, 0x00})
	// Module size.
	b.buf.Write([]byte{0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x43, clampByte(size, minQRSize, maxQRSize)})
	// Error correction level M.
	b.buf.Write([]byte{0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x45, 0x31})
	// Store data in the symbol buffer.
	n := len(data) + 3
	b.buf.Write([]byte{0x1D, 0x28, 0x6B, byte(n), byte(n >> 8), 0x31, 0x50, 0x30})
	b.buf.Write(data)
	// Print the symbol.
	b.buf.Write([]byte{0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x51, 0x30})
	return b
}

// OpenDrawer pulses drawer kick connector pin 2 (ESC p).
func (b *Builder) OpenDrawer() *Builder {
	b.buf.Write([]byte{0x1B, 0x70, 0x00, 0x19, 0xFA})
	return b
}

// Beep sounds the buzzer count times for duration units of 100ms each.
func (b *Builder) Beep(count, duration int) *Builder {
	b.buf.Write([]byte{0x1B, 0x42, clampByte(count, 1, maxBeepCount), clampByte(duration, 1, maxBeepDuration)})
	return b
}

// Density sets the burn intensity, 1 (lightest) to 4 (darkest).
func (b *Builder) Density(level int) *Builder {
	b.buf.Write([]byte{0x1F, 0x11, 0x02, clampByte(level, minDensity, maxDensity)})
	return b
}

func flag(on bool) byte {
	if on {
		return 0x01
	}
	return 0x00
}

func clampByte(v, min, max int) byte {
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return byte(v)
}
