package escpos

import (
	"bytes"
	"errors"
	"testing"

	"github.com/inkfeed/inkfeed/internal/raster"
)

func TestReceiptTotalLine(t *testing.T) {
	buf, err := NewBuilder(EncodingUTF8).
		Init().
		Align(AlignCenter).
		Bold(true).
		Text("TOTAL").
		Bold(false).
		Newline().
		Feed(3).
		Cut(CutFull).
		Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if !bytes.HasPrefix(buf, []byte{0x1B, 0x40}) {
		t.Errorf("stream does not begin with ESC @: % x", buf[:2])
	}

	text := bytes.Index(buf, []byte("TOTAL"))
	if text < 0 {
		t.Fatal("text bytes missing from stream")
	}

	center := bytes.Index(buf, []byte{0x1B, 0x61, 0x01})
	if center < 0 || center > text {
		t.Errorf("center alignment not emitted before text (index %d, text %d)", center, text)
	}

	boldOn := bytes.Index(buf, []byte{0x1B, 0x45, 0x01})
	boldOff := bytes.Index(buf, []byte{0x1B, 0x45, 0x00})
	if boldOn < 0 || boldOn > text {
		t.Errorf("bold-on not emitted before text (index %d, text %d)", boldOn, text)
	}
	if boldOff < text {
		t.Errorf("bold-off not emitted after text (index %d, text %d)", boldOff, text)
	}

	if !bytes.HasSuffix(buf, []byte{0x1B, 0x64, 0x03, 0x1D, 0x56, 0x00}) {
		t.Errorf("stream does not end with feed 3 + full cut: % x", buf[len(buf)-6:])
	}
}

func TestFeedClamped(t *testing.T) {
	tests := []struct {
		n    int
		want byte
	}{
		{0, 0},
		{3, 3},
		{255, 255},
		{300, 255},
		{-1, 0},
	}

	for _, tt := range tests {
		buf, err := NewBuilder(EncodingUTF8).Feed(tt.n).Encode()
		if err != nil {
			t.Fatalf("Feed(%d) failed: %v", tt.n, err)
		}
		want := []byte{0x1B, 0x64, tt.want}
		if !bytes.Equal(buf, want) {
			t.Errorf("Feed(%d): got=% x want=% x", tt.n, buf, want)
		}
	}
}

func TestRasterFraming(t *testing.T) {
	tests := []struct {
		width, height int
	}{
		{1, 1},
		{8, 4},
		{9, 4},
		{384, 100},
		{576, 300},
	}

	for _, tt := range tests {
		stride := (tt.width + 7) / 8
		r := &raster.Raster{
			Width:  tt.width,
			Height: tt.height,
			Stride: stride,
			Data:   make([]byte, stride*tt.height),
		}

		buf, err := NewBuilder(EncodingUTF8).Raster(r).Encode()
		if err != nil {
			t.Fatalf("Raster(%dx%d) failed: %v", tt.width, tt.height, err)
		}

		wantHeader := []byte{
			0x1D, 0x76, 0x30, 0x00,
			byte(stride), byte(stride >> 8),
			byte(tt.height), byte(tt.height >> 8),
		}
		if !bytes.HasPrefix(buf, wantHeader) {
			t.Errorf("%dx%d: header got=% x want=% x", tt.width, tt.height, buf[:8], wantHeader)
		}
		if len(buf) != 8+stride*tt.height {
			t.Errorf("%dx%d: total length got=%d want=%d", tt.width, tt.height, len(buf), 8+stride*tt.height)
		}
	}
}

func TestBarcodeLayout(t *testing.T) {
	buf, err := NewBuilder(EncodingUTF8).Barcode("4006381333931", EAN13, 80).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := append([]byte{0x1D, 0x68, 80, 0x1D, 0x6B, byte(EAN13), 13}, []byte("4006381333931")...)
	if !bytes.Equal(buf, want) {
		t.Errorf("barcode bytes:\n got=% x\nwant=% x", buf, want)
	}
}

func TestBarcodeUnsupportedSymbology(t *testing.T) {
	b := NewBuilder(EncodingUTF8).Barcode("123", Symbology(99), 50)
	if !errors.Is(b.Err(), ErrUnsupportedSymbology) {
		t.Fatalf("got err=%v want=%v", b.Err(), ErrUnsupportedSymbology)
	}
	if _, err := b.Encode(); !errors.Is(err, ErrUnsupportedSymbology) {
		t.Fatalf("Encode: got err=%v want=%v", err, ErrUnsupportedSymbology)
	}
}

func TestQRStoreLength(t *testing.T) {
	content := "https://example.org/receipt/42"
	buf, err := NewBuilder(EncodingUTF8).QR(content, 6).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	n := len(content) + 3
	store := []byte{0x1D, 0x28, 0x6B, byte(n), byte(n >> 8), 0x31, 0x50, 0x30}
	if !bytes.Contains(buf, append(store, []byte(content)...)) {
		t.Error("store sequence with content not found in stream")
	}
	if !bytes.HasSuffix(buf, []byte{0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x51, 0x30}) {
		t.Error("print sequence does not close the QR block")
	}
	if !bytes.Contains(buf, []byte{0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x43, 0x06}) {
		t.Error("module size sequence not found")
	}
}

func TestQRContentTruncated(t *testing.T) {
	content := string(bytes.Repeat([]byte("a"), maxQRData+500))
	buf, err := NewBuilder(EncodingUTF8).QR(content, 6).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// The store-command length must describe the truncated payload, not wrap
	// around its 16-bit field.
	n := maxQRData + 3
	store := []byte{0x1D, 0x28, 0x6B, byte(n), byte(n >> 8), 0x31, 0x50, 0x30}
	idx := bytes.Index(buf, store)
	if idx < 0 {
		t.Fatal("store sequence with truncated length not found")
	}
	payload := buf[idx+len(store):]
	if len(payload) < maxQRData+8 {
		t.Fatalf("stream too short after store sequence: %d", len(payload))
	}
	if payload[maxQRData-1] != 'a' {
		t.Error("payload truncated short of the capacity limit")
	}
	if payload[maxQRData] == 'a' {
		t.Error("payload not truncated at the capacity limit")
	}
}

func TestQRSizeClamped(t *testing.T) {
	buf, err := NewBuilder(EncodingUTF8).QR("x", 200).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Contains(buf, []byte{0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x43, 0x10}) {
		t.Error("oversize module size was not clamped to 16")
	}
}

func TestTextEncodings(t *testing.T) {
	tests := []struct {
		name     string
		encoding Encoding
		input    string
		want     []byte
	}{
		{"utf8 passthrough", EncodingUTF8, "café", []byte("café")},
		{"cp437 accented", EncodingCP437, "café", []byte{'c', 'a', 'f', 0x82}},
		{"shiftjis kana", EncodingShiftJIS, "カタ", []byte{0x83, 0x4A, 0x83, 0x5E}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewBuilder(tt.encoding).Text(tt.input).Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !bytes.Equal(buf, tt.want) {
				t.Errorf("got=% x want=% x", buf, tt.want)
			}
		})
	}
}

func TestClearResetsStateAndError(t *testing.T) {
	b := NewBuilder(EncodingUTF8).Barcode("x", Symbology(1), 10)
	if b.Err() == nil {
		t.Fatal("expected sticky error before Clear")
	}

	buf, err := b.Clear().Text("ok").Encode()
	if err != nil {
		t.Fatalf("Encode after Clear failed: %v", err)
	}
	if !bytes.Equal(buf, []byte("ok")) {
		t.Errorf("got=% x want=%q", buf, "ok")
	}
}

func TestDensityClamped(t *testing.T) {
	buf, err := NewBuilder(EncodingUTF8).Density(9).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(buf, []byte{0x1F, 0x11, 0x02, 0x04}) {
		t.Errorf("got=% x want=1f 11 02 04", buf)
	}
}

func TestEncodeReturnsCopy(t *testing.T) {
	b := NewBuilder(EncodingUTF8).Text("a")
	first, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b.Text("b")
	if len(first) != 1 || first[0] != 'a' {
		t.Error("finalized buffer changed after further building")
	}
}
