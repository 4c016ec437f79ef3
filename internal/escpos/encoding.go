package escpos

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

// Encoding selects how Builder.Text transforms strings into printer bytes.
type Encoding string

const (
	// EncodingUTF8 passes text through unchanged, for firmwares that accept
	// UTF-8 directly. This is the default.
	EncodingUTF8 Encoding = "utf8"
	// EncodingCP437 is the classic single-byte receipt code page.
	EncodingCP437 Encoding = "cp437"
	// EncodingShiftJIS is the double-byte code page used by Japanese models.
	EncodingShiftJIS Encoding = "shiftjis"
)

// ParseEncoding maps a config string to an Encoding, defaulting to UTF-8.
func ParseEncoding(name string) Encoding {
	switch Encoding(name) {
	case EncodingCP437:
		return EncodingCP437
	case EncodingShiftJIS:
		return EncodingShiftJIS
	default:
		return EncodingUTF8
	}
}

func (e Encoding) encode(s string) ([]byte, error) {
	switch e {
	case EncodingCP437:
		out, err := charmap.CodePage437.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("cp437: %w", err)
		}
		return out, nil
	case EncodingShiftJIS:
		out, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("shiftjis: %w", err)
		}
		return out, nil
	default:
		return []byte(s), nil
	}
}
