// Package raster converts full-color images into the 1-bit-per-pixel format
// consumed by thermal print heads.
package raster

import (
	"errors"
	"image"
)

var ErrInvalidDimensions = errors.New("image has zero width or height")

const bitsPerByte = 8

// Raster is a packed monochrome bitmap. Bits are packed MSB-first, eight
// pixels per byte; a set bit is a printed dot. Stride is the row length in
// bytes, ceil(Width/8). Treated as immutable once produced.
type Raster struct {
	Width  int
	Height int
	Stride int
	Data   []byte
}

// BitAt returns the bit at (x, y), either 0 or 1.
func (r *Raster) BitAt(x, y int) byte {
	return (r.Data[y*r.Stride+x/bitsPerByte] >> (7 - uint(x%bitsPerByte))) & 1
}

const threshold = 128

// Quantize converts img into a thermal raster using Floyd-Steinberg error
// diffusion over Rec.601 luminance. The scan is left-to-right, top-to-bottom;
// quantization error propagates 7/16 right, 3/16 down-left, 5/16 down and
// 1/16 down-right, never across the image edges. Deterministic: identical
// input always yields an identical raster.
func Quantize(img image.Image) (*Raster, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}

	// Working luminance buffer. int32 so diffused error can push values
	// outside [0, 255] without clipping surprises.
	lum := make([]int32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 0.299R + 0.587G + 0.114B, fixed-point on 16-bit samples.
			v := (299*int64(r) + 587*int64(g) + 114*int64(b)) / 1000
			lum[y*width+x] = int32(v >> 8)
		}
	}

	stride := (width + bitsPerByte - 1) / bitsPerByte
	data := make([]byte, stride*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			old := lum[y*width+x]
			var quantized int32
			if old < threshold {
				// Dark pixel, printed dot.
				data[y*stride+x/bitsPerByte] |= 0x80 >> uint(x%bitsPerByte)
				quantized = 0
			} else {
				quantized = 255
			}
			err := old - quantized

			if x+1 < width {
				lum[y*width+x+1] += err * 7 / 16
			}
			if y+1 < height {
				if x > 0 {
					lum[(y+1)*width+x-1] += err * 3 / 16
				}
				lum[(y+1)*width+x] += err * 5 / 16
				if x+1 < width {
					lum[(y+1)*width+x+1] += err * 1 / 16
				}
			}
		}
	}

	return &Raster{
		Width:  width,
		Height: height,
		Stride: stride,
		Data:   data,
	}, nil
}
