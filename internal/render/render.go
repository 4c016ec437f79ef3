// Package render is the boundary to page rasterization. The orchestrator
// only sees PageRenderer: something that can say how many pages a document
// has and produce a pixel buffer for each one, sized to the print head.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	xdraw "golang.org/x/image/draw"
)

// PageRenderer produces one pixel buffer per page, already scaled to the
// requested width with aspect ratio preserved and a white background
// composited under any transparency. Implementations may be slow; RenderPage
// honors ctx.
type PageRenderer interface {
	PageCount() int
	RenderPage(ctx context.Context, page int, targetWidth int) (image.Image, error)
}

// ImageDocument renders a single raster image file (png or jpeg) as a
// one-page document.
type ImageDocument struct {
	src image.Image
}

func OpenImageDocument(path string) (*ImageDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &ImageDocument{src: src}, nil
}

func NewImageDocument(src image.Image) *ImageDocument {
	return &ImageDocument{src: src}
}

func (d *ImageDocument) PageCount() int {
	return 1
}

func (d *ImageDocument) RenderPage(ctx context.Context, page int, targetWidth int) (image.Image, error) {
	if page != 0 {
		return nil, fmt.Errorf("page %d out of range for single-page document", page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ScaleToWidth(d.src, targetWidth), nil
}

// ScaleToWidth resizes src to targetWidth preserving aspect ratio and
// flattens it onto a white background. Thermal heads have no alpha; whatever
// is transparent must print as blank paper.
func ScaleToWidth(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 || targetWidth <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	targetHeight := srcH * targetWidth / srcW
	if targetHeight < 1 {
		targetHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}
