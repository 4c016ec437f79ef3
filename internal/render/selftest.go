package render

import (
	"context"
	"fmt"
	"image"

	qrcode "github.com/skip2/go-qrcode"
)

// SelfTestPage is a one-page document carrying a QR code, used by the test
// print path to verify the full render → quantize → encode → transport
// pipeline against a real device.
type SelfTestPage struct {
	content string
}

func NewSelfTestPage(content string) *SelfTestPage {
	return &SelfTestPage{content: content}
}

func (p *SelfTestPage) PageCount() int {
	return 1
}

func (p *SelfTestPage) RenderPage(ctx context.Context, page int, targetWidth int) (image.Image, error) {
	if page != 0 {
		return nil, fmt.Errorf("page %d out of range for self-test page", page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, err := qrcode.New(p.content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to build qr code: %w", err)
	}
	// Render at half the head width so the symbol stays well within the
	// printable area, then scale onto a white page.
	size := targetWidth / 2
	if size < 64 {
		size = 64
	}
	return ScaleToWidth(code.Image(size), targetWidth), nil
}
