package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod/lib/proto"
)

// Screenshot captures the current viewport as a PNG data URL sized to the
// configured planner viewport. Screenshots live only in memory for the
// duration of one planner turn; nothing is written to disk.
func (r *Rod) Screenshot(ctx context.Context) (string, int, int, error) {
	raw, err := r.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("capture screenshot: %w", err)
	}

	width, height := r.cfg.ViewportWidth, r.cfg.ViewportHeight

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", 0, 0, fmt.Errorf("decode screenshot: %w", err)
	}

	// Downscale oversized captures (e.g. HiDPI) to the planner viewport
	// so the model's coordinates map 1:1 onto the page.
	if b := img.Bounds(); b.Dx() != width {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return "", 0, 0, fmt.Errorf("encode screenshot: %w", err)
		}
		raw = buf.Bytes()
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	return dataURL, width, height, nil
}
