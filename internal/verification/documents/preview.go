package documents

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"

	"studentcheck/internal/verification/models"
)

// DefaultMaxPixels bounds the decoded size of an image upload. Compressed
// size says little about decoded size, so dimensions are checked before
// decoding.
const DefaultMaxPixels = 50_000_000

// ErrImageTooLarge is returned for images whose dimensions exceed MaxPixels.
var ErrImageTooLarge = errors.New("image dimensions too large")

// ThumbnailPreviewer renders image uploads as PNG thumbnails and passes PDFs
// through as data URLs.
type ThumbnailPreviewer struct {
	MaxWidth  int
	MaxHeight int
	MaxPixels int
}

func NewThumbnailPreviewer() *ThumbnailPreviewer {
	return &ThumbnailPreviewer{MaxWidth: 320, MaxHeight: 320, MaxPixels: DefaultMaxPixels}
}

func (p *ThumbnailPreviewer) Preview(ctx context.Context, mimeType string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch mimeType {
	case models.MIMEPDF:
		return dataURL(models.MIMEPDF, content), nil
	case models.MIMEJPEG, models.MIMEPNG:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("decode image header: %w", err)
		}
		if p.tooLarge(cfg) {
			return "", fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrImageTooLarge)
		}
		img, _, err := image.Decode(bytes.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("decode image: %w", err)
		}
		img = resizeToFit(img, p.MaxWidth, p.MaxHeight)

		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("encode thumbnail: %w", err)
		}
		return dataURL(models.MIMEPNG, buf.Bytes()), nil
	default:
		return "", fmt.Errorf("no preview for %s", mimeType)
	}
}

func (p *ThumbnailPreviewer) tooLarge(cfg image.Config) bool {
	limit := p.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return true
	}
	return int64(cfg.Width)*int64(cfg.Height) > int64(limit)
}

func dataURL(mimeType string, content []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(content)
}

// resizeToFit scales src down to fit within maxW x maxH keeping the aspect
// ratio. Images already inside the box are returned as-is.
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw, bh := src.Bounds().Dx(), src.Bounds().Dy()
	if bw == 0 || bh == 0 || (maxW <= 0 && maxH <= 0) {
		return src
	}
	if maxW <= 0 {
		maxW = bw
	}
	if maxH <= 0 {
		maxH = bh
	}
	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
