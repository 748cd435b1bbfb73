// Package imaging turns uploaded photo bytes into decoded images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"

	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG

	_ "golang.org/x/image/bmp"  // register BMP
	_ "golang.org/x/image/tiff" // register TIFF
	_ "golang.org/x/image/webp" // register WebP

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
)

// ErrImageTooLarge marks photos over the byte or pixel limits. It matches
// domain.ErrInvalidImage under errors.Is.
var ErrImageTooLarge = fmt.Errorf("%w: image too large", domain.ErrInvalidImage)

// Limits bound the photos a Decoder accepts. Zero means unlimited.
type Limits struct {
	MaxBytes  int64
	MaxPixels int64
}

// Info describes a decoded photo.
type Info struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int    `json:"bytes"`
}

// Decoder validates and decodes photos. It is safe for concurrent use.
type Decoder struct {
	limits Limits
	logger *slog.Logger
}

// NewDecoder returns a decoder enforcing limits.
func NewDecoder(limits Limits, logger *slog.Logger) *Decoder {
	return &Decoder{limits: limits, logger: logger}
}

// Decode checks size limits from the header before decoding the full image.
// Every failure wraps domain.ErrInvalidImage.
func (d *Decoder) Decode(data []byte) (image.Image, Info, error) {
	if len(data) == 0 {
		return nil, Info{}, fmt.Errorf("%w: empty payload", domain.ErrInvalidImage)
	}
	if d.limits.MaxBytes > 0 && int64(len(data)) > d.limits.MaxBytes {
		d.logger.Warn("rejected oversized photo",
			"bytes", len(data),
			"max_bytes", d.limits.MaxBytes,
		)
		return nil, Info{}, fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, len(data), d.limits.MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		d.logger.Debug("photo header unreadable",
			"header", fmt.Sprintf("%x", data[:min(len(data), 16)]),
			"error", err,
		)
		return nil, Info{}, fmt.Errorf("%w: decode config: %v", domain.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, Info{}, fmt.Errorf("%w: %dx%d has no pixels", domain.ErrInvalidImage, cfg.Width, cfg.Height)
	}
	pixels := int64(cfg.Width) * int64(cfg.Height)
	if d.limits.MaxPixels > 0 && pixels > d.limits.MaxPixels {
		d.logger.Warn("rejected photo with too many pixels",
			"width", cfg.Width,
			"height", cfg.Height,
			"max_pixels", d.limits.MaxPixels,
		)
		return nil, Info{}, fmt.Errorf("%w: %d pixels (max %d)", ErrImageTooLarge, pixels, d.limits.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidImage, format, err)
	}

	info := Info{Format: format, Width: cfg.Width, Height: cfg.Height, Bytes: len(data)}
	d.logger.Debug("photo decoded",
		"format", info.Format,
		"width", info.Width,
		"height", info.Height,
		"bytes", info.Bytes,
	)
	return img, info, nil
}

// IsTooLarge reports whether err was caused by a size limit.
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrImageTooLarge)
}
