// Package imaging turns uploaded bytes into the canonical RGB image and the
// canonical image into the encoder's input tensor.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	_ "golang.org/x/image/webp"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
)

const (
	// MaxUploadBytes is the largest accepted upload (10 MiB).
	MaxUploadBytes = 10 << 20

	// MaxPixels caps width×height before any pixel buffer is allocated.
	// It matches Pillow's MAX_IMAGE_PIXELS.
	MaxPixels = 89_478_485
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// ValidateContentType checks the declared MIME type against the allow-list.
// Parameters such as "; charset=binary" are ignored and matching is
// case-insensitive.
func ValidateContentType(contentType string) error {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if !allowedContentTypes[mediaType] {
		shown := contentType
		if shown == "" {
			shown = "none"
		}
		return errs.Newf(errs.KindUnsupportedMediaType, "Unsupported file type: %s. Use JPEG, PNG, or WebP", shown)
	}
	return nil
}

// ValidateSize rejects empty and oversized payloads.
func ValidateSize(n int) error {
	if n == 0 {
		return errs.New(errs.KindEmptyInput, "Empty file uploaded")
	}
	if n > MaxUploadBytes {
		return errs.New(errs.KindPayloadTooLarge, "File too large (max 10MB)")
	}
	return nil
}

// Validate runs the checks that need no decoding, in order: content type,
// emptiness, size.
func Validate(data []byte, contentType string) error {
	if err := ValidateContentType(contentType); err != nil {
		return err
	}
	return ValidateSize(len(data))
}

// Decode validates an upload and decodes it into the canonical image.
func Decode(data []byte, contentType string) (*image.RGBA, string, error) {
	if err := Validate(data, contentType); err != nil {
		return nil, "", err
	}
	return DecodeImage(data)
}

// DecodeImage decodes already validated bytes. The format is sniffed from
// the data, not taken from the declared content type. Dimensions are read
// from the header first so that oversized canvases are never allocated.
func DecodeImage(data []byte) (*image.RGBA, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInvalidImage, "Invalid image file: could not decode image data", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", errs.New(errs.KindInvalidImage, "Invalid image file: image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", errs.Newf(errs.KindInvalidImage, "Invalid image file: %dx%d exceeds the %d pixel limit", cfg.Width, cfg.Height, MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInvalidImage, "Invalid image file: could not decode image data", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, "", errs.New(errs.KindInvalidImage, "Invalid image file: image has no pixels")
	}

	return ToRGB(img), format, nil
}

// ToRGB converts any decoded image to an opaque RGBA image anchored at the
// origin. Alpha is discarded rather than composited: each pixel keeps its
// non-premultiplied colour.
func ToRGB(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	switch s := src.(type) {
	case *image.YCbCr, *image.Gray, *image.CMYK:
		// already opaque
		draw.Draw(dst, dst.Bounds(), s, bounds.Min, draw.Src)
		return dst
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			i := dst.PixOffset(x-bounds.Min.X, y-bounds.Min.Y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}
