// Package imaging prepares user-supplied images for use as playlist covers.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"net/http"

	// registers the PNG decoder with image.Decode
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

const (
	// DefaultQuality is the JPEG quality used for every encode pass
	DefaultQuality = 92

	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

var (
	// ErrUnsupportedImageType is returned for anything other than JPEG or PNG input.
	ErrUnsupportedImageType = errors.New("unsupported image type")
	// ErrImageTooLarge is returned when even a 1x1 image exceeds the byte budget.
	ErrImageTooLarge = errors.New("image cannot fit byte budget")
	// ErrInvalidImage is returned when the input cannot be decoded.
	ErrInvalidImage = errors.New("invalid image data")
)

// Transcoder crops images to a square and recompresses them until their base64 form fits a budget.
type Transcoder struct {
	quality      int
	logger       *zap.Logger
	onIterations func(int)
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithQuality overrides the JPEG quality.
func WithQuality(quality int) Option {
	return func(t *Transcoder) {
		t.quality = quality
	}
}

// WithIterationObserver receives the number of encode passes of each successful transcode.
func WithIterationObserver(fn func(int)) Option {
	return func(t *Transcoder) {
		t.onIterations = fn
	}
}

func NewTranscoder(logger *zap.Logger, opts ...Option) *Transcoder {
	t := &Transcoder{
		quality: DefaultQuality,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcode returns the image as a base64 JPEG of at most maxBytes characters.
func (t *Transcoder) Transcode(data []byte, maxBytes int) (string, error) {
	if maxBytes <= 0 {
		return "", fmt.Errorf("%w: budget must be positive, got %d", ErrImageTooLarge, maxBytes)
	}

	mime := http.DetectContentType(data)
	if mime != mimeJPEG && mime != mimePNG {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImageType, mime)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	square := CropSquare(img)
	current := image.Image(square)

	encoded, err := t.encode(current)
	if err != nil {
		return "", err
	}

	iterations := 1
	for len(encoded) > maxBytes {
		size := current.Bounds().Dx()
		if size <= 1 {
			return "", fmt.Errorf("%w: %d bytes at 1x1, budget %d", ErrImageTooLarge, len(encoded), maxBytes)
		}

		scale := math.Sqrt(float64(maxBytes) / float64(len(encoded)))
		next := int(math.Floor(float64(size) * scale))
		// floor can stall on tiny overshoots; always make progress
		if next >= size {
			next = size - 1
		}
		if next < 1 {
			next = 1
		}

		current = Resize(square, next, next)
		encoded, err = t.encode(current)
		if err != nil {
			return "", err
		}
		iterations++

		t.logger.Debug("Recompressed cover image",
			zap.Int("size", next),
			zap.Int("encodedBytes", len(encoded)),
			zap.Int("budget", maxBytes))
	}

	if t.onIterations != nil {
		t.onIterations(iterations)
	}
	return encoded, nil
}

func (t *Transcoder) encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: t.quality}); err != nil {
		return "", fmt.Errorf("jpeg encode failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CropSquare returns the centred min(width, height) square of img.
func CropSquare(img image.Image) *image.RGBA {
	b := img.Bounds()
	size := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-size)/2
	y0 := b.Min.Y + (b.Dy()-size)/2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Copy(dst, image.Point{}, img, image.Rect(x0, y0, x0+size, y0+size), draw.Src, nil)
	return dst
}

// Resize scales img to width x height.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
