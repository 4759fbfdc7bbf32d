package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
)

var (
	// ErrUnsupportedFormat is returned for extensions no decoder is registered for.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrEmptyImage is returned when a decoder yields an image with no pixels.
	ErrEmptyImage = errors.New("image has no pixels")
)

// Load images, apply actions on them and then encode
type ImageProcessor struct {
	img image.Image
}

func (i *ImageProcessor) LoadHEIF(r io.Reader) error {
	img, err := goheif.Decode(r)
	i.img = img
	return err
}

func (i *ImageProcessor) LoadPNG(r io.Reader) error {
	img, err := png.Decode(r)
	i.img = img
	return err
}

func (i *ImageProcessor) LoadJPEG(r io.Reader) error {
	img, err := jpeg.Decode(r)
	i.img = img

	return err
}

func (i *ImageProcessor) LoadWEBP(r io.Reader) error {
	img, err := webp.Decode(r)
	i.img = img

	return err
}

// Load picks the decoder from a file extension such as ".HEIC".
func (i *ImageProcessor) Load(r io.Reader, ext string) error {
	switch strings.ToLower(ext) {
	case ".heic", ".heif":
		return i.LoadHEIF(r)
	case ".png":
		return i.LoadPNG(r)
	case ".jpg", ".jpeg":
		return i.LoadJPEG(r)
	case ".webp":
		return i.LoadWEBP(r)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// GetJPEG encodes the loaded image. quality is clamped to 1..100.
func (i *ImageProcessor) GetJPEG(quality int) ([]byte, error) {
	if i.img == nil {
		return nil, errors.New("no image loaded")
	}
	if w, h := i.GetBounds(); w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyImage, w, h)
	}
	quality = min(max(quality, 1), 100)

	buf := new(bytes.Buffer)
	err := imaging.Encode(buf, i.img, imaging.JPEG, imaging.JPEGQuality(quality))
	return buf.Bytes(), err
}

func (i *ImageProcessor) GetBounds() (int, int) {
	return i.img.Bounds().Size().X, i.img.Bounds().Size().Y
}
