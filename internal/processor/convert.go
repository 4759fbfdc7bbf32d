package processor

import (
	"fmt"
	"io"
)

// Converter turns legacy images into JPEG at a fixed quality.
type Converter struct {
	Quality int
}

func NewConverter(quality int) Converter {
	return Converter{Quality: quality}
}

// ToJPEG decodes reader according to ext and re-encodes it. Nothing is
// returned unless both steps succeed. The HEIF parser panics on some
// malformed containers; that is reported as a decode error.
func (c Converter) ToJPEG(reader io.Reader, ext string) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("error decoding image: %v", r)
		}
	}()

	imgp := &ImageProcessor{}
	if err := imgp.Load(reader, ext); err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	out, err = imgp.GetJPEG(c.Quality)
	if err != nil {
		return nil, fmt.Errorf("error encoding to jpeg: %w", err)
	}
	return out, nil
}
