package preprocessing

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "github.com/spakin/netpbm"
	_ "golang.org/x/image/bmp"
)

// ErrUnknownDecoder is returned by NewDecoder for unrecognized decoder names.
var ErrUnknownDecoder = errors.New("unknown image decoder")

// Decoder loads an image file and returns it as 3-channel RGB.
type Decoder interface {
	Decode(path string) (image.Image, error)
}

// DecoderFunc adapts an ordinary function to the Decoder interface.
type DecoderFunc func(path string) (image.Image, error)

// Decode calls f(path).
func (f DecoderFunc) Decode(path string) (image.Image, error) {
	return f(path)
}

// StandardDecoder decodes JPEG, PNG, BMP, PPM and PGM files with the image
// package's registered codecs.
type StandardDecoder struct{}

// Decode opens path and decodes it. The result is always an opaque *image.NRGBA.
func (StandardDecoder) Decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return toRGB(img), nil
}

// AcceleratedDecoder decodes through imaging, which applies EXIF orientation.
// Files imaging cannot handle are retried with the StandardDecoder.
type AcceleratedDecoder struct {
	Fallback Decoder
}

// Decode opens path with imaging.Open and falls back on failure.
func (d AcceleratedDecoder) Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return toRGB(img), nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, statErr
	}
	fallback := d.Fallback
	if fallback == nil {
		fallback = StandardDecoder{}
	}
	return fallback.Decode(path)
}

// NewDecoder resolves a decoder by name. An empty name selects "standard".
func NewDecoder(name string) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return StandardDecoder{}, nil
	case "accelerated", "imaging":
		return AcceleratedDecoder{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownDecoder, "%q", name)
	}
}

// toRGB copies img into an NRGBA buffer and discards alpha.
func toRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
