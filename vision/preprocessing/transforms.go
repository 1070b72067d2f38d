package preprocessing

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Transform maps a decoded image to a new image. Transforms must not retain
// or mutate their input.
type Transform func(img image.Image) (image.Image, error)

// Compose chains transforms left to right. Nil entries are skipped.
func Compose(transforms ...Transform) Transform {
	return func(img image.Image) (image.Image, error) {
		var err error
		for i, t := range transforms {
			if t == nil {
				continue
			}
			img, err = t(img)
			if err != nil {
				return nil, errors.Wrapf(err, "transform %d", i)
			}
		}
		return img, nil
	}
}

// Resize scales to exactly width x height using Lanczos resampling.
func Resize(width, height int) Transform {
	return func(img image.Image) (image.Image, error) {
		if width <= 0 || height <= 0 {
			return nil, errors.Errorf("invalid resize target %dx%d", width, height)
		}
		return imaging.Resize(img, width, height, imaging.Lanczos), nil
	}
}

// CenterCrop cuts a width x height region from the middle of the image. Images
// smaller than the crop are returned at their own size.
func CenterCrop(width, height int) Transform {
	return func(img image.Image) (image.Image, error) {
		if width <= 0 || height <= 0 {
			return nil, errors.Errorf("invalid crop size %dx%d", width, height)
		}
		return imaging.CropCenter(img, width, height), nil
	}
}

// HorizontalFlip mirrors the image left to right.
func HorizontalFlip() Transform {
	return func(img image.Image) (image.Image, error) {
		return imaging.FlipH(img), nil
	}
}
