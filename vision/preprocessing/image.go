package preprocessing

import (
	"image"
	"sync"
)

// ImageProcessor converts decoded images into fixed-size float32 tensors,
// reusing its scratch buffer between calls.
type ImageProcessor struct {
	mu            sync.Mutex
	processBuffer []float32
	targetSize    int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// TargetSize returns the square edge length produced by Process.
func (p *ImageProcessor) TargetSize() int {
	return p.targetSize
}

// Process samples img onto a targetSize x targetSize grid (nearest neighbour)
// and returns CHW data normalized to [0, 1].
func (p *ImageProcessor) Process(img image.Image) *ProcessedImage {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	size := p.targetSize

	p.mu.Lock()
	defer p.mu.Unlock()

	requiredSize := 3 * size * size
	if len(p.processBuffer) < requiredSize {
		p.processBuffer = make([]float32, requiredSize)
	}
	data := p.processBuffer[:requiredSize]

	scaleX := float64(width) / float64(size)
	scaleY := float64(height) / float64(size)
	plane := size * size

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			srcX := int(float64(x) * scaleX)
			srcY := int(float64(y) * scaleY)
			if srcX >= width {
				srcX = width - 1
			}
			if srcY >= height {
				srcY = height - 1
			}

			r, g, b, _ := img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY).RGBA()
			idx := y*size + x
			data[0*plane+idx] = float32(r) / 65535.0
			data[1*plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	// Callers own the result; the scratch buffer is reused.
	result := make([]float32, len(data))
	copy(result, data)

	return &ProcessedImage{
		Data:     result,
		Width:    size,
		Height:   size,
		Channels: 3,
	}
}

// ToCHW is a convenience wrapper around a one-off ImageProcessor.
func ToCHW(img image.Image, size int) *ProcessedImage {
	return NewImageProcessor(size).Process(img)
}
