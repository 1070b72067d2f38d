package dataloader

import (
	"io"
	"math/rand"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/go-domainmaps/vision/dataset"
	"github.com/tsawler/go-domainmaps/vision/preprocessing"
)

// ErrShapeMismatch is returned when domain maps within one batch differ in shape.
var ErrShapeMismatch = errors.New("domain map shape mismatch")

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (*dataset.Item, error)
}

// Batch is a group of samples flattened for a training step.
type Batch struct {
	// Images holds Size images in CHW order, each 3*ImageSize*ImageSize floats in [0, 1].
	Images []float32
	// Maps holds Size domain maps of MapShape, concatenated.
	Maps     []float32
	MapShape []int
	Labels   []int32
	// Indices are the dataset indices that make up the batch.
	Indices []int
	Size    int
}

// DataLoader walks a Dataset in batches. Every sample is loaded on demand;
// nothing is kept between batches.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	dropLast  bool
	rng       *rand.Rand
	indices   []int
	position  int
	mu        sync.Mutex

	processor *preprocessing.ImageProcessor
	imageSize int
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize int
	Shuffle   bool
	// DropLast skips a final batch smaller than BatchSize.
	DropLast  bool
	ImageSize int
	// Rand drives shuffling. A nil Rand with Shuffle set uses a fixed seed.
	Rand *rand.Rand
}

// NewDataLoader creates a new data loader
func NewDataLoader(ds Dataset, config Config) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.ImageSize <= 0 {
		return nil, errors.Errorf("image size must be positive, got %d", config.ImageSize)
	}
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:   ds,
		batchSize: config.BatchSize,
		shuffle:   config.Shuffle,
		dropLast:  config.DropLast,
		rng:       rng,
		indices:   indices,
		processor: preprocessing.NewImageProcessor(config.ImageSize),
		imageSize: config.ImageSize,
	}
	if dl.shuffle {
		dl.shuffleIndices()
	}
	return dl, nil
}

func (dl *DataLoader) shuffleIndices() {
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Reset resets the data loader to the beginning
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.shuffleIndices()
	}
}

// NumBatches returns the number of batches in one epoch.
func (dl *DataLoader) NumBatches() int {
	n := len(dl.indices) / dl.batchSize
	if !dl.dropLast && len(dl.indices)%dl.batchSize != 0 {
		n++
	}
	return n
}

// NextBatch loads the next batch. It returns io.EOF once the epoch is
// exhausted. If a sample fails to load, the error is returned and the cursor
// moves past that sample; the partial batch is discarded.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 || (dl.dropLast && remaining < dl.batchSize) {
		return nil, io.EOF
	}

	batchSize := min(dl.batchSize, remaining)
	pixelsPerImage := 3 * dl.imageSize * dl.imageSize
	batch := &Batch{
		Images:  make([]float32, 0, batchSize*pixelsPerImage),
		Labels:  make([]int32, 0, batchSize),
		Indices: make([]int, 0, batchSize),
	}

	for i := 0; i < batchSize; i++ {
		idx := dl.indices[dl.position]
		dl.position++

		item, err := dl.dataset.GetItem(idx)
		if err != nil {
			return nil, errors.WithMessagef(err, "batch sample %d", idx)
		}
		if item == nil || item.Map == nil || item.Image == nil {
			return nil, errors.Errorf("batch sample %d: dataset returned an incomplete item", idx)
		}

		if batch.MapShape == nil {
			batch.MapShape = slices.Clone(item.Map.Shape)
			batch.Maps = make([]float32, 0, batchSize*len(item.Map.Data))
		} else if !slices.Equal(batch.MapShape, item.Map.Shape) {
			return nil, errors.Wrapf(ErrShapeMismatch, "sample %d has shape %v, batch has %v", idx, item.Map.Shape, batch.MapShape)
		}

		processed := dl.processor.Process(item.Image)
		batch.Images = append(batch.Images, processed.Data...)
		batch.Maps = append(batch.Maps, item.Map.Data...)
		batch.Labels = append(batch.Labels, int32(item.Label))
		batch.Indices = append(batch.Indices, idx)
		batch.Size++
	}

	return batch, nil
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}
