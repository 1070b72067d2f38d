package dataset

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// ClassDistribution returns the distribution of samples per class
func (d *DomainMapDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int, len(d.classes))
	for _, name := range d.classes {
		dist[name] = 0
	}
	for _, s := range d.samples {
		if s.Label >= 0 && s.Label < len(d.classes) {
			dist[d.classes[s.Label]]++
		}
	}
	return dist
}

// Subset returns a view holding only the given catalog indices, in the given
// order. The class index and loading configuration are shared.
func (d *DomainMapDataset) Subset(indices []int) (*DomainMapDataset, error) {
	samples := make([]Sample, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(d.samples) {
			return nil, errors.Wrapf(ErrIndexOutOfRange, "subset index %d not in [0, %d)", idx, len(d.samples))
		}
		samples[i] = d.samples[idx]
	}
	return d.withSamples(samples), nil
}

// Split divides the dataset into train and validation views. When rng is nil
// the catalog order is kept; otherwise indices are shuffled with rng first.
func (d *DomainMapDataset) Split(trainRatio float64, rng *rand.Rand) (*DomainMapDataset, *DomainMapDataset, error) {
	if trainRatio < 0 || trainRatio > 1 {
		return nil, nil, errors.Errorf("train ratio %v not in [0, 1]", trainRatio)
	}
	n := len(d.samples)
	trainSize := int(float64(n) * trainRatio)

	samples := make([]Sample, n)
	copy(samples, d.samples)
	if rng != nil {
		rng.Shuffle(n, func(i, j int) {
			samples[i], samples[j] = samples[j], samples[i]
		})
	}

	return d.withSamples(samples[:trainSize:trainSize]), d.withSamples(samples[trainSize:]), nil
}

// FilterByClass returns a view containing only samples from the named classes.
// Labels keep their original values.
func (d *DomainMapDataset) FilterByClass(classNames []string) *DomainMapDataset {
	valid := make(map[int]bool)
	for _, name := range classNames {
		if idx, ok := d.classToIdx[name]; ok {
			valid[idx] = true
		}
	}

	var filtered []Sample
	for _, s := range d.samples {
		if valid[s.Label] {
			filtered = append(filtered, s)
		}
	}
	return d.withSamples(filtered)
}

func (d *DomainMapDataset) withSamples(samples []Sample) *DomainMapDataset {
	view := *d
	view.samples = samples
	return &view
}

// String returns a string representation of the dataset
func (d *DomainMapDataset) String() string {
	var sb strings.Builder
	sb.WriteString("Dataset DomainMapDataset\n")
	fmt.Fprintf(&sb, "    Number of datapoints: %d\n", d.Len())
	fmt.Fprintf(&sb, "    Root Location: %s\n", d.root)
	fmt.Fprintf(&sb, "    Base Network: %s\n", d.baseNet)
	fmt.Fprintf(&sb, "    Classes: %d\n", len(d.classes))
	fmt.Fprintf(&sb, "    Transforms (if any): %s\n", describeFunc(d.transform != nil))
	fmt.Fprintf(&sb, "    Target Transforms (if any): %s", describeFunc(d.targetTransform != nil))
	return sb.String()
}

func describeFunc(set bool) string {
	if set {
		return "custom"
	}
	return "None"
}
