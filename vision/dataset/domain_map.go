package dataset

import (
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-domainmaps/metrics"
	"github.com/tsawler/go-domainmaps/tensorio"
	"github.com/tsawler/go-domainmaps/vision/preprocessing"
)

// Directory names under the dataset root.
const (
	ImagesDirName     = "images"
	DomainMapsDirName = "domain-maps"
)

var (
	// ErrNoSamples means the image tree contained no recognized image files.
	ErrNoSamples = errors.New("no matching samples found")
	// ErrIndexOutOfRange is returned by GetItem for indices outside [0, Len()).
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrMissingBaseNet is returned by New when no base network is given.
	ErrMissingBaseNet = errors.New("base network is required")
)

// StemPolicy decides how an image file name is reduced to the stem used to
// find its domain map.
type StemPolicy int

const (
	// StemFirstDot cuts the name at its first dot: "img.v2.png" -> "img".
	// Existing domain-map trees were generated with this rule.
	StemFirstDot StemPolicy = iota
	// StemLastExt strips only the final extension: "img.v2.png" -> "img.v2".
	StemLastExt
)

func (p StemPolicy) String() string {
	switch p {
	case StemFirstDot:
		return "first-dot"
	case StemLastExt:
		return "last-ext"
	default:
		return "unknown"
	}
}

// Stem applies the policy to a base file name.
func (p StemPolicy) Stem(filename string) string {
	if p == StemLastExt {
		return strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	if i := strings.IndexByte(filename, '.'); i >= 0 {
		return filename[:i]
	}
	return filename
}

// ParseStemPolicy maps a configuration string to a StemPolicy.
func ParseStemPolicy(s string) (StemPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first-dot", "legacy":
		return StemFirstDot, nil
	case "last-ext":
		return StemLastExt, nil
	default:
		return 0, errors.Errorf("unknown stem policy %q", s)
	}
}

// Options configures a DomainMapDataset. The zero value is usable.
type Options struct {
	// Transform is applied to each decoded image.
	Transform preprocessing.Transform
	// TargetTransform is applied to each label.
	TargetTransform func(label int) int
	// Decoder defaults to preprocessing.StandardDecoder.
	Decoder preprocessing.Decoder
	// Deserializer defaults to the ONNX tensor codec.
	Deserializer tensorio.Deserializer
	// ArtifactExt overrides the Deserializer's extension, e.g. ".pth".
	ArtifactExt string
	StemPolicy  StemPolicy
	Exclude     []string
	// Debug logs the resolved image and map paths on every access, at Info
	// level so the default logger prints them.
	Debug   bool
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Item is one resolved sample.
type Item struct {
	Image     image.Image
	Map       *tensorio.Tensor
	Label     int
	ImagePath string
	MapPath   string
}

// DomainMapDataset indexes root/images/<class>/... and pairs every image with
// root/domain-maps/<baseNet>/<stem><ext>. The catalog is built once by New and
// never modified, so concurrent GetItem calls are safe. Nothing is cached:
// every GetItem reads both files again.
type DomainMapDataset struct {
	root       string
	baseNet    string
	imagesDir  string
	mapsDir    string
	samples    []Sample
	classes    []string
	classToIdx map[string]int

	transform       preprocessing.Transform
	targetTransform func(int) int
	decoder         preprocessing.Decoder
	deserializer    tensorio.Deserializer
	artifactExt     string
	stemPolicy      StemPolicy
	debug           bool
	logger          *slog.Logger
	metrics         *metrics.Recorder
}

// New builds the class index and the sample catalog. It fails with
// ErrNoSamples when no image files are found.
func New(root, baseNet string, opts Options) (*DomainMapDataset, error) {
	if baseNet == "" {
		return nil, ErrMissingBaseNet
	}

	imagesDir := filepath.Join(root, ImagesDirName)
	classes, classToIdx, err := FindClasses(imagesDir)
	if err != nil {
		return nil, err
	}
	samples, err := MakeCatalog(imagesDir, classToIdx, CatalogOptions{Exclude: opts.Exclude})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.Wrapf(ErrNoSamples, "found 0 images in subfolders of: %s; supported image extensions are: %s",
			root, strings.Join(ImageExtensions, ","))
	}

	d := &DomainMapDataset{
		root:            root,
		baseNet:         baseNet,
		imagesDir:       imagesDir,
		mapsDir:         filepath.Join(root, DomainMapsDirName),
		samples:         samples,
		classes:         classes,
		classToIdx:      classToIdx,
		transform:       opts.Transform,
		targetTransform: opts.TargetTransform,
		decoder:         opts.Decoder,
		deserializer:    opts.Deserializer,
		artifactExt:     opts.ArtifactExt,
		stemPolicy:      opts.StemPolicy,
		debug:           opts.Debug,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
	}
	if d.decoder == nil {
		d.decoder = preprocessing.StandardDecoder{}
	}
	if d.deserializer == nil {
		d.deserializer = tensorio.NewCodec(tensorio.FormatONNX)
	}
	if d.artifactExt == "" {
		d.artifactExt = d.deserializer.Extension()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dataset", "base_net", baseNet)
	return d, nil
}

// Len returns the number of samples in the catalog.
func (d *DomainMapDataset) Len() int {
	return len(d.samples)
}

// GetItem loads the image, label and domain map at index. Decoder and
// deserializer errors are returned with the offending path attached; the
// underlying error stays reachable through errors.Is and errors.As.
func (d *DomainMapDataset) GetItem(index int) (*Item, error) {
	if index < 0 || index >= len(d.samples) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d not in [0, %d)", index, len(d.samples))
	}
	sample := d.samples[index]

	if d.debug {
		d.logger.Info("Image path", "index", index, "image_path", sample.Path)
	}

	start := time.Now()
	img, err := d.decoder.Decode(sample.Path)
	d.metrics.ObserveLoad(metrics.StageImage, time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %s", sample.Path)
	}
	if d.transform != nil {
		if img, err = d.transform(img); err != nil {
			return nil, errors.Wrapf(err, "failed to transform image %s", sample.Path)
		}
	}

	label := sample.Label
	if d.targetTransform != nil {
		label = d.targetTransform(label)
	}

	mapPath := d.ArtifactPath(sample.Path)
	start = time.Now()
	domainMap, err := d.deserializer.Load(mapPath)
	d.metrics.ObserveLoad(metrics.StageMap, time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load domain map %s", mapPath)
	}
	if domainMap == nil {
		return nil, errors.Wrapf(tensorio.ErrMalformedTensor, "no tensor returned for %s", mapPath)
	}

	if d.debug {
		d.logger.Info("Domain map path", "index", index, "map_path", mapPath)
	}
	d.metrics.SampleResolved()

	return &Item{
		Image:     img,
		Map:       domainMap,
		Label:     label,
		ImagePath: sample.Path,
		MapPath:   mapPath,
	}, nil
}

// ArtifactPath returns the domain-map path for an image. The class directory
// is not part of it: maps live flat under domain-maps/<baseNet>.
func (d *DomainMapDataset) ArtifactPath(imagePath string) string {
	stem := d.stemPolicy.Stem(filepath.Base(imagePath))
	return filepath.Join(d.mapsDir, d.baseNet, stem+d.artifactExt)
}

// Root returns the dataset root directory.
func (d *DomainMapDataset) Root() string {
	return d.root
}

// BaseNet returns the base network identifier selecting the map directory.
func (d *DomainMapDataset) BaseNet() string {
	return d.baseNet
}

// ImagesDir returns root/images.
func (d *DomainMapDataset) ImagesDir() string {
	return d.imagesDir
}

// MapsDir returns root/domain-maps.
func (d *DomainMapDataset) MapsDir() string {
	return d.mapsDir
}

// Samples returns a copy of the catalog.
func (d *DomainMapDataset) Samples() []Sample {
	out := make([]Sample, len(d.samples))
	copy(out, d.samples)
	return out
}

// Classes returns a copy of the sorted class names.
func (d *DomainMapDataset) Classes() []string {
	out := make([]string, len(d.classes))
	copy(out, d.classes)
	return out
}

// ClassToIdx returns a copy of the class name to label mapping.
func (d *DomainMapDataset) ClassToIdx() map[string]int {
	out := make(map[string]int, len(d.classToIdx))
	for k, v := range d.classToIdx {
		out[k] = v
	}
	return out
}

// NumClasses returns the number of classes
func (d *DomainMapDataset) NumClasses() int {
	return len(d.classes)
}
