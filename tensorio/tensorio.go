// Package tensorio reads and writes the precomputed domain-map tensors that sit
// next to an image dataset. Two on-disk formats are supported: a serialized ONNX
// TensorProto and a small JSON document.
package tensorio

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedTensor is returned when a file decodes but its contents are inconsistent.
	ErrMalformedTensor = errors.New("malformed tensor")
	// ErrUnsupportedDataType is returned for ONNX element types that cannot be widened to float32.
	ErrUnsupportedDataType = errors.New("unsupported tensor data type")
	// ErrUnknownFormat is returned by ParseFormat for unrecognized names.
	ErrUnknownFormat = errors.New("unknown tensor format")
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Name  string    `json:"name,omitempty"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NumElements returns the product of the shape. A scalar (empty shape) has one element.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the shape is non-negative, that its element count fits
// in an int, and that it matches the data length.
func (t *Tensor) Validate() error {
	n := 1
	for i, d := range t.Shape {
		if d < 0 {
			return errors.Wrapf(ErrMalformedTensor, "negative dimension %d at axis %d", d, i)
		}
		if d != 0 && n > math.MaxInt/d {
			return errors.Wrapf(ErrMalformedTensor, "shape %v overflows the element count", t.Shape)
		}
		n *= d
	}
	if n != len(t.Data) {
		return errors.Wrapf(ErrMalformedTensor, "shape %v wants %d elements, have %d", t.Shape, n, len(t.Data))
	}
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%q, shape=%v)", t.Name, t.Shape)
}

// Format defines the serialization format of a tensor file
type Format int

const (
	FormatONNX Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatONNX:
		return "ONNX"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension, including the dot, used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatONNX:
		return ".pb"
	case FormatJSON:
		return ".json"
	default:
		return ""
	}
}

// ParseFormat maps a configuration string ("onnx", "json") to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "onnx", "pb":
		return FormatONNX, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, errors.Wrapf(ErrUnknownFormat, "%q", s)
	}
}

// Deserializer loads a tensor from a file path. Load returns either a non-nil
// tensor or an error.
type Deserializer interface {
	Load(path string) (*Tensor, error)
	Extension() string
}

// Codec handles saving and loading tensors in one format
type Codec struct {
	format Format
}

// NewCodec creates a codec for the specified format
func NewCodec(format Format) *Codec {
	return &Codec{format: format}
}

// Format returns the codec's format.
func (c *Codec) Format() Format {
	return c.format
}

// Extension returns the file extension for the codec's format.
func (c *Codec) Extension() string {
	return c.format.Extension()
}

// Load reads a tensor from path.
func (c *Codec) Load(path string) (*Tensor, error) {
	switch c.format {
	case FormatONNX:
		return loadONNX(path)
	case FormatJSON:
		return loadJSON(path)
	default:
		return nil, errors.Errorf("unsupported tensor format: %s", c.format)
	}
}

// Save writes t to path, replacing any existing file.
func (c *Codec) Save(t *Tensor, path string) error {
	if err := t.Validate(); err != nil {
		return err
	}
	switch c.format {
	case FormatONNX:
		return saveONNX(t, path)
	case FormatJSON:
		return saveJSON(t, path)
	default:
		return errors.Errorf("unsupported tensor format: %s", c.format)
	}
}
