package tensorio

import (
	"encoding/binary"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleTensor() *Tensor {
	data := make([]float32, 2*3*4)
	for i := range data {
		data[i] = float32(i) * 0.25
	}
	return &Tensor{Name: "domain_map", Shape: []int{2, 3, 4}, Data: data}
}

func TestCodecSaveLoad(t *testing.T) {
	for _, format := range []Format{FormatONNX, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			codec := NewCodec(format)
			path := filepath.Join(t.TempDir(), "map"+codec.Extension())

			want := sampleTensor()
			require.NoError(t, codec.Save(want, path))

			got, err := codec.Load(path)
			require.NoError(t, err)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.Shape, got.Shape)
			assert.Equal(t, want.Data, got.Data)
		})
	}
}

func TestCodecLoadMissingFile(t *testing.T) {
	for _, format := range []Format{FormatONNX, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			_, err := NewCodec(format).Load(filepath.Join(t.TempDir(), "absent"+format.Extension()))
			require.Error(t, err)
			assert.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}

func TestCodecSaveRejectsInconsistentTensor(t *testing.T) {
	bad := &Tensor{Shape: []int{2, 2}, Data: []float32{1, 2, 3}}
	err := NewCodec(FormatJSON).Save(bad, filepath.Join(t.TempDir(), "bad.json"))
	assert.ErrorIs(t, err, ErrMalformedTensor)
}

func TestLoadJSONCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewCodec(FormatJSON).Load(path)
	assert.ErrorIs(t, err, ErrMalformedTensor)
}

func TestLoadJSONShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shape":[3],"data":[1,2]}`), 0644))

	_, err := NewCodec(FormatJSON).Load(path)
	assert.ErrorIs(t, err, ErrMalformedTensor)

	huge := filepath.Join(t.TempDir(), "huge.json")
	require.NoError(t, os.WriteFile(huge, []byte(`{"shape":[4294967296,4294967296],"data":[]}`), 0644))

	_, err = NewCodec(FormatJSON).Load(huge)
	assert.ErrorIs(t, err, ErrMalformedTensor)
}

func TestValidateElementCountOverflow(t *testing.T) {
	overflow := &Tensor{Shape: []int{65536, 65536, 65536, 65536}, Data: []float32{}}
	assert.ErrorIs(t, overflow.Validate(), ErrMalformedTensor)

	empty := &Tensor{Shape: []int{0, math.MaxInt, math.MaxInt}, Data: []float32{}}
	assert.NoError(t, empty.Validate())
}

func TestUnmarshalONNXRawData(t *testing.T) {
	t.Run("Float", func(t *testing.T) {
		raw := make([]byte, 0, 12)
		for _, v := range []float32{1.5, -2, 3.25} {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
		}
		b := encodeHeader(DataTypeFloat, 3)
		b = protowire.AppendTag(b, fieldRawData, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)

		got, err := UnmarshalONNX(b)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, got.Shape)
		assert.Equal(t, []float32{1.5, -2, 3.25}, got.Data)
	})

	t.Run("Uint8", func(t *testing.T) {
		b := encodeHeader(DataTypeUint8, 2, 2)
		b = protowire.AppendTag(b, fieldRawData, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte{0, 1, 128, 255})

		got, err := UnmarshalONNX(b)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 128, 255}, got.Data)
	})

	t.Run("BadLength", func(t *testing.T) {
		b := encodeHeader(DataTypeFloat, 1)
		b = protowire.AppendTag(b, fieldRawData, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte{1, 2, 3})

		_, err := UnmarshalONNX(b)
		assert.ErrorIs(t, err, ErrMalformedTensor)
	})
}

func TestUnmarshalONNXTypedFields(t *testing.T) {
	t.Run("UnpackedFloat", func(t *testing.T) {
		b := encodeHeader(DataTypeFloat, 2)
		for _, v := range []float32{0.5, 0.75} {
			b = protowire.AppendTag(b, fieldFloatData, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(v))
		}

		got, err := UnmarshalONNX(b)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.75}, got.Data)
	})

	t.Run("PackedDouble", func(t *testing.T) {
		var packed []byte
		for _, v := range []float64{1, 2, 3} {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b := encodeHeader(DataTypeDouble, 3)
		b = protowire.AppendTag(b, fieldDoubleData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)

		got, err := UnmarshalONNX(b)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3}, got.Data)
	})

	t.Run("NegativeInt32", func(t *testing.T) {
		var packed []byte
		for _, v := range []int32{-1, 7} {
			packed = protowire.AppendVarint(packed, uint64(int64(v)))
		}
		b := encodeHeader(DataTypeInt32, 2)
		b = protowire.AppendTag(b, fieldInt32Data, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)

		got, err := UnmarshalONNX(b)
		require.NoError(t, err)
		assert.Equal(t, []float32{-1, 7}, got.Data)
	})

	t.Run("UnknownFieldsSkipped", func(t *testing.T) {
		b := encodeHeader(DataTypeFloat, 1)
		b = protowire.AppendTag(b, 12, protowire.BytesType) // doc_string
		b = protowire.AppendString(b, "precomputed")
		b = protowire.AppendTag(b, fieldFloatData, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(9))

		got, err := UnmarshalONNX(b)
		require.NoError(t, err)
		assert.Equal(t, []float32{9}, got.Data)
	})
}

func TestUnmarshalONNXErrors(t *testing.T) {
	t.Run("UnsupportedType", func(t *testing.T) {
		b := encodeHeader(DataType(8), 1) // STRING
		_, err := UnmarshalONNX(b)
		assert.ErrorIs(t, err, ErrUnsupportedDataType)
	})

	t.Run("Truncated", func(t *testing.T) {
		b := MarshalONNX(sampleTensor())
		_, err := UnmarshalONNX(b[:len(b)-3])
		assert.ErrorIs(t, err, ErrMalformedTensor)
	})

	t.Run("ElementCountOverflow", func(t *testing.T) {
		b := encodeHeader(DataTypeFloat, 65536, 65536, 65536, 65536)
		_, err := UnmarshalONNX(b)
		assert.ErrorIs(t, err, ErrMalformedTensor)
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		b := encodeHeader(DataTypeFloat, 4)
		b = protowire.AppendTag(b, fieldFloatData, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(1))
		_, err := UnmarshalONNX(b)
		assert.ErrorIs(t, err, ErrMalformedTensor)
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatONNX, f)

	_, err = ParseFormat("pth")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestTensorNumElements(t *testing.T) {
	assert.Equal(t, 1, (&Tensor{}).NumElements())
	assert.Equal(t, 0, (&Tensor{Shape: []int{3, 0}}).NumElements())
	assert.Equal(t, 24, sampleTensor().NumElements())
}

func encodeHeader(dt DataType, dims ...int64) []byte {
	var b []byte
	for _, d := range dims {
		b = protowire.AppendTag(b, fieldDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(dt))
}
