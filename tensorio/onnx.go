package tensorio

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// TensorProto field numbers from onnx.proto.
const (
	fieldDims       protowire.Number = 1
	fieldDataType   protowire.Number = 2
	fieldFloatData  protowire.Number = 4
	fieldInt32Data  protowire.Number = 5
	fieldInt64Data  protowire.Number = 7
	fieldName       protowire.Number = 8
	fieldRawData    protowire.Number = 9
	fieldDoubleData protowire.Number = 10
)

// DataType mirrors TensorProto.DataType.
type DataType int32

const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeUint8     DataType = 2
	DataTypeInt8      DataType = 3
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
	DataTypeDouble    DataType = 11
)

// tensorProto holds the subset of TensorProto needed for dense numeric tensors.
type tensorProto struct {
	name       string
	dims       []int64
	dataType   DataType
	floatData  []float32
	int32Data  []int32
	int64Data  []int64
	doubleData []float64
	rawData    []byte
}

func loadONNX(path string) (*Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ONNX tensor file")
	}
	t, err := UnmarshalONNX(data)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return t, nil
}

func saveONNX(t *Tensor, path string) error {
	if err := os.WriteFile(path, MarshalONNX(t), 0644); err != nil {
		return errors.Wrap(err, "failed to write ONNX tensor file")
	}
	return nil
}

// MarshalONNX encodes t as a FLOAT TensorProto.
func MarshalONNX(t *Tensor) []byte {
	var b []byte
	for _, d := range t.Shape {
		b = protowire.AppendTag(b, fieldDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(d)))
	}
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(DataTypeFloat))

	if len(t.Data) > 0 {
		packed := make([]byte, 0, 4*len(t.Data))
		for _, v := range t.Data {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = protowire.AppendTag(b, fieldFloatData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if t.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, t.Name)
	}
	return b
}

// UnmarshalONNX decodes a serialized TensorProto and widens its elements to float32.
func UnmarshalONNX(b []byte) (*Tensor, error) {
	var tp tensorProto
	if err := tp.unmarshal(b); err != nil {
		return nil, err
	}
	return tp.toTensor()
}

func (tp *tensorProto) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldDims:
			vals, m, err := consumeVarints(num, typ, b)
			if err != nil {
				return err
			}
			for _, v := range vals {
				tp.dims = append(tp.dims, int64(v))
			}
			n = m
		case num == fieldDataType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return wireError(protowire.ParseError(m))
			}
			tp.dataType = DataType(int32(v))
			n = m
		case num == fieldFloatData:
			vals, m, err := consumeFixed32s(num, typ, b)
			if err != nil {
				return err
			}
			for _, v := range vals {
				tp.floatData = append(tp.floatData, math.Float32frombits(v))
			}
			n = m
		case num == fieldInt32Data:
			vals, m, err := consumeVarints(num, typ, b)
			if err != nil {
				return err
			}
			for _, v := range vals {
				tp.int32Data = append(tp.int32Data, int32(v))
			}
			n = m
		case num == fieldInt64Data:
			vals, m, err := consumeVarints(num, typ, b)
			if err != nil {
				return err
			}
			for _, v := range vals {
				tp.int64Data = append(tp.int64Data, int64(v))
			}
			n = m
		case num == fieldDoubleData:
			vals, m, err := consumeFixed64s(num, typ, b)
			if err != nil {
				return err
			}
			for _, v := range vals {
				tp.doubleData = append(tp.doubleData, math.Float64frombits(v))
			}
			n = m
		case num == fieldName && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return wireError(protowire.ParseError(m))
			}
			tp.name = v
			n = m
		case num == fieldRawData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return wireError(protowire.ParseError(m))
			}
			tp.rawData = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return wireError(protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}

func (tp *tensorProto) toTensor() (*Tensor, error) {
	t := &Tensor{Name: tp.name, Shape: make([]int, len(tp.dims))}
	for i, d := range tp.dims {
		if d < 0 || d > math.MaxInt32 {
			return nil, errors.Wrapf(ErrMalformedTensor, "dimension %d out of range at axis %d", d, i)
		}
		t.Shape[i] = int(d)
	}

	var err error
	if tp.rawData != nil {
		t.Data, err = decodeRaw(tp.dataType, tp.rawData)
		if err != nil {
			return nil, err
		}
	} else {
		switch tp.dataType {
		case DataTypeFloat:
			t.Data = tp.floatData
		case DataTypeDouble:
			t.Data = make([]float32, len(tp.doubleData))
			for i, v := range tp.doubleData {
				t.Data[i] = float32(v)
			}
		case DataTypeInt32, DataTypeUint8, DataTypeInt8:
			t.Data = make([]float32, len(tp.int32Data))
			for i, v := range tp.int32Data {
				t.Data[i] = float32(v)
			}
		case DataTypeInt64:
			t.Data = make([]float32, len(tp.int64Data))
			for i, v := range tp.int64Data {
				t.Data[i] = float32(v)
			}
		default:
			return nil, errors.Wrapf(ErrUnsupportedDataType, "data_type=%d", tp.dataType)
		}
	}
	if t.Data == nil {
		t.Data = []float32{}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// decodeRaw interprets raw_data, which ONNX stores little-endian.
func decodeRaw(dt DataType, raw []byte) ([]float32, error) {
	size := 0
	switch dt {
	case DataTypeFloat, DataTypeInt32:
		size = 4
	case DataTypeDouble, DataTypeInt64:
		size = 8
	case DataTypeUint8, DataTypeInt8:
		size = 1
	default:
		return nil, errors.Wrapf(ErrUnsupportedDataType, "data_type=%d", dt)
	}
	if len(raw)%size != 0 {
		return nil, errors.Wrapf(ErrMalformedTensor, "raw_data length %d is not a multiple of %d", len(raw), size)
	}

	out := make([]float32, len(raw)/size)
	for i := range out {
		chunk := raw[i*size : (i+1)*size]
		switch dt {
		case DataTypeFloat:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk))
		case DataTypeInt32:
			out[i] = float32(int32(binary.LittleEndian.Uint32(chunk)))
		case DataTypeDouble:
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(chunk)))
		case DataTypeInt64:
			out[i] = float32(int64(binary.LittleEndian.Uint64(chunk)))
		case DataTypeUint8:
			out[i] = float32(chunk[0])
		case DataTypeInt8:
			out[i] = float32(int8(chunk[0]))
		}
	}
	return out, nil
}

// Repeated scalar fields may arrive packed (one length-delimited record) or
// unpacked (one record per element). Both forms are accepted.

func consumeVarints(num protowire.Number, typ protowire.Type, b []byte) ([]uint64, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, 0, wireError(protowire.ParseError(n))
		}
		return []uint64{v}, n, nil
	case protowire.BytesType:
		buf, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, 0, wireError(protowire.ParseError(n))
		}
		var vals []uint64
		for len(buf) > 0 {
			v, m := protowire.ConsumeVarint(buf)
			if m < 0 {
				return nil, 0, wireError(protowire.ParseError(m))
			}
			vals = append(vals, v)
			buf = buf[m:]
		}
		return vals, n, nil
	default:
		return nil, 0, errors.Wrapf(ErrMalformedTensor, "field %d has wire type %d", num, typ)
	}
}

func consumeFixed32s(num protowire.Number, typ protowire.Type, b []byte) ([]uint32, int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, 0, wireError(protowire.ParseError(n))
		}
		return []uint32{v}, n, nil
	case protowire.BytesType:
		buf, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, 0, wireError(protowire.ParseError(n))
		}
		if len(buf)%4 != 0 {
			return nil, 0, errors.Wrapf(ErrMalformedTensor, "packed field %d has %d bytes", num, len(buf))
		}
		vals := make([]uint32, len(buf)/4)
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		return vals, n, nil
	default:
		return nil, 0, errors.Wrapf(ErrMalformedTensor, "field %d has wire type %d", num, typ)
	}
}

func consumeFixed64s(num protowire.Number, typ protowire.Type, b []byte) ([]uint64, int, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, 0, wireError(protowire.ParseError(n))
		}
		return []uint64{v}, n, nil
	case protowire.BytesType:
		buf, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, 0, wireError(protowire.ParseError(n))
		}
		if len(buf)%8 != 0 {
			return nil, 0, errors.Wrapf(ErrMalformedTensor, "packed field %d has %d bytes", num, len(buf))
		}
		vals := make([]uint64, len(buf)/8)
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint64(buf[i*8:])
		}
		return vals, n, nil
	default:
		return nil, 0, errors.Wrapf(ErrMalformedTensor, "field %d has wire type %d", num, typ)
	}
}

func wireError(err error) error {
	return errors.Wrapf(ErrMalformedTensor, "invalid protobuf encoding: %v", err)
}
