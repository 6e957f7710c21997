package statsevent

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var errMissingAtomID = errors.New("event has no atom id")

// Annotation is one decoded boolean annotation.
type Annotation struct {
	ID    int32
	Value bool
}

// Field is one decoded event field.
// Value holds bool, int32, int64, float32, string, []byte or []string according to Type.
type Field struct {
	Type        FieldType
	Value       any
	Annotations []Annotation
}

// Decoded is the readable form of an encoded event; TimestampNanos is Unix time in nanoseconds.
type Decoded struct {
	AtomID         int32
	TimestampNanos int64
	Fields         []Field
	Annotations    []Annotation
}

// Decode parses one encoded event.
// Params: data encoded event bytes.
// Returns: decoded event or parse error.
func Decode(data []byte) (Decoded, error) {
	var (
		out       Decoded
		hasAtomID bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Decoded{}, fmt.Errorf("read event tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == eventAtomID && typ == protowire.VarintType:
			value, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Decoded{}, fmt.Errorf("read atom id: %w", protowire.ParseError(m))
			}
			out.AtomID = int32(uint32(value))
			hasAtomID = true
			n = m
		case num == eventTimestamp && typ == protowire.VarintType:
			value, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Decoded{}, fmt.Errorf("read timestamp: %w", protowire.ParseError(m))
			}
			out.TimestampNanos = int64(value)
			n = m
		case num == eventField && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Decoded{}, fmt.Errorf("read field[%d]: %w", len(out.Fields), protowire.ParseError(m))
			}
			field, err := decodeField(raw)
			if err != nil {
				return Decoded{}, fmt.Errorf("decode field[%d]: %w", len(out.Fields), err)
			}
			out.Fields = append(out.Fields, field)
			n = m
		case num == eventAnnotation && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Decoded{}, fmt.Errorf("read atom annotation: %w", protowire.ParseError(m))
			}
			annotation, err := decodeAnnotation(raw)
			if err != nil {
				return Decoded{}, fmt.Errorf("decode atom annotation: %w", err)
			}
			out.Annotations = append(out.Annotations, annotation)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Decoded{}, fmt.Errorf("skip event field %d: %w", num, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}

	if !hasAtomID {
		return Decoded{}, errMissingAtomID
	}
	return out, nil
}

// decodeField parses one nested field message.
// Params: raw nested message bytes.
// Returns: decoded field or parse error.
func decodeField(raw []byte) (Field, error) {
	var (
		field   Field
		hasType bool
		strs    []string
	)

	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return Field{}, protowire.ParseError(n)
		}
		raw = raw[n:]

		switch num {
		case fieldType, fieldBool, fieldInt, fieldLong:
			if typ != protowire.VarintType {
				return Field{}, fmt.Errorf("field %d: unexpected wire type %d", num, typ)
			}
			value, m := protowire.ConsumeVarint(raw)
			if m < 0 {
				return Field{}, protowire.ParseError(m)
			}
			switch num {
			case fieldType:
				field.Type = FieldType(value)
				hasType = true
			case fieldBool:
				field.Value = protowire.DecodeBool(value)
			case fieldInt:
				field.Value = int32(protowire.DecodeZigZag(value))
			case fieldLong:
				field.Value = protowire.DecodeZigZag(value)
			}
			n = m
		case fieldFloat:
			if typ != protowire.Fixed32Type {
				return Field{}, fmt.Errorf("field %d: unexpected wire type %d", num, typ)
			}
			value, m := protowire.ConsumeFixed32(raw)
			if m < 0 {
				return Field{}, protowire.ParseError(m)
			}
			field.Value = math.Float32frombits(value)
			n = m
		case fieldString, fieldBytes, fieldStrings, fieldAnnotation:
			if typ != protowire.BytesType {
				return Field{}, fmt.Errorf("field %d: unexpected wire type %d", num, typ)
			}
			value, m := protowire.ConsumeBytes(raw)
			if m < 0 {
				return Field{}, protowire.ParseError(m)
			}
			switch num {
			case fieldString:
				field.Value = string(value)
			case fieldBytes:
				field.Value = append([]byte{}, value...)
			case fieldStrings:
				strs = append(strs, string(value))
			case fieldAnnotation:
				annotation, err := decodeAnnotation(value)
				if err != nil {
					return Field{}, err
				}
				field.Annotations = append(field.Annotations, annotation)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return Field{}, protowire.ParseError(n)
			}
		}
		raw = raw[n:]
	}

	if !hasType {
		return Field{}, fmt.Errorf("field has no type")
	}
	if field.Type == TypeStringArray {
		if strs == nil {
			strs = []string{}
		}
		field.Value = strs
	}
	return field, nil
}

// decodeAnnotation parses one annotation message.
// Params: raw nested message bytes.
// Returns: decoded annotation or parse error.
func decodeAnnotation(raw []byte) (Annotation, error) {
	var out Annotation
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return Annotation{}, protowire.ParseError(n)
		}
		raw = raw[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return Annotation{}, protowire.ParseError(n)
			}
			raw = raw[n:]
			continue
		}
		value, m := protowire.ConsumeVarint(raw)
		if m < 0 {
			return Annotation{}, protowire.ParseError(m)
		}
		switch num {
		case annotationID:
			out.ID = int32(uint32(value))
		case annotationValue:
			out.Value = protowire.DecodeBool(value)
		}
		raw = raw[m:]
	}
	return out, nil
}
