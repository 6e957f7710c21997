package encoder

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"statsbootstrap/internal/atom"
	"statsbootstrap/internal/statsevent"
)

var fixedTime = time.Unix(1700000000, 0)

func fixedClock() time.Time { return fixedTime }

// decodeEvent decodes and releases an encoded event.
// Params: t test handle; event encoded event.
// Returns: decoded event.
func decodeEvent(t *testing.T, event *statsevent.Event) statsevent.Decoded {
	t.Helper()
	defer event.Release()

	decoded, err := statsevent.Decode(event.Bytes())
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return decoded
}

// TestEncodePrimitive_DispatchesEveryVariant verifies one write of the matching type per variant.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodePrimitive_DispatchesEveryVariant(t *testing.T) {
	cases := []struct {
		name     string
		value    atom.Primitive
		wantType statsevent.FieldType
		want     any
	}{
		{name: "bool", value: atom.Bool(true), wantType: statsevent.TypeBool, want: true},
		{name: "int", value: atom.Int(-42), wantType: statsevent.TypeInt, want: int32(-42)},
		{name: "long", value: atom.Long(1 << 40), wantType: statsevent.TypeLong, want: int64(1 << 40)},
		{name: "float", value: atom.Float(0.25), wantType: statsevent.TypeFloat, want: float32(0.25)},
		{name: "string", value: atom.String("hello"), wantType: statsevent.TypeString, want: "hello"},
		{name: "bytes", value: atom.Bytes{0xde, 0xad}, wantType: statsevent.TypeBytes, want: []byte{0xde, 0xad}},
		{name: "string_array", value: atom.StringArray{"a", "b"}, wantType: statsevent.TypeStringArray, want: []string{"a", "b"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := statsevent.NewBuilder().SetAtomID(1)
			if err := EncodePrimitive(b, tc.value); err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded := decodeEvent(t, b.Build())
			if len(decoded.Fields) != 1 {
				t.Fatalf("expected exactly one field, got %d", len(decoded.Fields))
			}
			field := decoded.Fields[0]
			if field.Type != tc.wantType {
				t.Fatalf("unexpected field type: %s", field.Type)
			}
			if !reflect.DeepEqual(field.Value, tc.want) {
				t.Fatalf("unexpected value: %#v", field.Value)
			}
		})
	}
}

// TestEncodePrimitive_RejectsUnknownTag verifies unsupported tags carry the tag.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodePrimitive_RejectsUnknownTag(t *testing.T) {
	b := statsevent.NewBuilder().SetAtomID(1)
	err := EncodePrimitive(b, atom.UnknownPrimitive{RawTag: 999})
	if !errors.Is(err, ErrUnsupportedPrimitiveTag) {
		t.Fatalf("expected unsupported primitive tag, got %v", err)
	}

	var tagErr *UnsupportedPrimitiveTagError
	if !errors.As(err, &tagErr) || tagErr.Tag != 999 {
		t.Fatalf("expected tag 999 in error, got %v", err)
	}
	if got := b.Build().NumFields(); got != 0 {
		t.Fatalf("rejected value must not be written, got %d fields", got)
	}

	if err := EncodePrimitive(statsevent.NewBuilder(), nil); !errors.Is(err, ErrUnsupportedPrimitiveTag) {
		t.Fatalf("expected nil primitive rejection, got %v", err)
	}
}

// TestEncodeAnnotation_Whitelist verifies id and value-type checks.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodeAnnotation_Whitelist(t *testing.T) {
	values := []atom.AnnotationValue{
		atom.AnnotationBool(true),
		atom.UnknownAnnotationValue{RawTag: 3},
		nil,
	}
	for _, value := range values {
		err := EncodeAnnotation(statsevent.NewBuilder(), atom.Annotation{ID: 5, Value: value})
		if !errors.Is(err, ErrUnsupportedAnnotationID) {
			t.Fatalf("expected unsupported id for value %#v, got %v", value, err)
		}
		var idErr *UnsupportedAnnotationIDError
		if !errors.As(err, &idErr) || idErr.ID != 5 {
			t.Fatalf("expected id 5 in error, got %v", err)
		}
	}

	err := EncodeAnnotation(statsevent.NewBuilder(), atom.Annotation{
		ID:    atom.AnnotationIsUID,
		Value: atom.UnknownAnnotationValue{RawTag: 2},
	})
	if !errors.Is(err, ErrUnsupportedAnnotationValueType) {
		t.Fatalf("expected unsupported value type, got %v", err)
	}
	var typeErr *UnsupportedAnnotationValueTypeError
	if !errors.As(err, &typeErr) || typeErr.Tag != 2 || typeErr.ID != atom.AnnotationIsUID {
		t.Fatalf("unexpected value type error: %v", err)
	}

	b := statsevent.NewBuilder().SetAtomID(1).WriteInt(10)
	if err := EncodeAnnotation(b, atom.UIDAnnotation(true)); err != nil {
		t.Fatalf("encode uid annotation: %v", err)
	}
	decoded := decodeEvent(t, b.Build())
	want := []statsevent.Annotation{{ID: int32(atom.AnnotationIsUID), Value: true}}
	if !reflect.DeepEqual(decoded.Fields[0].Annotations, want) {
		t.Fatalf("unexpected annotations: %#v", decoded.Fields[0].Annotations)
	}
}

// TestEncodeAtom_InvalidID verifies id gate.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodeAtom_InvalidID(t *testing.T) {
	for _, id := range []int32{0, -1, 10000, 12345} {
		event, err := EncodeAtom(atom.Atom{ID: id, Values: []atom.Value{{Primitive: atom.Int(1)}}})
		if event != nil {
			t.Fatalf("id %d: expected no event", id)
		}
		var idErr *InvalidAtomIDError
		if !errors.As(err, &idErr) || idErr.ID != id || !errors.Is(err, ErrInvalidAtomID) {
			t.Fatalf("id %d: unexpected error %v", id, err)
		}
	}
}

// TestEncodeAtom_ScenarioA verifies a single string field atom.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodeAtom_ScenarioA(t *testing.T) {
	event, err := EncodeAtom(atom.Atom{
		ID:     42,
		Values: []atom.Value{{Primitive: atom.String("hello")}},
	}, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("encode atom: %v", err)
	}

	decoded := decodeEvent(t, event)
	if decoded.AtomID != 42 {
		t.Fatalf("unexpected atom id: %d", decoded.AtomID)
	}
	if decoded.TimestampNanos != fixedTime.UnixNano() {
		t.Fatalf("unexpected timestamp: %d", decoded.TimestampNanos)
	}
	want := []statsevent.Field{{Type: statsevent.TypeString, Value: "hello"}}
	if !reflect.DeepEqual(decoded.Fields, want) {
		t.Fatalf("unexpected fields: %#v", decoded.Fields)
	}
}

// TestEncodeAtom_ScenarioC verifies annotation attached to the first field only.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodeAtom_ScenarioC(t *testing.T) {
	event, err := EncodeAtom(atom.Atom{
		ID: 100,
		Values: []atom.Value{
			{Primitive: atom.Bool(true), Annotations: []atom.Annotation{atom.UIDAnnotation(true)}},
			{Primitive: atom.Int(7)},
		},
	}, WithoutPooledBuffer())
	if err != nil {
		t.Fatalf("encode atom: %v", err)
	}

	decoded := decodeEvent(t, event)
	want := []statsevent.Field{
		{
			Type:        statsevent.TypeBool,
			Value:       true,
			Annotations: []statsevent.Annotation{{ID: int32(atom.AnnotationIsUID), Value: true}},
		},
		{Type: statsevent.TypeInt, Value: int32(7)},
	}
	if !reflect.DeepEqual(decoded.Fields, want) {
		t.Fatalf("unexpected fields: %#v", decoded.Fields)
	}
}

// TestEncodeAtom_AbortsOnFirstFailure verifies failures are located and nothing is built.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodeAtom_AbortsOnFirstFailure(t *testing.T) {
	cases := []struct {
		name           string
		values         []atom.Value
		wantErr        error
		wantField      int
		wantAnnotation int
	}{
		{
			name: "unsupported primitive after valid field",
			values: []atom.Value{
				{Primitive: atom.Int(7)},
				{Primitive: atom.UnknownPrimitive{RawTag: 999}},
			},
			wantErr:        ErrUnsupportedPrimitiveTag,
			wantField:      1,
			wantAnnotation: -1,
		},
		{
			name: "unsupported annotation id",
			values: []atom.Value{
				{Primitive: atom.Int(1), Annotations: []atom.Annotation{{ID: 5, Value: atom.AnnotationBool(true)}}},
			},
			wantErr:        ErrUnsupportedAnnotationID,
			wantField:      0,
			wantAnnotation: 0,
		},
		{
			name: "uid annotation with non-bool value",
			values: []atom.Value{
				{Primitive: atom.Int(1)},
				{Primitive: atom.Long(2), Annotations: []atom.Annotation{
					atom.UIDAnnotation(false),
					{ID: atom.AnnotationIsUID, Value: atom.UnknownAnnotationValue{RawTag: 1}},
				}},
			},
			wantErr:        ErrUnsupportedAnnotationValueType,
			wantField:      1,
			wantAnnotation: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := EncodeAtom(atom.Atom{ID: 100, Values: tc.values})
			if event != nil {
				t.Fatalf("expected no event on failure")
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
			var fieldErr *FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected field error, got %T", err)
			}
			if fieldErr.Field != tc.wantField || fieldErr.Annotation != tc.wantAnnotation {
				t.Fatalf("unexpected location: field=%d annotation=%d", fieldErr.Field, fieldErr.Annotation)
			}
		})
	}
}

// TestEncodeAtom_Idempotent verifies identical atoms produce identical events.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodeAtom_Idempotent(t *testing.T) {
	a := atom.Atom{
		ID: 7,
		Values: []atom.Value{
			{Primitive: atom.StringArray{"x", "y"}},
			{Primitive: atom.Bytes{1, 2, 3}, Annotations: []atom.Annotation{atom.UIDAnnotation(true)}},
		},
	}

	first, err := EncodeAtom(a, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("first encode: %v", err)
	}
	firstBytes := first.Clone().Bytes()
	first.Release()

	second, err := EncodeAtom(a, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("second encode: %v", err)
	}
	defer second.Release()

	if string(firstBytes) != string(second.Bytes()) {
		t.Fatalf("expected identical encodings")
	}
}
