package statsevent

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

// TestBuilder_RoundTripAllTypes verifies every write operation decodes back to the same value.
// Params: testing.T for assertions.
// Returns: none.
func TestBuilder_RoundTripAllTypes(t *testing.T) {
	at := time.Unix(1700000000, 123)
	event := NewBuilder().
		SetAtomID(100).
		SetTimestamp(at).
		WriteBool(true).
		WriteInt(-7).
		WriteLong(-1 << 40).
		WriteFloat(2.5).
		WriteString("hello").
		WriteBytes([]byte{0xde, 0xad}).
		WriteStringArray([]string{"a", "", "c"}).
		Build()

	decoded, err := Decode(event.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.AtomID != 100 || event.AtomID() != 100 {
		t.Fatalf("unexpected atom id: %d", decoded.AtomID)
	}
	if decoded.TimestampNanos != at.UnixNano() {
		t.Fatalf("unexpected timestamp: %d", decoded.TimestampNanos)
	}
	if event.NumFields() != 7 {
		t.Fatalf("unexpected field count: %d", event.NumFields())
	}

	want := []Field{
		{Type: TypeBool, Value: true},
		{Type: TypeInt, Value: int32(-7)},
		{Type: TypeLong, Value: int64(-1 << 40)},
		{Type: TypeFloat, Value: float32(2.5)},
		{Type: TypeString, Value: "hello"},
		{Type: TypeBytes, Value: []byte{0xde, 0xad}},
		{Type: TypeStringArray, Value: []string{"a", "", "c"}},
	}
	if !reflect.DeepEqual(decoded.Fields, want) {
		t.Fatalf("unexpected fields:\n got %#v\nwant %#v", decoded.Fields, want)
	}
}

// TestBuilder_AnnotationAttachesToLastField verifies annotation placement.
// Params: testing.T for assertions.
// Returns: none.
func TestBuilder_AnnotationAttachesToLastField(t *testing.T) {
	event := NewBuilder().
		SetAtomID(100).
		AddBoolAnnotation(3, true).
		WriteBool(true).
		AddBoolAnnotation(1, true).
		WriteInt(7).
		Build()

	decoded, err := Decode(event.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded.Fields) != 2 {
		t.Fatalf("unexpected field count: %d", len(decoded.Fields))
	}
	if got := decoded.Fields[0].Annotations; !reflect.DeepEqual(got, []Annotation{{ID: 1, Value: true}}) {
		t.Fatalf("unexpected field[0] annotations: %#v", got)
	}
	if len(decoded.Fields[1].Annotations) != 0 {
		t.Fatalf("expected no annotations on field[1]")
	}
	if got := decoded.Annotations; !reflect.DeepEqual(got, []Annotation{{ID: 3, Value: true}}) {
		t.Fatalf("unexpected atom annotations: %#v", got)
	}
}

// TestBuilder_EmptyStringArray verifies an empty array still occupies a field slot.
// Params: testing.T for assertions.
// Returns: none.
func TestBuilder_EmptyStringArray(t *testing.T) {
	event := NewBuilder().SetAtomID(5).WriteStringArray(nil).WriteInt(1).Build()

	decoded, err := Decode(event.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Fields) != 2 {
		t.Fatalf("unexpected field count: %d", len(decoded.Fields))
	}
	if got, ok := decoded.Fields[0].Value.([]string); !ok || len(got) != 0 {
		t.Fatalf("unexpected empty array value: %#v", decoded.Fields[0].Value)
	}
}

// TestBuilder_PooledBufferMatchesUnpooled verifies pooled output is byte-identical and releasable.
// Params: testing.T for assertions.
// Returns: none.
func TestBuilder_PooledBufferMatchesUnpooled(t *testing.T) {
	build := func(pooled bool) *Event {
		b := NewBuilder().SetAtomID(42)
		if pooled {
			b.UsePooledBuffer()
		}
		return b.WriteString("hello").Build()
	}

	plain := build(false)
	pooled := build(true)
	if !bytes.Equal(plain.Bytes(), pooled.Bytes()) {
		t.Fatalf("pooled bytes differ")
	}

	clone := pooled.Clone()
	pooled.Release()
	pooled.Release()
	if pooled.Bytes() != nil {
		t.Fatalf("expected released event to drop its buffer")
	}
	if !bytes.Equal(clone.Bytes(), plain.Bytes()) {
		t.Fatalf("clone must survive release")
	}

	again := build(true)
	defer again.Release()
	if !bytes.Equal(again.Bytes(), plain.Bytes()) {
		t.Fatalf("reused buffer produced different bytes")
	}
}

// TestDecode_RejectsMalformed verifies decoder errors.
// Params: testing.T for assertions.
// Returns: none.
func TestDecode_RejectsMalformed(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatalf("expected missing atom id error")
	}
	if _, err := Decode([]byte{0x08}); err == nil {
		t.Fatalf("expected truncated varint error")
	}

	event := NewBuilder().SetAtomID(9).WriteString("x").Build()
	truncated := event.Bytes()[:len(event.Bytes())-1]
	if _, err := Decode(truncated); err == nil {
		t.Fatalf("expected truncated field error")
	}
}

// TestFromBytes_RestoresHeader verifies spool payloads can be rewrapped.
// Params: testing.T for assertions.
// Returns: none.
func TestFromBytes_RestoresHeader(t *testing.T) {
	event := NewBuilder().SetAtomID(77).WriteInt(1).WriteInt(2).Build()

	restored, err := FromBytes(event.Bytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if restored.AtomID() != 77 || restored.NumFields() != 2 {
		t.Fatalf("unexpected restored header: id=%d fields=%d", restored.AtomID(), restored.NumFields())
	}
}
