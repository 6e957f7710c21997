// Package encoder maps atoms onto stats event builder writes.
package encoder

import (
	"time"

	"statsbootstrap/internal/atom"
	"statsbootstrap/internal/statsevent"
)

// annotationRule describes which value variants an annotation kind accepts.
type annotationRule struct {
	write func(b *statsevent.Builder, id atom.AnnotationID, value atom.AnnotationValue) bool
}

// annotationRules is the closed whitelist of (annotation id, value type) pairs.
var annotationRules = map[atom.AnnotationID]annotationRule{
	atom.AnnotationIsUID: {write: writeBoolAnnotation},
}

// EncodePrimitive writes one field value to the builder.
// Params: b target builder; value tagged field payload.
// Returns: UnsupportedPrimitiveTagError for tags outside the supported set.
func EncodePrimitive(b *statsevent.Builder, value atom.Primitive) error {
	switch v := value.(type) {
	case atom.Bool:
		b.WriteBool(bool(v))
	case atom.Int:
		b.WriteInt(int32(v))
	case atom.Long:
		b.WriteLong(int64(v))
	case atom.Float:
		b.WriteFloat(float32(v))
	case atom.String:
		b.WriteString(string(v))
	case atom.Bytes:
		b.WriteBytes([]byte(v))
	case atom.StringArray:
		b.WriteStringArray([]string(v))
	case nil:
		return &UnsupportedPrimitiveTagError{Tag: -1}
	default:
		return &UnsupportedPrimitiveTagError{Tag: v.Tag()}
	}
	return nil
}

// EncodeAnnotation writes one field annotation to the builder.
// Params: b target builder; annotation field annotation.
// Returns: UnsupportedAnnotationIDError or UnsupportedAnnotationValueTypeError on rejection.
func EncodeAnnotation(b *statsevent.Builder, annotation atom.Annotation) error {
	rule, ok := annotationRules[annotation.ID]
	if !ok {
		return &UnsupportedAnnotationIDError{ID: annotation.ID}
	}
	if !rule.write(b, annotation.ID, annotation.Value) {
		tag := atom.Tag(-1)
		if annotation.Value != nil {
			tag = annotation.Value.Tag()
		}
		return &UnsupportedAnnotationValueTypeError{ID: annotation.ID, Tag: tag}
	}
	return nil
}

// writeBoolAnnotation accepts only boolean annotation values.
func writeBoolAnnotation(b *statsevent.Builder, id atom.AnnotationID, value atom.AnnotationValue) bool {
	v, ok := value.(atom.AnnotationBool)
	if !ok {
		return false
	}
	b.AddBoolAnnotation(int32(id), bool(v))
	return true
}

type options struct {
	now    func() time.Time
	pooled bool
}

// Option customizes EncodeAtom.
type Option func(*options)

// WithClock sets the event timestamp source. A nil clock leaves the timestamp unset.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithoutPooledBuffer makes the returned event own a private buffer.
func WithoutPooledBuffer() Option {
	return func(o *options) {
		o.pooled = false
	}
}

// EncodeAtom validates and encodes a whole atom.
// Params: a atom snapshot; opts timestamp and buffer options.
// Returns: finalized event, or the first failure with nothing built. The caller releases the event.
func EncodeAtom(a atom.Atom, opts ...Option) (*statsevent.Event, error) {
	cfg := options{now: time.Now, pooled: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !atom.ValidID(a.ID) {
		return nil, &InvalidAtomIDError{ID: a.ID}
	}

	b := statsevent.NewBuilder().SetAtomID(a.ID)
	for fieldIdx, value := range a.Values {
		if err := EncodePrimitive(b, value.Primitive); err != nil {
			return nil, &FieldError{Field: fieldIdx, Annotation: -1, Err: err}
		}
		for annotationIdx, annotation := range value.Annotations {
			if err := EncodeAnnotation(b, annotation); err != nil {
				return nil, &FieldError{Field: fieldIdx, Annotation: annotationIdx, Err: err}
			}
		}
	}

	if cfg.now != nil {
		b.SetTimestamp(cfg.now())
	}
	if cfg.pooled {
		b.UsePooledBuffer()
	}
	return b.Build(), nil
}
