package encoder

import (
	"errors"
	"fmt"

	"statsbootstrap/internal/atom"
)

var (
	// ErrInvalidAtomID reports an atom id outside [1, 10000).
	ErrInvalidAtomID = errors.New("invalid atom id")
	// ErrUnsupportedPrimitiveTag reports a field value with an unknown tag.
	ErrUnsupportedPrimitiveTag = errors.New("unsupported primitive tag")
	// ErrUnsupportedAnnotationID reports an annotation kind outside the whitelist.
	ErrUnsupportedAnnotationID = errors.New("unsupported annotation id")
	// ErrUnsupportedAnnotationValueType reports an annotation value tag not legal for its kind.
	ErrUnsupportedAnnotationValueType = errors.New("unsupported annotation value type")
)

// InvalidAtomIDError carries the rejected atom id.
type InvalidAtomIDError struct {
	ID int32
}

func (e *InvalidAtomIDError) Error() string {
	return fmt.Sprintf("atom id %d is not a valid atom id", e.ID)
}

func (e *InvalidAtomIDError) Unwrap() error { return ErrInvalidAtomID }

// UnsupportedPrimitiveTagError carries the offending field tag.
type UnsupportedPrimitiveTagError struct {
	Tag atom.Tag
}

func (e *UnsupportedPrimitiveTagError) Error() string {
	return fmt.Sprintf("unexpected value type %d", int32(e.Tag))
}

func (e *UnsupportedPrimitiveTagError) Unwrap() error { return ErrUnsupportedPrimitiveTag }

// UnsupportedAnnotationIDError carries the rejected annotation id.
type UnsupportedAnnotationIDError struct {
	ID atom.AnnotationID
}

func (e *UnsupportedAnnotationIDError) Error() string {
	return fmt.Sprintf("unexpected annotation id %d: only uids are supported", int32(e.ID))
}

func (e *UnsupportedAnnotationIDError) Unwrap() error { return ErrUnsupportedAnnotationID }

// UnsupportedAnnotationValueTypeError carries the annotation id and its rejected value tag.
type UnsupportedAnnotationValueTypeError struct {
	ID  atom.AnnotationID
	Tag atom.Tag
}

func (e *UnsupportedAnnotationValueTypeError) Error() string {
	return fmt.Sprintf("unexpected value type %d for annotation %s", int32(e.Tag), e.ID)
}

func (e *UnsupportedAnnotationValueTypeError) Unwrap() error {
	return ErrUnsupportedAnnotationValueType
}

// FieldError locates a failure inside an atom.
// Params: zero-based field position and, for annotation failures, annotation position.
// Returns: wrapped cause, unwrappable to the typed errors above.
type FieldError struct {
	Field      int
	Annotation int
	Err        error
}

func (e *FieldError) Error() string {
	if e.Annotation >= 0 {
		return fmt.Sprintf("field[%d] annotation[%d]: %v", e.Field, e.Annotation, e.Err)
	}
	return fmt.Sprintf("field[%d]: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }
