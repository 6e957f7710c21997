package atom

import "fmt"

// AnnotationID identifies the kind of metadata attached to a field.
type AnnotationID int32

const (
	// AnnotationIsUID marks a field as holding a user/account identifier.
	AnnotationIsUID AnnotationID = 1
)

// String returns annotation kind name.
// Params: none.
// Returns: kind name or numeric form for unknown ids.
func (id AnnotationID) String() string {
	if id == AnnotationIsUID {
		return "is_uid"
	}
	return fmt.Sprintf("annotation(%d)", int32(id))
}

// Annotation tags as carried on the wire.
const (
	AnnotationTagBool Tag = 0
)

// Annotation is one metadata entry attached to a field.
// Params: annotation kind and tagged value.
// Returns: field annotation.
type Annotation struct {
	ID    AnnotationID
	Value AnnotationValue
}

// AnnotationValue is the closed set of annotation payload variants.
type AnnotationValue interface {
	Tag() Tag
	isAnnotationValue()
}

// AnnotationBool is a boolean annotation payload.
type AnnotationBool bool

// UnknownAnnotationValue carries an annotation wire tag with no supported variant.
type UnknownAnnotationValue struct {
	RawTag Tag
}

func (AnnotationBool) Tag() Tag                   { return AnnotationTagBool }
func (u UnknownAnnotationValue) Tag() Tag         { return u.RawTag }
func (AnnotationBool) isAnnotationValue()         {}
func (UnknownAnnotationValue) isAnnotationValue() {}

// UIDAnnotation builds the IS_UID annotation with a boolean payload.
// Params: value annotation flag.
// Returns: annotation ready to attach to a field.
func UIDAnnotation(value bool) Annotation {
	return Annotation{ID: AnnotationIsUID, Value: AnnotationBool(value)}
}
