package atom

import "fmt"

// Tag is the wire discriminant of a tagged union variant.
type Tag int32

// Primitive tags as carried on the wire.
const (
	TagBool        Tag = 0
	TagInt         Tag = 1
	TagLong        Tag = 2
	TagFloat       Tag = 3
	TagString      Tag = 4
	TagBytes       Tag = 5
	TagStringArray Tag = 6
)

// String returns the variant name for known primitive tags.
// Params: none.
// Returns: variant name or numeric form for unknown tags.
func (t Tag) String() string {
	switch t {
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagLong:
		return "long"
	case TagFloat:
		return "float"
	case TagString:
		return "string"
	case TagBytes:
		return "bytes"
	case TagStringArray:
		return "string_array"
	default:
		return fmt.Sprintf("tag(%d)", int32(t))
	}
}

// Primitive is the closed set of field payload variants.
// Params: none.
// Returns: one active variant with its wire tag.
type Primitive interface {
	Tag() Tag
	isPrimitive()
}

// Bool is a boolean field payload.
type Bool bool

// Int is a 32-bit integer field payload.
type Int int32

// Long is a 64-bit integer field payload.
type Long int64

// Float is a 32-bit float field payload.
type Float float32

// String is a text field payload.
type String string

// Bytes is a raw byte-sequence field payload.
type Bytes []byte

// StringArray is a text-array field payload.
type StringArray []string

// UnknownPrimitive carries a wire tag that no supported variant matches.
// Encoders reject it; it exists so that rejection happens at encode time with the tag intact.
type UnknownPrimitive struct {
	RawTag Tag
}

func (Bool) Tag() Tag               { return TagBool }
func (Int) Tag() Tag                { return TagInt }
func (Long) Tag() Tag               { return TagLong }
func (Float) Tag() Tag              { return TagFloat }
func (String) Tag() Tag             { return TagString }
func (Bytes) Tag() Tag              { return TagBytes }
func (StringArray) Tag() Tag        { return TagStringArray }
func (u UnknownPrimitive) Tag() Tag { return u.RawTag }

func (Bool) isPrimitive()             {}
func (Int) isPrimitive()              {}
func (Long) isPrimitive()             {}
func (Float) isPrimitive()            {}
func (String) isPrimitive()           {}
func (Bytes) isPrimitive()            {}
func (StringArray) isPrimitive()      {}
func (UnknownPrimitive) isPrimitive() {}
