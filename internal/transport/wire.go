package transport

import "statsbootstrap/internal/atom"

// missingTag is the raw tag reported for a wire value or annotation that carries no tag.
const missingTag atom.Tag = -1

// WireAtom is the CBOR request of ReportBootstrapAtom.
type WireAtom struct {
	ID     int32       `cbor:"1,keyasint"`
	Values []WireValue `cbor:"2,keyasint,omitempty"`
}

// WireValue is one tagged field; only the slot selected by Tag is meaningful.
// A nil Tag means the sender omitted it and the value is rejected as an unknown primitive.
type WireValue struct {
	Tag         *int32           `cbor:"1,keyasint,omitempty"`
	Bool        bool             `cbor:"2,keyasint,omitempty"`
	Int         int32            `cbor:"3,keyasint,omitempty"`
	Long        int64            `cbor:"4,keyasint,omitempty"`
	Float       float32          `cbor:"5,keyasint,omitempty"`
	String      string           `cbor:"6,keyasint,omitempty"`
	Bytes       []byte           `cbor:"7,keyasint,omitempty"`
	StringArray []string         `cbor:"8,keyasint,omitempty"`
	Annotations []WireAnnotation `cbor:"9,keyasint,omitempty"`
}

// WireAnnotation is one tagged field annotation.
type WireAnnotation struct {
	ID   int32  `cbor:"1,keyasint"`
	Tag  *int32 `cbor:"2,keyasint,omitempty"`
	Bool bool   `cbor:"3,keyasint,omitempty"`
}

// WireTag returns tag in the pointer form used by wire structs.
func WireTag(tag atom.Tag) *int32 {
	v := int32(tag)
	return &v
}

func tagOf(raw *int32) atom.Tag {
	if raw == nil {
		return missingTag
	}
	return atom.Tag(*raw)
}

// ReportResponse is the empty reply of ReportBootstrapAtom.
type ReportResponse struct{}

// ToAtom converts a wire atom into the domain model. Unknown tags are kept as Unknown* variants.
// Params: none.
// Returns: atom snapshot.
func (w WireAtom) ToAtom() atom.Atom {
	out := atom.Atom{ID: w.ID, Values: make([]atom.Value, 0, len(w.Values))}
	for _, value := range w.Values {
		converted := atom.Value{Primitive: value.primitive()}
		if len(value.Annotations) > 0 {
			converted.Annotations = make([]atom.Annotation, 0, len(value.Annotations))
			for _, annotation := range value.Annotations {
				converted.Annotations = append(converted.Annotations, annotation.toAnnotation())
			}
		}
		out.Values = append(out.Values, converted)
	}
	return out
}

func (w WireValue) primitive() atom.Primitive {
	tag := tagOf(w.Tag)
	switch tag {
	case atom.TagBool:
		return atom.Bool(w.Bool)
	case atom.TagInt:
		return atom.Int(w.Int)
	case atom.TagLong:
		return atom.Long(w.Long)
	case atom.TagFloat:
		return atom.Float(w.Float)
	case atom.TagString:
		return atom.String(w.String)
	case atom.TagBytes:
		return atom.Bytes(w.Bytes)
	case atom.TagStringArray:
		return atom.StringArray(w.StringArray)
	default:
		return atom.UnknownPrimitive{RawTag: tag}
	}
}

func (w WireAnnotation) toAnnotation() atom.Annotation {
	out := atom.Annotation{ID: atom.AnnotationID(w.ID)}
	tag := tagOf(w.Tag)
	if tag == atom.AnnotationTagBool {
		out.Value = atom.AnnotationBool(w.Bool)
	} else {
		out.Value = atom.UnknownAnnotationValue{RawTag: tag}
	}
	return out
}

// FromAtom converts a domain atom into its wire form.
// Params: a atom snapshot.
// Returns: wire atom.
func FromAtom(a atom.Atom) WireAtom {
	out := WireAtom{ID: a.ID, Values: make([]WireValue, 0, len(a.Values))}
	for _, value := range a.Values {
		var wire WireValue
		if value.Primitive != nil {
			wire.Tag = WireTag(value.Primitive.Tag())
		}
		switch v := value.Primitive.(type) {
		case atom.Bool:
			wire.Bool = bool(v)
		case atom.Int:
			wire.Int = int32(v)
		case atom.Long:
			wire.Long = int64(v)
		case atom.Float:
			wire.Float = float32(v)
		case atom.String:
			wire.String = string(v)
		case atom.Bytes:
			wire.Bytes = []byte(v)
		case atom.StringArray:
			wire.StringArray = []string(v)
		}
		for _, annotation := range value.Annotations {
			wireAnnotation := WireAnnotation{ID: int32(annotation.ID)}
			if annotation.Value != nil {
				wireAnnotation.Tag = WireTag(annotation.Value.Tag())
			}
			if v, ok := annotation.Value.(atom.AnnotationBool); ok {
				wireAnnotation.Bool = bool(v)
			}
			wire.Annotations = append(wire.Annotations, wireAnnotation)
		}
		out.Values = append(out.Values, wire)
	}
	return out
}
