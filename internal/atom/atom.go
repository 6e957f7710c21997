package atom

import "fmt"

const (
	// MinID is the smallest legal atom identifier.
	MinID int32 = 1
	// MaxID is the exclusive upper bound of legal atom identifiers.
	MaxID int32 = 10000
)

// Atom is one telemetry record delivered by a caller.
// Params: numeric record type and ordered field values.
// Returns: immutable snapshot consumed by one encoding call.
type Atom struct {
	ID     int32
	Values []Value
}

// Value is one field of an atom.
// Params: tagged primitive payload and ordered field annotations.
// Returns: atom field entry.
type Value struct {
	Primitive   Primitive
	Annotations []Annotation
}

// ValidID reports whether id is inside the legal atom id range.
// Params: id atom identifier.
// Returns: true when 1 <= id < 10000.
func ValidID(id int32) bool {
	return id >= MinID && id < MaxID
}

// String renders atom id and field count for diagnostics.
// Params: none.
// Returns: short human-readable atom description.
func (a Atom) String() string {
	return fmt.Sprintf("atom(id=%d, fields=%d)", a.ID, len(a.Values))
}
