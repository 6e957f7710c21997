package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"statsbootstrap/internal/atom"
)

// parseValue parses "type:value[@uid=bool]" into an atom value.
// Types: bool, int, long, float, string, bytes (hex), strings (comma separated), tag<N> (raw tag, to exercise rejection).
// Only a trailing "@key=bool" that parses as an annotation is split off, so values may contain '@'.
func parseValue(arg string) (atom.Value, error) {
	body := arg
	var annotations []atom.Annotation
	if at := strings.LastIndex(arg, "@"); at >= 0 {
		if parsed, err := parseAnnotation(arg[at+1:]); err == nil {
			body = arg[:at]
			annotations = append(annotations, parsed)
		}
	}

	kind, raw, ok := strings.Cut(body, ":")
	if !ok {
		return atom.Value{}, fmt.Errorf("value %q: expected type:value", arg)
	}

	primitive, err := parsePrimitive(kind, raw)
	if err != nil {
		return atom.Value{}, fmt.Errorf("value %q: %w", arg, err)
	}
	return atom.Value{Primitive: primitive, Annotations: annotations}, nil
}

func parsePrimitive(kind, raw string) (atom.Primitive, error) {
	switch kind {
	case "bool":
		v, err := strconv.ParseBool(raw)
		return atom.Bool(v), err
	case "int":
		v, err := strconv.ParseInt(raw, 10, 32)
		return atom.Int(int32(v)), err
	case "long":
		v, err := strconv.ParseInt(raw, 10, 64)
		return atom.Long(v), err
	case "float":
		v, err := strconv.ParseFloat(raw, 32)
		return atom.Float(float32(v)), err
	case "string":
		return atom.String(raw), nil
	case "bytes":
		v, err := hex.DecodeString(raw)
		return atom.Bytes(v), err
	case "strings":
		if raw == "" {
			return atom.StringArray{}, nil
		}
		return atom.StringArray(strings.Split(raw, ",")), nil
	}

	if rawTag, ok := strings.CutPrefix(kind, "tag"); ok {
		tag, err := strconv.ParseInt(rawTag, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad raw tag %q", rawTag)
		}
		return atom.UnknownPrimitive{RawTag: atom.Tag(tag)}, nil
	}
	return nil, fmt.Errorf("unknown type %q", kind)
}

// parseAnnotation accepts "uid=<bool>" or "<id>=<bool>".
func parseAnnotation(arg string) (atom.Annotation, error) {
	key, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return atom.Annotation{}, fmt.Errorf("annotation %q: expected key=bool", arg)
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return atom.Annotation{}, fmt.Errorf("annotation %q: %w", arg, err)
	}

	if key == "uid" {
		return atom.UIDAnnotation(value), nil
	}
	id, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		return atom.Annotation{}, fmt.Errorf("annotation %q: unknown key", arg)
	}
	return atom.Annotation{ID: atom.AnnotationID(id), Value: atom.AnnotationBool(value)}, nil
}
