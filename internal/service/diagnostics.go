package service

import (
	"context"
	"errors"
	"log/slog"

	"statsbootstrap/internal/encoder"
)

// Diagnostics receives rejection and commit-failure reports.
// Params: implementations must be safe for concurrent use.
// Returns: none; reports are best effort.
type Diagnostics interface {
	AtomRejected(ctx context.Context, atomID int32, reason error)
	CommitFailed(ctx context.Context, atomID int32, reason error)
}

// SlogDiagnostics writes reports into a structured logger.
// Params: logger destination.
// Returns: diagnostics implementation.
type SlogDiagnostics struct {
	logger *slog.Logger
}

// NewSlogDiagnostics creates slog-backed diagnostics.
// Params: logger destination.
// Returns: diagnostics implementation.
func NewSlogDiagnostics(logger *slog.Logger) *SlogDiagnostics {
	return &SlogDiagnostics{logger: logger}
}

// AtomRejected logs one rejected atom with the violation details.
// Params: ctx request context; atomID rejected atom id; reason encoder error.
// Returns: none.
func (d *SlogDiagnostics) AtomRejected(ctx context.Context, atomID int32, reason error) {
	d.logger.LogAttrs(ctx, slog.LevelError, "atom rejected", rejectionAttrs(atomID, reason)...)
}

// CommitFailed logs one sink failure for an encoded atom.
// Params: ctx request context; atomID atom id; reason sink error.
// Returns: none.
func (d *SlogDiagnostics) CommitFailed(ctx context.Context, atomID int32, reason error) {
	d.logger.LogAttrs(
		ctx,
		slog.LevelError,
		"atom commit failed",
		slog.Int("atom_id", int(atomID)),
		slog.String("error", reason.Error()),
	)
}

// rejectionAttrs extracts diagnostic attributes from an encoder error.
// Params: atomID rejected atom id; reason encoder error.
// Returns: slog attributes naming the violation.
func rejectionAttrs(atomID int32, reason error) []slog.Attr {
	attrs := []slog.Attr{
		slog.Int("atom_id", int(atomID)),
		slog.String("reason", rejectionReason(reason)),
	}

	var fieldErr *encoder.FieldError
	if errors.As(reason, &fieldErr) {
		attrs = append(attrs, slog.Int("field", fieldErr.Field))
		if fieldErr.Annotation >= 0 {
			attrs = append(attrs, slog.Int("annotation", fieldErr.Annotation))
		}
	}

	var (
		tagErr       *encoder.UnsupportedPrimitiveTagError
		idErr        *encoder.UnsupportedAnnotationIDError
		valueTypeErr *encoder.UnsupportedAnnotationValueTypeError
	)
	switch {
	case errors.As(reason, &tagErr):
		attrs = append(attrs, slog.Int("tag", int(tagErr.Tag)))
	case errors.As(reason, &idErr):
		attrs = append(attrs, slog.Int("annotation_id", int(idErr.ID)))
	case errors.As(reason, &valueTypeErr):
		attrs = append(attrs,
			slog.Int("annotation_id", int(valueTypeErr.ID)),
			slog.Int("value_tag", int(valueTypeErr.Tag)),
		)
	}

	return append(attrs, slog.String("error", reason.Error()))
}

// rejectionReason maps encoder errors onto stable reason names.
// Params: reason encoder error.
// Returns: short reason code.
func rejectionReason(reason error) string {
	switch {
	case errors.Is(reason, encoder.ErrInvalidAtomID):
		return "invalid_atom_id"
	case errors.Is(reason, encoder.ErrUnsupportedPrimitiveTag):
		return "unsupported_primitive_tag"
	case errors.Is(reason, encoder.ErrUnsupportedAnnotationID):
		return "unsupported_annotation_id"
	case errors.Is(reason, encoder.ErrUnsupportedAnnotationValueType):
		return "unsupported_annotation_value_type"
	default:
		return "unknown"
	}
}
