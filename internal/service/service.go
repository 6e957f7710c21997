// Package service exposes the bootstrap atom intake: validate, encode, commit.
package service

import (
	"context"
	"sync/atomic"
	"time"

	"statsbootstrap/internal/atom"
	"statsbootstrap/internal/encoder"
	"statsbootstrap/internal/pipeline"
)

// Stats is a snapshot of intake counters.
type Stats struct {
	Accepted       uint64
	Rejected       uint64
	CommitFailures uint64
}

// StatsBootstrapAtomService encodes reported atoms and commits them to a sink.
// Params: sink destination and diagnostics collaborator.
// Returns: service safe for concurrent ReportBootstrapAtom calls.
type StatsBootstrapAtomService struct {
	sink pipeline.Sink
	diag Diagnostics
	now  func() time.Time

	accepted       atomic.Uint64
	rejected       atomic.Uint64
	commitFailures atomic.Uint64
}

// Option customizes service construction.
type Option func(*StatsBootstrapAtomService)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *StatsBootstrapAtomService) {
		s.now = now
	}
}

// New creates the atom intake service.
// Params: sink commit destination; diag rejection reporter; opts optional overrides.
// Returns: service instance.
func New(sink pipeline.Sink, diag Diagnostics, opts ...Option) *StatsBootstrapAtomService {
	s := &StatsBootstrapAtomService{
		sink: sink,
		diag: diag,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReportBootstrapAtom encodes one atom and commits it as a single sink write.
// Failures never reach the caller: a rejected atom is reported to diagnostics and dropped.
// Params: ctx commit context; a atom snapshot.
// Returns: none.
func (s *StatsBootstrapAtomService) ReportBootstrapAtom(ctx context.Context, a atom.Atom) {
	if ctx == nil {
		ctx = context.Background()
	}

	event, err := encoder.EncodeAtom(a, encoder.WithClock(s.now))
	if err != nil {
		s.rejected.Add(1)
		s.diag.AtomRejected(ctx, a.ID, err)
		return
	}
	defer event.Release()

	if err := s.sink.Consume(ctx, event); err != nil {
		s.commitFailures.Add(1)
		s.diag.CommitFailed(ctx, a.ID, err)
		return
	}
	s.accepted.Add(1)
}

// Stats returns current intake counters.
// Params: none.
// Returns: counters snapshot.
func (s *StatsBootstrapAtomService) Stats() Stats {
	return Stats{
		Accepted:       s.accepted.Load(),
		Rejected:       s.rejected.Load(),
		CommitFailures: s.commitFailures.Load(),
	}
}
