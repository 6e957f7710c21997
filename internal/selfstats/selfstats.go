// Package selfstats reports the daemon's own process statistics as a bootstrap atom.
package selfstats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	goprocess "github.com/shirou/gopsutil/v4/process"

	"statsbootstrap/internal/atom"
	"statsbootstrap/internal/service"
)

// Sample is one snapshot of process resource usage.
type Sample struct {
	PID        int32
	CPUPercent float64
	RSSBytes   uint64
	RAMPercent float64
	Goroutines int
}

// Reporter accepts atoms; the intake service satisfies it.
type Reporter interface {
	ReportBootstrapAtom(ctx context.Context, a atom.Atom)
}

// StatsSource exposes intake counters.
type StatsSource interface {
	Stats() service.Stats
}

type sampleSource interface {
	Sample(ctx context.Context) (Sample, error)
}

// ProcessSampler reads CPU and memory of the current process.
// CPU percent is measured since the previous Sample call.
type ProcessSampler struct {
	mu   sync.Mutex
	proc *goprocess.Process
}

// NewProcessSampler binds a sampler to the running process.
// Params: ctx for cancellation.
// Returns: sampler or error when the process cannot be inspected.
func NewProcessSampler(ctx context.Context) (*ProcessSampler, error) {
	proc, err := goprocess.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspect own process: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample reads current process usage.
// Params: ctx for cancellation.
// Returns: snapshot or read error.
func (s *ProcessSampler) Sample(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpuPercent, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return Sample{}, fmt.Errorf("read process cpu: %w", err)
	}
	memInfo, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read process memory: %w", err)
	}

	ramPercent := 0.0
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		ramPercent = float64(memInfo.RSS) / float64(vm.Total) * 100
	}

	return Sample{
		PID:        s.proc.Pid,
		CPUPercent: cpuPercent,
		RSSBytes:   memInfo.RSS,
		RAMPercent: ramPercent,
		Goroutines: runtime.NumGoroutine(),
	}, nil
}

// BuildAtom lays out a sample and intake counters as atom fields:
// pid (IS_UID=false), cpu_percent, rss_bytes, ram_percent, goroutines, accepted, rejected.
// Params: id atom id; sample process snapshot; stats intake counters.
// Returns: atom ready for ReportBootstrapAtom.
func BuildAtom(id int32, sample Sample, stats service.Stats) atom.Atom {
	return atom.Atom{
		ID: id,
		Values: []atom.Value{
			{Primitive: atom.Int(sample.PID), Annotations: []atom.Annotation{atom.UIDAnnotation(false)}},
			{Primitive: atom.Float(float32(sample.CPUPercent))},
			{Primitive: atom.Long(clampInt64(sample.RSSBytes))},
			{Primitive: atom.Float(float32(sample.RAMPercent))},
			{Primitive: atom.Int(int32(min(sample.Goroutines, math.MaxInt32)))},
			{Primitive: atom.Long(clampInt64(stats.Accepted))},
			{Primitive: atom.Long(clampInt64(stats.Rejected))},
		},
	}
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// Loop periodically samples the process and reports the result.
type Loop struct {
	atomID   int32
	interval time.Duration
	sampler  sampleSource
	stats    StatsSource
	reporter Reporter
	logger   *slog.Logger
}

// NewLoop creates a reporting loop.
// Params: atomID reported atom id; interval tick period; sampler usage source; stats counters; reporter destination; logger errors.
// Returns: loop; call Run to start.
func NewLoop(
	atomID int32,
	interval time.Duration,
	sampler sampleSource,
	stats StatsSource,
	reporter Reporter,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		atomID:   atomID,
		interval: interval,
		sampler:  sampler,
		stats:    stats,
		reporter: reporter,
		logger:   logger,
	}
}

// Run reports once per interval until ctx is canceled.
// Params: ctx lifecycle.
// Returns: nil after cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("self stats interval must be > 0")
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.reportOnce(ctx)
		}
	}
}

func (l *Loop) reportOnce(ctx context.Context) {
	sample, err := l.sampler.Sample(ctx)
	if err != nil {
		l.logger.Warn("self stats sample failed", slog.String("error", err.Error()))
		return
	}
	l.reporter.ReportBootstrapAtom(ctx, BuildAtom(l.atomID, sample, l.stats.Stats()))
}
