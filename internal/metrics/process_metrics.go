package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is the resource footprint observed for one analyzer run.
type Usage struct {
	PID        int32     `json:"pid"`
	PeakRSS    uint64    `json:"peak_rss"`
	CPUPercent float64   `json:"cpu_percent"`
	Samples    int       `json:"samples"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler polls a child process for memory and CPU while it runs.
type Sampler struct {
	interval time.Duration

	mu     sync.Mutex
	usage  Usage
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler returns a Sampler polling every interval (minimum 50ms).
func NewSampler(interval time.Duration) *Sampler {
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	return &Sampler{interval: interval}
}

// Start begins sampling pid until Stop is called or the process disappears.
func (s *Sampler) Start(pid int) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.usage = Usage{PID: int32(pid)} // #nosec G115 -- pids fit in int32
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		proc, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115
		if err != nil {
			slog.Debug("analyzer sampling unavailable", "pid", pid, "error", err)
			return
		}
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			if !s.sample(ctx, proc) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

func (s *Sampler) sample(ctx context.Context, proc *process.Process) bool {
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return false
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem.RSS > s.usage.PeakRSS {
		s.usage.PeakRSS = mem.RSS
	}
	s.usage.CPUPercent = cpu
	s.usage.Samples++
	s.usage.Timestamp = time.Now()
	return true
}

// Stop ends sampling, publishes the gauges and returns what was observed.
func (s *Sampler) Stop() Usage {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return Usage{}
	}
	cancel()
	<-done
	s.mu.Lock()
	u := s.usage
	s.cancel = nil
	s.mu.Unlock()
	if u.Samples > 0 {
		setAnalyzerUsage(u.PeakRSS, u.CPUPercent)
	}
	return u
}
