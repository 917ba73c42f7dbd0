package events

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// SystemSampler periodically records host CPU and memory samples into
// the event buffer.
type SystemSampler struct {
	buf      *Buffer
	interval time.Duration
	source   string
	log      *zap.Logger
}

// NewSystemSampler creates a sampler. source identifies the emitting
// process in the event stream.
func NewSystemSampler(buf *Buffer, interval time.Duration, source string, log *zap.Logger) *SystemSampler {
	return &SystemSampler{
		buf:      buf,
		interval: interval,
		source:   source,
		log:      log.Named("sampler"),
	}
}

// Run samples until the context is canceled. A zero interval disables
// sampling.
func (s *SystemSampler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *SystemSampler) sample(ctx context.Context) {
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		s.buf.Record("system.cpu", s.source, map[string]interface{}{
			"percent": pcts[0],
		})
	} else if err != nil {
		s.log.Debug("cpu sample failed", zap.Error(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.buf.Record("system.mem", s.source, map[string]interface{}{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		})
	} else {
		s.log.Debug("memory sample failed", zap.Error(err))
	}
}
