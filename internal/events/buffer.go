// Package events buffers in-process telemetry events and flushes them
// to hourly event partitions. Recording never blocks the producer;
// the flusher works on a detached snapshot while new events accumulate
// in a fresh buffer.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/config"
	"github.com/linksmith/chrono-scraper-sub007/pkg/metrics"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/store"
)

// EventWriter commits events to the partitioned store.
type EventWriter interface {
	WriteEvents(evs []models.Event, opts columnar.Options) (store.WriteResult, error)
}

// Buffer accumulates events until a count threshold or flush interval
// is reached, whichever comes first. Events of a failed flush are
// dropped and counted; telemetry loss is an accepted trade-off.
type Buffer struct {
	writer EventWriter
	opts   columnar.Options
	cfg    config.EventsConfig
	log    *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	active []models.Event

	kick chan struct{}
	done chan struct{}
	once sync.Once
}

// NewBuffer creates a buffer and starts its flusher goroutine.
func NewBuffer(writer EventWriter, opts columnar.Options, cfg config.EventsConfig, log *zap.Logger) *Buffer {
	b := &Buffer{
		writer: writer,
		opts:   opts,
		cfg:    cfg,
		log:    log.Named("events"),
		now:    time.Now,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

// Record buffers one event. Never blocks on I/O; crossing the count
// threshold only signals the flusher.
func (b *Buffer) Record(eventType, source string, payload map[string]interface{}) {
	ev := models.Event{
		Type:      eventType,
		Timestamp: b.now().UTC(),
		Source:    source,
		Payload:   payload,
	}

	b.mu.Lock()
	b.active = append(b.active, ev)
	depth := len(b.active)
	b.mu.Unlock()

	metrics.EventsBuffered.Set(float64(depth))
	if depth >= b.cfg.FlushThreshold {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Len returns the current buffer depth.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// Close stops the flusher and performs a final flush of whatever is
// buffered.
func (b *Buffer) Close(ctx context.Context) error {
	b.once.Do(func() { close(b.done) })
	return b.flush("close")
}

func (b *Buffer) loop() {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-b.kick:
			b.flush("threshold")
		case <-ticker.C:
			b.flush("timer")
		}
	}
}

// flush swaps the active buffer for an empty one and writes the
// detached snapshot. Producers are never blocked by the write.
func (b *Buffer) flush(trigger string) error {
	b.mu.Lock()
	snapshot := b.active
	b.active = nil
	b.mu.Unlock()

	metrics.EventsBuffered.Set(0)
	if len(snapshot) == 0 {
		return nil
	}

	res, err := b.writer.WriteEvents(snapshot, b.opts)
	if err != nil {
		metrics.EventFlushes.WithLabelValues(trigger, "failure").Inc()
		metrics.EventsDropped.Add(float64(len(snapshot)))
		b.log.Error("event flush failed, events dropped",
			zap.String("trigger", trigger),
			zap.Int("events", len(snapshot)),
			zap.Error(err))
		return err
	}

	metrics.EventFlushes.WithLabelValues(trigger, "success").Inc()
	b.log.Debug("event flush committed",
		zap.String("trigger", trigger),
		zap.Int("events", len(snapshot)),
		zap.Int("files", res.Files))
	return nil
}
