// Package metrics provides Prometheus collectors for the analytics
// pipeline: sync/backfill throughput, file writes, event buffer flushes,
// compaction passes, and query latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsSynced tracks records written to the partitioned store.
	// Labels: stream (sync stream or "backfill"), status (success/failure)
	RecordsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrono_analytics_records_synced_total",
			Help: "Total number of analytical records written",
		},
		[]string{"stream", "status"},
	)

	// FilesWritten tracks parquet files written per dataset.
	FilesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrono_analytics_files_written_total",
			Help: "Total number of parquet files written",
		},
		[]string{"dataset"},
	)

	// SyncCycles tracks sync cycle outcomes.
	// Labels: outcome (synced/empty/lease_held/failed)
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrono_analytics_sync_cycles_total",
			Help: "Total number of incremental sync cycles by outcome",
		},
		[]string{"outcome"},
	)

	// WatermarkAge reports the lag between now and the persisted watermark.
	WatermarkAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chrono_analytics_watermark_age_seconds",
			Help: "Seconds between now and the persisted sync watermark",
		},
		[]string{"stream"},
	)

	// EventsBuffered reports the current depth of the event buffer.
	EventsBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chrono_analytics_events_buffered",
			Help: "Events currently held in the in-process buffer",
		},
	)

	// EventFlushes tracks event buffer flushes.
	// Labels: trigger (threshold/timer/close), status (success/failure)
	EventFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrono_analytics_event_flushes_total",
			Help: "Total number of event buffer flushes",
		},
		[]string{"trigger", "status"},
	)

	// EventsDropped tracks events lost to failed flushes.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chrono_analytics_events_dropped_total",
			Help: "Events dropped because their flush failed",
		},
	)

	// CompactionPasses tracks compaction outcomes.
	// Labels: outcome (compacted/conflict/failed/skipped)
	CompactionPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrono_analytics_compaction_passes_total",
			Help: "Total number of partition compaction passes by outcome",
		},
		[]string{"outcome"},
	)

	// QueryLatency tracks analytics query latency in seconds.
	// Labels: status (ok/partial/timeout/error)
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chrono_analytics_query_duration_seconds",
			Help:    "Analytics query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// BackfillChunks tracks backfill chunk completions.
	// Labels: status (completed/failed)
	BackfillChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrono_analytics_backfill_chunks_total",
			Help: "Total number of backfill chunks processed",
		},
		[]string{"status"},
	)
)
