// Package chronoanalytics is the analytics data pipeline for Chrono
// Scraper. It moves scrape records out of the operational Postgres
// database into a partitioned parquet store and answers aggregate
// queries over that store without touching the database.
//
// # Architecture
//
// The pipeline is a chain of small, independently testable stages:
//
// 1. Extraction: internal/opstore reads operational records with
// keyset pagination over (last_mutated, id), and owns the watermark,
// lease, and backfill bookkeeping tables.
//
// 2. Movement: internal/backfill migrates history in calendar-month
// chunks with resumable state; internal/syncer tails new mutations
// behind a database lease and an exact watermark.
//
// 3. Shaping: internal/transform derives the analytical row (URL
// breakdown, calendar fields, success flags, size bucket) as a pure
// function of the operational record.
//
// 4. Storage: pkg/columnar writes Arrow-backed parquet files and
// pkg/store commits them into day/category partitions, each guarded
// by a generation-numbered manifest. Readers only see committed
// files; compaction swaps are detected by generation mismatch.
//
// 5. Maintenance and reads: internal/compact merges small and
// overlapping files and downsamples expired partitions to summaries;
// internal/query serves aggregate queries with partition pruning and
// column projection. internal/events buffers pipeline telemetry into
// the same store.
//
// # Quick Start
//
// Run a backfill, then keep syncing:
//
//	chrono-analytics backfill start --from 2023-01-01T00:00:00Z
//	chrono-analytics serve
//
// Ask the store a question:
//
//	chrono-analytics query --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z \
//	    --group-by source_kind --metric count --metric success_rate
//
// Configuration is read from a YAML file plus CHRONO_* environment
// variables; see pkg/config.
package chronoanalytics
