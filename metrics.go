// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package quill

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks flush and merge activity. It implements
// prometheus.Collector so an index can be registered with a registry,
// and the counters are also readable directly in tests and tools.
type Metrics struct {
	flushes        atomic.Uint64
	flushedDocs    atomic.Uint64
	merges         atomic.Uint64
	mergedSegments atomic.Uint64
	mergeBytes     atomic.Uint64
	activeMerges   atomic.Int64

	flushesDesc        *prometheus.Desc
	flushedDocsDesc    *prometheus.Desc
	mergesDesc         *prometheus.Desc
	mergedSegmentsDesc *prometheus.Desc
	mergeBytesDesc     *prometheus.Desc
	activeMergesDesc   *prometheus.Desc
}

// NewMetrics returns an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		flushesDesc: prometheus.NewDesc(
			"quill_flushes_total", "Number of segment flushes.", nil, nil),
		flushedDocsDesc: prometheus.NewDesc(
			"quill_flushed_docs_total", "Number of documents flushed into segments.", nil, nil),
		mergesDesc: prometheus.NewDesc(
			"quill_merges_total", "Number of completed merges.", nil, nil),
		mergedSegmentsDesc: prometheus.NewDesc(
			"quill_merged_segments_total", "Number of source segments consumed by merges.", nil, nil),
		mergeBytesDesc: prometheus.NewDesc(
			"quill_merge_bytes_total", "Bytes written by merges.", nil, nil),
		activeMergesDesc: prometheus.NewDesc(
			"quill_active_merges", "Number of merges currently running.", nil, nil),
	}
}

// Flushes returns the number of segment flushes.
func (m *Metrics) Flushes() uint64 { return m.flushes.Load() }

// Merges returns the number of completed merges.
func (m *Metrics) Merges() uint64 { return m.merges.Load() }

// MergedSegments returns the number of source segments consumed by
// merges.
func (m *Metrics) MergedSegments() uint64 { return m.mergedSegments.Load() }

// MergeBytes returns the bytes written by merges.
func (m *Metrics) MergeBytes() uint64 { return m.mergeBytes.Load() }

// ActiveMerges returns the number of merges currently running.
func (m *Metrics) ActiveMerges() int64 { return m.activeMerges.Load() }

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.flushesDesc
	ch <- m.flushedDocsDesc
	ch <- m.mergesDesc
	ch <- m.mergedSegmentsDesc
	ch <- m.mergeBytesDesc
	ch <- m.activeMergesDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		m.flushesDesc, prometheus.CounterValue, float64(m.flushes.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.flushedDocsDesc, prometheus.CounterValue, float64(m.flushedDocs.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.mergesDesc, prometheus.CounterValue, float64(m.merges.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.mergedSegmentsDesc, prometheus.CounterValue, float64(m.mergedSegments.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.mergeBytesDesc, prometheus.CounterValue, float64(m.mergeBytes.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.activeMergesDesc, prometheus.GaugeValue, float64(m.activeMerges.Load()))
}
