package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscoderSessionsStarted counts transcoder sessions started, by encoder path.
	TranscoderSessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelgate_transcoder_sessions_started_total",
		Help: "Total HLS transcoder sessions started",
	}, []string{"encoder"})

	// TranscoderSessionsActive tracks the number of transcoder children currently alive.
	TranscoderSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelgate_transcoder_sessions_active",
		Help: "Number of transcoder child processes currently running",
	})

	// TranscoderStartupDuration tracks time from spawn to readiness.
	TranscoderStartupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelgate_transcoder_startup_duration_seconds",
		Help:    "Duration from process spawn to readiness-gate success",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 12), // 100ms .. ~3.4min
	})

	// TranscoderErrors tracks errors during transcoding by stage and kind.
	TranscoderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelgate_transcoder_errors_total",
		Help: "Total errors during transcoding",
	}, []string{"stage", "error_kind"})

	// TranscoderSegmentsEmitted counts segments written by completed or aborted sessions.
	TranscoderSegmentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelgate_transcoder_segments_emitted_total",
		Help: "Total HLS segments written across all sessions",
	})

	// ObjectStoreRequestDuration tracks latency of object store HTTP calls.
	ObjectStoreRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelgate_objectstore_request_duration_seconds",
		Help:    "Duration of object store HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ObjectStoreRequestsTotal counts object store requests by outcome.
	ObjectStoreRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelgate_objectstore_requests_total",
		Help: "Total object store requests by operation and outcome",
	}, []string{"operation", "outcome"})

	// ObjectStoreRetries counts retry attempts issued by the object store client.
	ObjectStoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelgate_objectstore_retries_total",
		Help: "Total retry attempts issued by the object store client",
	}, []string{"operation"})

	// SourceCacheBytesOnDisk tracks current cached bytes.
	SourceCacheBytesOnDisk = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelgate_sourcecache_bytes_on_disk",
		Help: "Total bytes currently resident in the local source cache",
	})

	// SourceCacheEvictions counts evicted cache entries.
	SourceCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelgate_sourcecache_evictions_total",
		Help: "Total local cache entries evicted under the byte budget",
	})

	// AnalysisCacheResult counts analysis cache hit/miss/failure outcomes by kind.
	AnalysisCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelgate_analysis_result_total",
		Help: "Analysis worker outcomes by kind (waveform, ebu_r128) and result",
	}, []string{"kind", "result"})

	// ProbeResult counts probe outcomes.
	ProbeResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelgate_probe_result_total",
		Help: "Probe invocation outcomes",
	}, []string{"result"})
)
