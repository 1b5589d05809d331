package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type PipelineMetrics struct {
	Count    *prometheus.CounterVec
	Duration *prometheus.SummaryVec
}

type CallbackMetrics struct {
	Received  prometheus.Counter
	Completed prometheus.Counter
	Failed    prometheus.Counter
	Orphaned  prometheus.Counter
}

type FlowclipMetrics struct {
	Version       *prometheus.CounterVec
	TasksInFlight prometheus.Gauge

	DownloadRequestCount  prometheus.Counter
	SliceRequestCount     prometheus.Counter
	ExportRequestCount    prometheus.Counter
	ProgressFramesDropped prometheus.Counter
	ProgressFramesSent    prometheus.Counter

	ObjectStoreClient ClientMetrics
	ASRClient         ClientMetrics
	EditorClient      ClientMetrics

	Pipeline PipelineMetrics
	Callback CallbackMetrics
}

func NewMetrics() *FlowclipMetrics {
	m := &FlowclipMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "version",
			Help: "Version of the flowclip API server",
		}, []string{"app", "version"}),
		TasksInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tasks_in_flight",
			Help: "Number of pipeline tasks currently executing",
		}),
		DownloadRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "download_request_count",
			Help: "Number of video download requests received",
		}),
		SliceRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "slice_request_count",
			Help: "Number of slice materialization requests received",
		}),
		ExportRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "export_request_count",
			Help: "Number of editor export requests received",
		}),
		ProgressFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "progress_frames_sent",
			Help: "WebSocket progress frames delivered to subscribers",
		}),
		ProgressFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "progress_frames_dropped",
			Help: "WebSocket progress frames coalesced away or dropped on disconnect",
		}),

		ObjectStoreClient: newClientMetrics("object_store"),
		ASRClient:         newClientMetrics("asr"),
		EditorClient:      newClientMetrics("editor"),

		Pipeline: PipelineMetrics{
			Count: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_task_count",
				Help: "Number of finished pipeline tasks",
			}, []string{"type", "status"}),
			Duration: promauto.NewSummaryVec(prometheus.SummaryOpts{
				Name: "pipeline_task_duration",
				Help: "Time taken by finished pipeline tasks",
			}, []string{"type", "status"}),
		},
		Callback: CallbackMetrics{
			Received: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tus_callbacks_received",
				Help: "TUS completion callbacks received",
			}),
			Completed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tus_tasks_completed",
				Help: "TUS tasks marked success by the callback server",
			}),
			Failed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tus_tasks_failed",
				Help: "TUS tasks marked failed by the callback server",
			}),
			Orphaned: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tus_callbacks_orphaned",
				Help: "TUS callbacks with no resolvable task registration",
			}),
		},
	}
	return m
}

func newClientMetrics(name string) ClientMetrics {
	return ClientMetrics{
		RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: name + "_client_retry_count",
			Help: "Number of retries on " + name + " client requests",
		}, []string{"host", "method"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_client_failure_count",
			Help: "Number of failed " + name + " client requests",
		}, []string{"host", "method"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: name + "_client_request_duration",
			Help: "Time taken by " + name + " client requests",
		}, []string{"host", "method"}),
	}
}

var Metrics = NewMetrics()
