package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	catalogStorage = "catalog_storage"

	// Streaming pipeline metrics
	recordsPublishedTotal = "records_published_total"
	publishFailuresTotal  = "publish_failures_total"

	// Export metrics
	exportPartsTotal = "export_parts_total"
	exportsTotal     = "exports_total"

	// Job metrics
	jobsSubmittedTotal = "jobs_submitted_total"

	// Labels
	topicLabel         = "topic"
	exportOutcomeLabel = "outcome"
	jobKindLabel       = "kind"
)

/**
* Metrics definition
**/
var recordsPublishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: catalogStorage,
		Name:      recordsPublishedTotal,
		Help:      "number of records published to the message bus",
	},
	[]string{topicLabel},
)

var publishFailuresTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: catalogStorage,
		Name:      publishFailuresTotal,
		Help:      "number of records that failed to publish",
	},
	[]string{topicLabel},
)

var exportPartsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: catalogStorage,
		Name:      exportPartsTotal,
		Help:      "number of multipart upload parts written by the export service",
	},
)

var exportsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: catalogStorage,
		Name:      exportsTotal,
		Help:      "number of bulk exports by outcome",
	},
	[]string{exportOutcomeLabel},
)

var jobsSubmittedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: catalogStorage,
		Name:      jobsSubmittedTotal,
		Help:      "number of background jobs submitted by kind",
	},
	[]string{jobKindLabel},
)

func IncreaseRecordsPublished(topic string) {
	recordsPublishedTotalMetric.With(prometheus.Labels{topicLabel: topic}).Inc()
}

func IncreasePublishFailures(topic string) {
	publishFailuresTotalMetric.With(prometheus.Labels{topicLabel: topic}).Inc()
}

func IncreaseExportParts() {
	exportPartsTotalMetric.Inc()
}

func IncreaseExports(outcome string) {
	exportsTotalMetric.With(prometheus.Labels{exportOutcomeLabel: outcome}).Inc()
}

func IncreaseJobsSubmitted(kind string) {
	jobsSubmittedTotalMetric.With(prometheus.Labels{jobKindLabel: kind}).Inc()
}

func RegisterMetrics() {
	prometheus.MustRegister(recordsPublishedTotalMetric)
	prometheus.MustRegister(publishFailuresTotalMetric)
	prometheus.MustRegister(exportPartsTotalMetric)
	prometheus.MustRegister(exportsTotalMetric)
	prometheus.MustRegister(jobsSubmittedTotalMetric)
}
