// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Image outcomes.
const (
	OutcomeUploaded = "uploaded"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

var (
	ingestImagesTotal          *prometheus.CounterVec
	ingestBytesTotal           *prometheus.CounterVec
	ingestImageDuration        prometheus.Histogram
	webhookRequestsTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpResponseSizeBytes      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_images_total",
				Help: "Images processed, labeled by outcome and the stage that decided it.",
			},
			[]string{"outcome", "stage"},
		)

		ingestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_downloaded_bytes_total",
				Help: "Bytes downloaded from image sources, labeled by host.",
			},
			[]string{"site"},
		)

		ingestImageDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_image_duration_seconds",
				Help:    "Time spent resolving, downloading and uploading one image.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		webhookRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_requests_total",
				Help: "Vehicle webhooks handled, labeled by action and HTTP status.",
			},
			[]string{"action", "code"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)

		httpResponseSizeBytes = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "Response body sizes, labeled by route.",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveImage records the outcome of one image.
func ObserveImage(outcome, stage string, duration time.Duration) {
	Init()
	ingestImagesTotal.WithLabelValues(outcome, stage).Inc()
	if duration > 0 {
		ingestImageDuration.Observe(duration.Seconds())
	}
}

// ObserveDownload adds downloaded bytes for the source host.
func ObserveDownload(sourceURL string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		ingestBytesTotal.WithLabelValues(SanitizeSite(sourceURL)).Add(float64(bytesFetched))
	}
}

// ObserveWebhook records one handled webhook.
func ObserveWebhook(action string, code int) {
	Init()
	webhookRequestsTotal.WithLabelValues(action, strconv.Itoa(code)).Inc()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code, bytesWritten int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	httpResponseSizeBytes.WithLabelValues(route).Observe(float64(bytesWritten))
}
