package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline stage duration (seconds)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repa_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"stage", "outcome"},
	)

	// Finished pipeline runs
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repa_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"source", "status"}, // source: chat, email; status: complete, degraded, failed
	)

	// Listing fetch retries
	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repa_fetch_retries_total",
			Help: "Total number of listing fetch retries",
		},
	)

	// Image analyses
	ImageAnalyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repa_image_analyses_total",
			Help: "Total number of analyzed listing images",
		},
		[]string{"status"}, // status: ok, failed
	)

	// Monitor tick duration (seconds)
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repa_monitor_tick_duration_seconds",
			Help:    "Duration of inbox monitor ticks in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		},
	)

	// Emails seen by the monitor
	EmailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repa_monitor_emails_total",
			Help: "Total number of emails handled by the inbox monitor",
		},
		[]string{"result"}, // result: filtered, duplicate, recorded, abandoned, failed
	)

	// Mailbox check failures
	MailboxErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repa_monitor_mailbox_errors_total",
			Help: "Total number of failed mailbox checks",
		},
		[]string{"kind"}, // kind: auth, connect, fetch
	)
)

// RecordStage records the duration of a pipeline stage
func RecordStage(stage, outcome string, duration time.Duration) {
	StageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// RecordRun counts a finished pipeline run
func RecordRun(source, status string) {
	PipelineRuns.WithLabelValues(source, status).Inc()
}

// RecordImage counts an analyzed image
func RecordImage(failed bool) {
	status := "ok"
	if failed {
		status = "failed"
	}
	ImageAnalyses.WithLabelValues(status).Inc()
}

// RecordEmail counts an email handled by the monitor
func RecordEmail(result string) {
	EmailsProcessed.WithLabelValues(result).Inc()
}

// RecordMailboxError counts a failed mailbox check
func RecordMailboxError(kind string) {
	MailboxErrors.WithLabelValues(kind).Inc()
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
