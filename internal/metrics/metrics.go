// Package metrics exposes prometheus counters for the execution server, the
// remote adapter and orchestrated runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msageha/tcexec/internal/logging"
)

const (
	MetricsNamespace = "tcexec"
)

var (
	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "sessions_active",
		Help:      "Connections currently served by the execution server",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "sessions_total",
		Help:      "Connections accepted by the execution server",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "requests_total",
		Help:      "Protocol lines handled by the execution server, by kind",
	}, []string{
		"kind",
	})

	caseResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "case_results_total",
		Help:      "Terminal test case outcomes",
	}, []string{
		"side",
		"state",
		"result",
	})

	caseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "case_duration_seconds",
		Help:      "Wall time spent executing one test case",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{
		"side",
	})

	runResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results_total",
		Help:      "Orchestrated runs by plan and outcome",
	}, []string{
		"plan",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last orchestrated run of a plan",
	}, []string{
		"plan",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(label string) {
	errorsTotal.WithLabelValues(label).Inc()
}

// RecordErrorDetails appends a cleaned form of err to label.
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	RecordError(fmt.Sprintf("%s.%s", label, errToLabel(err)))
}

func SessionOpened() {
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func SessionClosed() {
	sessionsActive.Dec()
}

func RecordRequest(kind string) {
	requestsTotal.WithLabelValues(kind).Inc()
}

// RecordCase counts one terminal outcome. side is "server", "client" or "local".
func RecordCase(side, state, result string, took time.Duration) {
	caseResultsTotal.WithLabelValues(side, state, result).Inc()
	caseDuration.WithLabelValues(side).Observe(took.Seconds())
}

func RecordRun(plan string, passed bool, took time.Duration) {
	result := "passed"
	if !passed {
		result = "failed"
	}
	runResults.WithLabelValues(plan, result).Inc()
	runDuration.WithLabelValues(plan).Set(took.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
