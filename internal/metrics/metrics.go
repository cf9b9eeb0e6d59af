// Package metrics exposes Prometheus counters for the exchange flow.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/exchangebot/core/logger"
)

// Collectors groups the bot's metrics on a private registry.
type Collectors struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	payments    *prometheus.CounterVec
	recorded    prometheus.Counter
	ocrDuration prometheus.Histogram
	outbound    *prometheus.CounterVec
}

// New registers all collectors plus the Go and process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchangebot_flow_transitions_total",
			Help: "Exchange flow transitions by destination step.",
		}, []string{"step"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchangebot_payments_total",
			Help: "Payment proof submissions by outcome.",
		}, []string{"outcome"}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchangebot_transactions_recorded_total",
			Help: "Transactions persisted after a successful reference extraction.",
		}),
		ocrDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchangebot_ocr_duration_seconds",
			Help:    "Duration of OCR recognition calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchangebot_outbound_failures_total",
			Help: "Telegram messages that could not be delivered, by failure kind.",
		}, []string{"kind"}),
	}
	c.registry.MustRegister(
		c.transitions,
		c.payments,
		c.recorded,
		c.ocrDuration,
		c.outbound,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Transition counts a step change.
func (c *Collectors) Transition(step string) {
	c.transitions.WithLabelValues(step).Inc()
}

// Payment counts a payment outcome; "recorded" also bumps the transaction counter.
func (c *Collectors) Payment(outcome string) {
	c.payments.WithLabelValues(outcome).Inc()
	if outcome == "recorded" {
		c.recorded.Inc()
	}
}

// ObserveOCR records a recognition duration.
func (c *Collectors) ObserveOCR(d time.Duration) {
	c.ocrDuration.Observe(d.Seconds())
}

// OutboundFailure counts a message that was given up on.
func (c *Collectors) OutboundFailure(kind string) {
	c.outbound.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on listen until ctx is done.
func (c *Collectors) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Component("metrics").Info("metrics server listening",
			slog.String("event", "metrics.listen"),
			slog.String("listen", listen),
		)
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
		return err
	}
}
