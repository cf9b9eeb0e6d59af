package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	c := New()
	c.Transition("confirm")
	c.Transition("confirm")
	c.Payment("recorded")
	c.Payment("no_reference")
	c.ObserveOCR(1500 * time.Millisecond)
	c.OutboundFailure("blocked")
	c.OutboundFailure("blocked")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("confirm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.payments.WithLabelValues("no_reference")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recorded))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.outbound.WithLabelValues("blocked")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.Payment("technical")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `exchangebot_payments_total{outcome="technical"} 1`)
	assert.Contains(t, string(body), "exchangebot_ocr_duration_seconds_bucket")
}
