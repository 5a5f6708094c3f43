package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveReconciliation("sync", "ok")
	m.ObserveReservation("created")
	m.ObserveReservationWait(time.Second)
	m.ObserveJob("x", "completed")
	m.ObserveJobDuration("x", time.Second)
	m.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)
	m.ObserveRevocation("public_portfolio", "revoked")
}

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.ObserveReconciliation("sync", "ok")
	m.ObserveReconciliation("sync", "ok")
	m.ObserveReservation("reused")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reconciliations.WithLabelValues("sync", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("reused")))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "careerlyst_subscription_reconciliations_total"))
}
