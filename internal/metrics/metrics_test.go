package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.SamplesTaken.Inc()
	r.EventsDispatched.WithLabelValues("VAC:PRESSURE").Inc()
	r.TriggersFired.WithLabelValues("glitch1").Inc()
	r.CAErrors.WithLabelValues("connect").Inc()
	r.SupervisorPings.WithLabelValues("ok").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "sdds_samples_taken_total 1")
	assert.True(t, strings.Contains(body, `sdds_events_dispatched_total{controlName="VAC:PRESSURE"} 1`))
	assert.True(t, strings.Contains(body, `sdds_supervisor_pings_total{result="ok"} 1`))
}
