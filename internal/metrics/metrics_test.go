package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Reconciled("appended")
	m.Reconciled("appended")
	m.Reconciled("duplicate")
	m.Notified("message")
	m.Reconnect()
	m.SendFailed()
	m.StaleDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconciled.WithLabelValues("appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciled.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleDropped))
}

func TestConnectionStateIsExclusive(t *testing.T) {
	m := New()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connState.WithLabelValues("idle")))

	m.SetConnectionState("connected")
	for _, s := range ConnectionStates {
		want := 0.0
		if s == "connected" {
			want = 1
		}
		assert.Equal(t, want, testutil.ToFloat64(m.connState.WithLabelValues(s)), s)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Reconciled("appended")
	m.Notified("x")
	m.Reconnect()
	m.SendFailed()
	m.StaleDropped()
	m.SetConnectionState("connected")
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Reconnect()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "supportsync_reconnects_total 1")
	assert.Contains(t, string(body), `supportsync_connection_state{state="idle"} 1`)
}
