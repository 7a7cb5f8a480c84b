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

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameReceived()
		m.DecodeError()
		m.Admission("admitted")
		m.Forwarded()
		m.ResultSent()
		m.SetUnsent(3)
		m.Connected()
		m.Disconnected(time.Second)
		m.SetPending(1)
		m.SetSessionEstablished(true)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.FrameReceived()
	m.FrameReceived()
	m.DecodeError()
	m.Admission("duplicate")
	m.Admission("duplicate")
	m.Admission("admitted")
	m.Disconnected(3 * time.Second)
	m.SetSessionEstablished(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.backoffSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionEstablished))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetPending(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "replica_pending_messages 4")
	assert.Contains(t, string(body), "go_goroutines")
}
