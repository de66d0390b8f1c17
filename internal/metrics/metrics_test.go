package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	c := transactionsTotal.WithLabelValues("send", "stored")
	before := testutil.ToFloat64(c)

	Recorder{}.RecordOperation("send", "stored")
	Recorder{}.RecordOperation("send", "stored")

	assert.Equal(t, before+2, testutil.ToFloat64(c))
}

func TestRecordResend(t *testing.T) {
	pushed := resendTotal.WithLabelValues("all", "pushed")
	failed := resendTotal.WithLabelValues("all", "failed")
	p0, f0 := testutil.ToFloat64(pushed), testutil.ToFloat64(failed)

	RecordResend("all", 3, true)

	assert.Equal(t, p0+3, testutil.ToFloat64(pushed))
	assert.Equal(t, f0+1, testutil.ToFloat64(failed))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordHTTPRequest(http.MethodGet, "/upcheck", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `privtx_http_requests_total{method="GET",path="/upcheck",status="200"}`)
	assert.Contains(t, body, "privtx_http_request_duration_seconds_bucket")
}
