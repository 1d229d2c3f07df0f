package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGeneration("success")
	c.RecordGeneration("success")
	c.RecordGeneration("fallback")
	c.RecordRetry()
	c.RecordImage("pollinations", true)
	c.RecordQuotaDenied("minute")
	c.RecordCredentialStatus("invalid")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.generations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generations.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.images.WithLabelValues("pollinations", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotaDenied.WithLabelValues("minute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.credentialStatus.WithLabelValues("invalid")))
}

func TestCollector_RecordBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBatch(2*time.Second, 2, 1)
	c.RecordBatch(time.Second, 0, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.variantsFailed))
	assert.Equal(t, 1, testutil.CollectAndCount(c.batchLatency))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordGeneration("success")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `sparklio_generations_total{outcome="success"} 1`)
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))
	c := NewCollector(prometheus.NewRegistry())
	assert.Same(t, c, OrNop(c))
}
