package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// New registers its collectors with the default Prometheus registry,
// which rejects a second registration of the same names, so the tests
// share one instance and each asserts on label values only it touches.
var testMetrics = New()

func TestRecordHTTPRequestIncrementsCounter(t *testing.T) {
	m := testMetrics
	m.RecordHTTPRequest("POST", "/v1/messages", "200", 0.05)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/v1/messages", "200")))
}

func TestRecordRouteDecision(t *testing.T) {
	m := testMetrics
	m.RecordRouteDecision("longContext")
	m.RecordRouteDecision("longContext")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RouteDecisions.WithLabelValues("longContext")))
}

func TestRecordMemoryStored(t *testing.T) {
	m := testMetrics
	m.RecordMemoryStored()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MemoryRecordsStored))
}
