package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, cyclesTotal)
	require.NotNil(t, mirrorFetchTotal)
}

func TestObserveFetchLabelsByMirror(t *testing.T) {
	before := testutil.ToFloat64(mirrorFetchCounter("Nitter.NET", "error"))
	ObserveFetch("Nitter.NET", "error", 20*time.Millisecond)
	after := testutil.ToFloat64(mirrorFetchCounter("nitter.net", "error"))
	assert.Equal(t, before+1, after)
}

func TestSetReadyGauge(t *testing.T) {
	SetReady(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(watchReady))
	SetReady(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(watchReady))
}

func TestHandlerServesCollectors(t *testing.T) {
	ObserveOutcome(OutcomeFirstContact)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mirrorwatch_identifier_results_total"))
}

func TestSanitizeMirror(t *testing.T) {
	assert.Equal(t, "unknown", sanitizeMirror("  "))
	assert.Equal(t, "xcancel.com", sanitizeMirror("XCancel.com"))
}

func mirrorFetchCounter(mirror, result string) prometheus.Counter {
	Init()
	return mirrorFetchTotal.WithLabelValues(sanitizeMirror(mirror), result)
}
