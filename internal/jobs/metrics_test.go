package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("content:translate").End(nil))
	failure := errors.New("upstream unavailable")
	assert.Equal(t, failure, m.Track("content:translate").End(failure))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("content:translate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("content:translate", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("content:translate")))

	m.AddTranslatedFields("es", 2)
	m.AddTranslatedFields("es", 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fields.WithLabelValues("es")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	failure := errors.New("boom")
	assert.Equal(t, failure, m.Track("x").End(failure))
	m.AddTranslatedFields("fr", 1)
}
