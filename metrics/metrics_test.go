package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ListingPage("web", "entries")
	m.ListingPage("web", "entries")
	m.Article("web", "inserted")
	m.Request("2xx")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.listingPages.WithLabelValues("web", "entries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.articles.WithLabelValues("web", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("2xx")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ListingPage("web", "empty")
		m.Article("web", "failed")
		m.Request("error")
	})
}
