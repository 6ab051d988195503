package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the crawl counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	listingPages *prometheus.CounterVec
	articles     *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// New creates the crawl counters and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		listingPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bdm",
			Name:      "listing_pages_total",
			Help:      "Listing pages visited, by category and outcome.",
		}, []string{"category", "outcome"}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bdm",
			Name:      "articles_total",
			Help:      "Article fetch results, by category and status.",
		}, []string{"category", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bdm",
			Name:      "http_requests_total",
			Help:      "HTTP requests to the source site, by status class.",
		}, []string{"class"}),
	}

	if reg != nil {
		reg.MustRegister(m.listingPages, m.articles, m.requests)
	}
	return m
}

// ListingPage counts one listing page outcome.
func (m *Metrics) ListingPage(category, outcome string) {
	if m == nil {
		return
	}
	m.listingPages.WithLabelValues(category, outcome).Inc()
}

// Article counts one article result.
func (m *Metrics) Article(category, status string) {
	if m == nil {
		return
	}
	m.articles.WithLabelValues(category, status).Inc()
}

// Request counts one HTTP response by status class ("2xx", "4xx", ...) or
// "error" for transport failures.
func (m *Metrics) Request(class string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(class).Inc()
}
