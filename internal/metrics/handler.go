package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskhpsdr/hl2prov"
)

var _ http.Handler = &handler{}

// A handler is an http.Handler that serves Prometheus metrics for one
// broadcast discovery pass per request.
type handler struct {
	newDiscoverer func() discoverer
	timeout       time.Duration
}

// NewHandler returns an http.Handler that runs one broadcast discovery
// pass per scrape and serves the result as Prometheus metrics. port,
// when nonzero, overrides the discovery protocol's default UDP port.
func NewHandler(port int, timeout time.Duration) http.Handler {
	opts := []hpsdr.Option{}
	if port != 0 {
		opts = append(opts, hpsdr.WithPort(port))
	}

	return &handler{
		newDiscoverer: func() discoverer { return hpsdr.NewDiscoverer(opts...) },
		timeout:       timeout,
	}
}

// ServeHTTP implements http.Handler.
func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveMetrics(h.newDiscoverer(), h.timeout).ServeHTTP(w, r)
}

// serveMetrics creates a Prometheus metrics handler backed by one
// broadcast discovery pass per request.
func serveMetrics(d discoverer, timeout time.Duration) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(d, timeout))

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
