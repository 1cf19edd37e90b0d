// Command hl2prov-exporter implements a Prometheus exporter for
// HPSDR-family device discovery.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/deskhpsdr/hl2prov/internal/metrics"
)

func main() {
	var (
		metricsAddr = flag.String("metrics.addr", ":9138", "address for hl2prov exporter")
		metricsPath = flag.String("metrics.path", "/metrics", "URL path for surfacing collected metrics")

		discoveryPort    = flag.Int("discovery.port", 0, "discovery UDP port; 0 uses the protocol default (1024)")
		discoveryTimeout = flag.Duration("discovery.timeout", 5*time.Second, "ceiling for the broadcast discovery pass backing each scrape")
	)

	flag.Parse()

	h := metrics.NewHandler(*discoveryPort, *discoveryTimeout)

	mux := http.NewServeMux()
	mux.Handle(*metricsPath, h)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, *metricsPath, http.StatusMovedPermanently)
	})

	log.Printf("starting hl2prov exporter on %q", *metricsAddr)

	if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
		log.Fatalf("cannot start hl2prov exporter: %v", err)
	}
}
