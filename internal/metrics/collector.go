// Package metrics exposes HPSDR discovery results as Prometheus
// metrics, one broadcast discovery pass per scrape.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deskhpsdr/hl2prov"
)

var _ prometheus.Collector = &collector{}

// discoverer is the subset of *hpsdr.Discoverer a collector depends
// on, so tests can supply a fake without a real socket.
type discoverer interface {
	Broadcast(ctx context.Context) ([]hpsdr.Device, error)
}

// A collector is a prometheus.Collector that runs one broadcast
// discovery pass per Collect call. It holds no state between scrapes:
// this is instrumentation over an ephemeral discovery session, not a
// device registry.
type collector struct {
	DevicesDiscovered *prometheus.Desc
	DeviceInfo        *prometheus.Desc
	DiscoveryDuration *prometheus.Desc

	d       discoverer
	timeout time.Duration
}

// newCollector constructs a collector using d, bounding each scrape's
// discovery pass to timeout.
func newCollector(d discoverer, timeout time.Duration) prometheus.Collector {
	return &collector{
		DevicesDiscovered: prometheus.NewDesc(
			"hpsdr_devices_discovered",
			"Number of HPSDR-family devices discovered on the last scrape.",
			nil,
			nil,
		),
		DeviceInfo: prometheus.NewDesc(
			"hpsdr_device_info",
			"Metadata about a discovered device.",
			[]string{"mac", "family", "status", "addr", "iface"},
			nil,
		),
		DiscoveryDuration: prometheus.NewDesc(
			"hpsdr_discovery_duration_seconds",
			"Wall-clock duration of the discovery pass backing this scrape.",
			nil,
			nil,
		),

		d:       d,
		timeout: timeout,
	}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ds := []*prometheus.Desc{
		c.DevicesDiscovered,
		c.DeviceInfo,
		c.DiscoveryDuration,
	}
	for _, d := range ds {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	devices, err := c.d.Broadcast(ctx)
	elapsed := time.Since(start)

	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.DevicesDiscovered, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.DiscoveryDuration,
		prometheus.GaugeValue,
		elapsed.Seconds(),
	)

	ch <- prometheus.MustNewConstMetric(
		c.DevicesDiscovered,
		prometheus.GaugeValue,
		float64(len(devices)),
	)

	for _, dev := range devices {
		ch <- prometheus.MustNewConstMetric(
			c.DeviceInfo,
			prometheus.GaugeValue,
			1,
			dev.MAC.String(),
			dev.Family.String(),
			dev.Status.String(),
			dev.Net.RemoteAddr.IP.String(),
			dev.Net.IfaceName,
		)
	}
}
