package metrics

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/prometheus/util/promlint"

	"github.com/deskhpsdr/hl2prov"
)

var _ discoverer = &fakeDiscoverer{}

// fakeDiscoverer is a discoverer substitute that returns a fixed device
// table or error, so collector tests need no real socket.
type fakeDiscoverer struct {
	devices []hpsdr.Device
	err     error
}

func (f *fakeDiscoverer) Broadcast(ctx context.Context) ([]hpsdr.Device, error) {
	return f.devices, f.err
}

func testDevice(name string, family hpsdr.Family, addr string) hpsdr.Device {
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	return hpsdr.Device{
		MAC:    mac,
		Family: family,
		Name:   name,
		Status: hpsdr.StatusAvailable,
		Net: hpsdr.Attachment{
			RemoteAddr: net.UDPAddr{IP: net.ParseIP(addr), Port: 1024},
			IfaceName:  "eth0",
		},
	}
}

func TestCollector(t *testing.T) {
	tests := []struct {
		name    string
		d       *fakeDiscoverer
		metrics []string
	}{
		{
			name: "no devices",
			d:    &fakeDiscoverer{},
			metrics: []string{
				`hpsdr_devices_discovered 0`,
			},
		},
		{
			name: "one device",
			d: &fakeDiscoverer{
				devices: []hpsdr.Device{testDevice("Hermes-Lite v2", hpsdr.FamilyHermesLiteV2, "192.168.33.20")},
			},
			metrics: []string{
				`hpsdr_devices_discovered 1`,
				`hpsdr_device_info{addr="192.168.33.20",family="Hermes-Lite v2",iface="eth0",mac="02:00:00:00:00:01",status="available"} 1`,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := lintedMetrics(t, tc.d)

			for _, want := range tc.metrics {
				if !bytes.Contains(body, []byte(want)) {
					t.Errorf("metric %q not found in:\n%s", want, body)
				}
			}
		})
	}
}

func TestCollector_DiscoveryError(t *testing.T) {
	d := &fakeDiscoverer{err: errors.New("broadcast failed")}

	s := httptest.NewServer(serveMetrics(d, time.Second))
	defer s.Close()

	// A failed discovery pass reports an invalid metric rather than
	// panicking or hanging the scrape; promhttp surfaces that as a
	// 500 with a plain-text explanation instead of a partial sample.
	res, err := http.Get(s.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d; body:\n%s", res.StatusCode, http.StatusInternalServerError, b)
	}
	if !strings.Contains(string(b), "broadcast failed") {
		t.Fatalf("expected the discovery error in the response body, got:\n%s", b)
	}
}

// lintedMetrics scrapes d through the real HTTP handler and asserts the
// exposed metrics pass promlint's best-practice checks.
func lintedMetrics(t *testing.T, d discoverer) []byte {
	t.Helper()

	s := httptest.NewServer(serveMetrics(d, time.Second))
	defer s.Close()

	res, err := http.Get(s.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	problems, err := promlint.New(bytes.NewReader(b)).Lint()
	if err != nil {
		t.Fatalf("lint metrics: %v", err)
	}
	if len(problems) > 0 {
		for _, p := range problems {
			t.Logf("lint: %s: %s", p.Metric, p.Text)
		}
		t.Fatal("one or more promlint problems found")
	}

	return b
}
