package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/prometheus/util/promlint"

	"github.com/deskhpsdr/hl2prov"
)

func TestServeMetrics_FreshRegistryPerRequest(t *testing.T) {
	d := &fakeDiscoverer{
		devices: []hpsdr.Device{testDevice("Hermes-Lite v2", hpsdr.FamilyHermesLiteV2, "192.168.33.20")},
	}
	h := &handler{
		newDiscoverer: func() discoverer { return d },
		timeout:       time.Second,
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusOK)
		}

		problems, err := promlint.New(bytes.NewReader(rec.Body.Bytes())).Lint()
		if err != nil {
			t.Fatalf("request %d: lint metrics: %v", i, err)
		}
		if len(problems) > 0 {
			t.Fatalf("request %d: promlint problems: %v", i, problems)
		}
	}
}

func TestNewHandler_BuildsHPSDRDiscoverer(t *testing.T) {
	h, ok := NewHandler(1099, time.Second).(*handler)
	if !ok {
		t.Fatalf("NewHandler() returned %T, want *handler", h)
	}

	d, ok := h.newDiscoverer().(*hpsdr.Discoverer)
	if !ok {
		t.Fatalf("newDiscoverer() returned %T, want *hpsdr.Discoverer", d)
	}
}
