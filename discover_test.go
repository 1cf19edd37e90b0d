package hpsdr

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/deskhpsdr/hl2prov/internal/proto"
)

// canonicalHL2Reply builds the reply frame used throughout spec.md §8's
// scenario 2: MAC 00:1C:C0:A2:13:37, gateware 7.3, HermesLite board-ID,
// flags=0x80, stored IP 192.168.33.50.
func canonicalHL2Reply() []byte {
	b := make([]byte, 22)
	b[0], b[1] = proto.Preamble0, proto.Preamble1
	b[proto.OffsetStatus] = proto.ReplyStatusAvailable
	copy(b[proto.OffsetMAC:], []byte{0x00, 0x1C, 0xC0, 0xA2, 0x13, 0x37})
	b[proto.OffsetFWMajor] = 7
	b[proto.OffsetBoardID] = proto.BoardHermesLite
	b[proto.OffsetEEPROMFlags] = 0x80
	b[proto.OffsetFixedIP] = 192
	b[proto.OffsetFixedIP+1] = 168
	b[proto.OffsetFixedIP+2] = 33
	b[proto.OffsetFixedIP+3] = 50
	b[proto.OffsetFWMinorHL2] = 3
	return b
}

// startMockResponder listens on loopback UDP, replies to any discovery
// query with reply, and returns the port it bound. It stops when the
// test's cleanup closes its socket.
func startMockResponder(t *testing.T, reply []byte) int {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("mock responder listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n < 3 {
				continue
			}
			conn.WriteToUDP(reply, from)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestDiscoverer_Unicast(t *testing.T) {
	t.Parallel()

	port := startMockResponder(t, canonicalHL2Reply())

	d := NewDiscoverer(WithPort(port), WithWindows(500*time.Millisecond, 500*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	devices, err := d.Unicast(ctx, "127.0.0.1")
	if err != nil {
		t.Fatalf("Unicast() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}

	dev := devices[0]
	if !dev.IsHermesLite2() {
		t.Fatalf("IsHermesLite2() = false, want true")
	}
	if !dev.Net.UseRouting {
		t.Fatalf("UseRouting = false, want true")
	}
	if dev.SoftwareVersion != 73 {
		t.Fatalf("SoftwareVersion = %d, want 73", dev.SoftwareVersion)
	}
}

func TestDiscoverer_Unicast_Empty(t *testing.T) {
	t.Parallel()

	// An unused loopback port: nothing answers, so the table stays empty.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	d := NewDiscoverer(WithPort(port), WithWindows(200*time.Millisecond, 200*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	devices, err := d.Unicast(ctx, "127.0.0.1")
	if err != nil {
		t.Fatalf("Unicast() error = %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("len(devices) = %d, want 0", len(devices))
	}
}

func TestTable_DedupByMAC(t *testing.T) {
	t.Parallel()

	table := newTable(10)

	mac := net.HardwareAddr{0x00, 0x1C, 0xC0, 0xA2, 0x13, 0x37}
	table.upsert(Device{MAC: mac, Net: Attachment{IfaceName: "eth0"}})
	table.upsert(Device{MAC: mac, Net: Attachment{IfaceName: "eth1"}})

	devices := table.Devices()
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}
	if devices[0].Net.IfaceName != "eth1" {
		t.Fatalf("Net.IfaceName = %q, want %q (last-seen update)", devices[0].Net.IfaceName, "eth1")
	}
}

func TestTable_CapacityBound(t *testing.T) {
	t.Parallel()

	table := newTable(2)
	for i := 0; i < 5; i++ {
		table.upsert(Device{MAC: net.HardwareAddr{0, 0, 0, 0, 0, byte(i)}})
	}

	if got := len(table.Devices()); got != 2 {
		t.Fatalf("len(devices) = %d, want 2 (capacity bound)", got)
	}
}
