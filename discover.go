package hpsdr

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/deskhpsdr/hl2prov/internal/proto"
)

// defaultTableCapacity is the fixed upper bound on a discovery
// session's device table (spec.md §3, "capacity in the low hundreds").
const defaultTableCapacity = 256

// A Table is a fixed-capacity, deduplicated set of discovered Device
// records, indexed by discovery order. Table is safe for concurrent
// use by the Discovery Engine's per-interface goroutines.
type Table struct {
	mu       sync.Mutex
	capacity int
	devices  []Device
}

// newTable returns an empty Table with the given capacity.
func newTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = defaultTableCapacity
	}
	return &Table{capacity: capacity}
}

// upsert inserts d, or if a record with the same MAC already exists,
// updates that record's network attachment instead (spec.md §3, §4.3
// deduplication policy). Overflow beyond capacity silently drops d.
func (t *Table) upsert(d Device) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.devices {
		if sameMAC(t.devices[i].MAC, d.MAC) {
			t.devices[i].Net = d.Net
			t.devices[i].Status = d.Status
			return
		}
	}

	if len(t.devices) >= t.capacity {
		return
	}
	t.devices = append(t.devices, d)
}

// Devices returns a snapshot of the table's current contents.
func (t *Table) Devices() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Device, len(t.devices))
	copy(out, t.devices)
	return out
}

func sameMAC(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// A Discoverer drives one discovery session across the broadcast UDP,
// unicast UDP, and unicast TCP transports of spec.md §4.3.
//
// A Discoverer holds no state between calls beyond its configuration;
// each discovery method is self-contained and returns a freshly
// populated, owned Table slice.
type Discoverer struct {
	port          int
	capacity      int
	allowLoopback bool
	probeSends    int
	localWindow   time.Duration
	remoteWindow  time.Duration
	tcpCeiling    time.Duration
}

// An Option configures a Discoverer.
type Option func(*Discoverer)

// WithPort overrides the discovery UDP port (default 1024).
func WithPort(port int) Option {
	return func(d *Discoverer) { d.port = port }
}

// WithCapacity overrides the device table's capacity.
func WithCapacity(n int) Option {
	return func(d *Discoverer) { d.capacity = n }
}

// WithLoopback permits loopback interfaces to participate in
// broadcast discovery, for same-host HPSDR emulators (spec.md §9).
func WithLoopback(allow bool) Option {
	return func(d *Discoverer) { d.allowLoopback = allow }
}

// WithProbeRetries sets how many times the discovery query is sent
// per interface/target, with a ~30ms gap between sends. This
// implements the platform mitigation of spec.md §4.3; it defaults to
// 1 (no retry burst) and is safe to raise because deduplication is by
// MAC (spec.md §4.3, "Edge: platform mitigation").
func WithProbeRetries(n int) Option {
	return func(d *Discoverer) {
		if n > 0 {
			d.probeSends = n
		}
	}
}

// WithWindows overrides the local and remote receive windows.
func WithWindows(local, remote time.Duration) Option {
	return func(d *Discoverer) { d.localWindow, d.remoteWindow = local, remote }
}

// NewDiscoverer returns a Discoverer configured with the spec.md
// defaults, as overridden by opts.
func NewDiscoverer(opts ...Option) *Discoverer {
	d := &Discoverer{
		port:         proto.DiscoveryPort,
		capacity:     defaultTableCapacity,
		probeSends:   1,
		localWindow:  proto.DiscoveryWindowLocal,
		remoteWindow: proto.DiscoveryWindowRemote,
		tcpCeiling:   proto.TCPConnectCeiling,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Broadcast performs one broadcast-UDP discovery pass (discflag=1)
// across every interface yielded by EnumerateInterfaces, and returns
// the resulting device table.
//
// Socket creation, bind, SO_BROADCAST, and send failures on a single
// interface are logged and that interface is skipped; they never
// abort the session (spec.md §4.3, "Error semantics"). An entirely
// empty result is a legitimate, non-error outcome.
func (d *Discoverer) Broadcast(ctx context.Context) ([]Device, error) {
	ifaces, err := EnumerateInterfaces(d.allowLoopback)
	if err != nil {
		return nil, err
	}

	table := newTable(d.capacity)

	var wg sync.WaitGroup
	for _, ifc := range ifaces {
		ifc := ifc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.probeInterface(ctx, ifc, table); err != nil {
				log.Printf("hpsdr: discovery skipped interface %s: %v", ifc.Name, err)
			}
		}()
	}
	wg.Wait()

	return table.Devices(), nil
}

// probeInterface sends the discovery query out one interface and
// collects replies into table. It implements the background-reader /
// foreground-sender pattern of spec.md §5: a single producer (the
// reader goroutine), a single consumer (this goroutine, which waits
// for the reader to finish before returning).
func (d *Discoverer) probeInterface(ctx context.Context, ifc Iface, table *Table) error {
	laddr := &net.UDPAddr{IP: ifc.IP, Port: 0}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}
	_ = setRecvBuffer(conn, proto.DiscoveryRecvBuffer)

	daddr := &net.UDPAddr{IP: ifc.Broadcast, Port: d.port}

	// Pin the send to this interface explicitly via an IP_PKTINFO
	// control message: on a multi-homed host the routing table may
	// otherwise choose a different egress interface for a broadcast
	// address that several interfaces could plausibly own.
	pc := ipv4.NewPacketConn(conn)
	cm := &ipv4.ControlMessage{IfIndex: ifc.Index}

	att := Attachment{
		LocalIP:      ifc.IP,
		LocalNetmask: ifc.Netmask,
		IfaceName:    ifc.Name,
	}

	// The receive window never outlasts ctx's deadline.
	window := d.localWindow
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < window {
			window = rem
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readReplies(conn, window, d.port, table, att)
	}()

	query := BuildDiscoveryQuery(false)
	for i := 0; i < d.probeSends; i++ {
		if _, err := pc.WriteTo(query, cm, daddr); err != nil {
			wg.Wait()
			return fmt.Errorf("send: %w", err)
		}
		if i < d.probeSends-1 {
			time.Sleep(proto.DiscoveryRetryGap)
		}
	}

	wg.Wait()
	return nil
}

// readReplies drains conn until window elapses, classifying and
// upserting every valid reply into table. Replies whose source port
// is not expectedPort, or that fail the Frame Codec's checks, are
// silently dropped (spec.md §4.3). readReplies returns once the
// socket's read deadline expires, which also unblocks its caller's
// WaitGroup join.
func readReplies(conn *net.UDPConn, window time.Duration, expectedPort int, table *Table, att Attachment) {
	deadline := time.Now().Add(window)
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 2048)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Read deadline elapsed, or the socket was closed by the
			// caller: either way, the receive window is over.
			return
		}
		if remote.Port != expectedPort {
			continue
		}

		reply, err := parseDiscoveryReply(buf[:n])
		if err != nil {
			continue
		}

		table.upsert(classify(reply, remote, att))
	}
}

// Unicast performs a unicast-UDP discovery probe (discflag=2) against
// target (a hostname or IPv4 literal), annotating any resulting
// Device as routed.
func (d *Discoverer) Unicast(ctx context.Context, target string) ([]Device, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(target, strconv.Itoa(d.port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", target, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()
	_ = setRecvBuffer(conn, proto.DiscoveryRecvBuffer)

	table := newTable(d.capacity)
	att := Attachment{UseRouting: true}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readReplies(conn, d.remoteWindow, d.port, table, att)
	}()

	query := BuildDiscoveryQuery(false)
	for i := 0; i < d.probeSends; i++ {
		if _, err := conn.WriteToUDP(query, raddr); err != nil {
			wg.Wait()
			return nil, fmt.Errorf("send: %w", err)
		}
		if i < d.probeSends-1 {
			time.Sleep(proto.DiscoveryRetryGap)
		}
	}

	wg.Wait()

	return table.Devices(), nil
}

// UnicastTCP performs a unicast-TCP discovery probe (discflag=3)
// against target, bounding the connect attempt to d.tcpCeiling
// (spec.md §4.3, §9). At most one reply is collected.
func (d *Discoverer) UnicastTCP(ctx context.Context, target string) ([]Device, error) {
	addr := net.JoinHostPort(target, strconv.Itoa(d.port))

	dialCtx, cancel := context.WithTimeout(ctx, d.tcpCeiling)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", addr, err)
	}
	defer conn.Close()

	query := BuildDiscoveryQuery(true)
	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.remoteWindow))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		// A timed-out or reset read just means no reply arrived; an
		// empty table is a legitimate outcome.
		return nil, nil
	}

	reply, err := parseDiscoveryReply(buf[:n])
	if err != nil {
		return nil, nil
	}

	tcpAddr, _ := net.ResolveUDPAddr("udp4", addr)
	att := Attachment{UseRouting: true, UseTCP: true}
	dev := classify(reply, tcpAddr, att)

	return []Device{dev}, nil
}
