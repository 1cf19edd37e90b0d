// Command hl2prov discovers HPSDR-family radios and provisions the
// EEPROM of a Hermes-Lite 2.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/deskhpsdr/hl2prov"
	"github.com/deskhpsdr/hl2prov/internal/proto"
)

const (
	ipAddrFile    = "ip.addr"
	radioPortFile = "radio.port"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("hl2prov", flag.ContinueOnError)

	ip := fs.String("ip", "", "target radio IPv4 address; if omitted, a discovery pass locates one")
	set := fs.String("set", "", "set fixed IP to A.B.C.D (rejects host octet 0 or 255)")
	clear := fs.Bool("clear", false, "clear fixed-IP flag, zero fixed-IP bytes, and clear DHCP-preferred")
	dhcpFirst := fs.Bool("dhcp-first", false, "set DHCP-preferred flag")
	clearDHCPFirst := fs.Bool("clear-dhcp-first", false, "clear DHCP-preferred flag")
	reboot := fs.Bool("reboot", false, "issue remote reboot")
	list := fs.Bool("list", false, "run one discovery pass and print discovered devices")
	jsonOut := fs.Bool("json", false, "with -list, print the device table as JSON")
	port := fs.Int("port", 0, "discovery UDP port (default 1024, or the value in radio.port)")
	verifyRetries := fs.Int("verify-retries", int(proto.DefaultVerifyRetries), "EEPROM read-verify-retry attempt budget")
	verifyInterval := fs.Duration("verify-interval", proto.DefaultVerifyInterval, "EEPROM read-verify-retry spacing")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	modes := 0
	for _, active := range []bool{*set != "", *clear, *dhcpFirst, *clearDHCPFirst, *reboot, *list} {
		if active {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "hl2prov: exactly one of -set, -clear, -dhcp-first, -clear-dhcp-first, -reboot, -list is required")
		return 2
	}

	resolvedPort, err := resolvePort(*port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hl2prov: %v\n", err)
		return 2
	}

	if *list {
		return runList(resolvedPort, *jsonOut)
	}

	target, err := resolveTarget(*ip, resolvedPort)
	if err != nil {
		if hpsdr.IsDiscoveryEmpty(err) {
			fmt.Fprintln(os.Stderr, "hl2prov: discovery failed: no devices responded")
			return 3
		}
		fmt.Fprintf(os.Stderr, "hl2prov: %v\n", err)
		return 2
	}

	t, err := hpsdr.NewTransport(target, proto.CCPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hl2prov: %v\n", err)
		return 3
	}
	defer t.Close()

	svc := hpsdr.NewEEPROMService(t).WithVerifyBudget(*verifyRetries, *verifyInterval)

	switch {
	case *set != "":
		return doSetFixedIP(svc, *set)
	case *clear:
		return doClearFixedIP(svc)
	case *dhcpFirst:
		return doDHCPFlag(svc, true)
	case *clearDHCPFirst:
		return doDHCPFlag(svc, false)
	case *reboot:
		return doReboot(svc)
	}

	// Unreachable: the exactly-one-mode check above guarantees one of
	// the cases above fired.
	return 2
}

func doSetFixedIP(svc *hpsdr.EEPROMService, raw string) int {
	ip := net.ParseIP(raw)
	if ip == nil {
		fmt.Fprintf(os.Stderr, "hl2prov: invalid IP: %s\n", raw)
		return 2
	}
	if ip.To4() != nil {
		if last := ip.To4()[3]; last == 0 || last == 255 {
			fmt.Fprintf(os.Stderr, "hl2prov: host octet must not be 0 or 255: %s\n", raw)
			return 2
		}
	}

	res, err := svc.SetFixedIP(ip)
	if err != nil {
		return reportErr("set-fixed-ip", err)
	}

	success("set fixed IP to %s (flags=0x%02X); reboot or power-cycle the radio to apply", res.IP, res.Flags)
	return 0
}

func doClearFixedIP(svc *hpsdr.EEPROMService) int {
	res, err := svc.ClearFixedIP()
	if err != nil {
		return reportErr("clear-fixed-ip", err)
	}

	success("cleared fixed IP (stored=%s, flags=0x%02X); reboot or power-cycle the radio to apply", res.IP, res.Flags)
	return 0
}

func doDHCPFlag(svc *hpsdr.EEPROMService, set bool) int {
	op := "clear-dhcp-first"
	if set {
		op = "set-dhcp-first"
	}

	var flags byte
	var err error
	if set {
		flags, err = svc.SetDHCPPreferred()
	} else {
		flags, err = svc.ClearDHCPPreferred()
	}
	if err != nil {
		return reportErr(op, err)
	}

	success("%s (flags=0x%02X)", op, flags)
	return 0
}

func doReboot(svc *hpsdr.EEPROMService) int {
	if err := svc.Reboot(); err != nil {
		return reportErr("reboot", err)
	}
	success("reboot command sent")
	return 0
}

// reportErr maps err to the exit code scheme of spec.md §6/§7: 4 for a
// read-step failure, 5 for a write-step failure, 6 for a verify
// timeout, 3 for anything else reaching the transport.
func reportErr(op string, err error) int {
	var herr *hpsdr.Error
	if e, ok := asHPSDRError(err); ok {
		herr = e
	}

	color.New(color.FgRed).Fprintf(os.Stderr, "hl2prov: %s: %v\n", op, err)

	switch {
	case hpsdr.IsVerifyTimeout(err):
		return 6
	case herr != nil && herr.Step == hpsdr.StepWrite:
		return 5
	case herr != nil && herr.Step == hpsdr.StepRead:
		return 4
	default:
		return 3
	}
}

func asHPSDRError(err error) (*hpsdr.Error, bool) {
	herr, ok := err.(*hpsdr.Error)
	return herr, ok
}

func success(format string, a ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, "hl2prov: "+format+"\n", a...)
}

func runList(port int, jsonOut bool) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d := hpsdr.NewDiscoverer(hpsdr.WithPort(port))
	devices, err := d.Broadcast(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hl2prov: discovery failed: %v\n", err)
		return 3
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(devices); err != nil {
			fmt.Fprintf(os.Stderr, "hl2prov: %v\n", err)
			return 3
		}
		return 0
	}

	if len(devices) == 0 {
		fmt.Println("hl2prov: no devices found")
		return 0
	}
	for _, dev := range devices {
		fmt.Println(dev.String())
	}
	return 0
}

// resolveTarget returns the IPv4 address of the device to operate on:
// ip directly if supplied, otherwise the first responder from one
// broadcast discovery pass (spec.md §4.7, "first responder wins"). If
// the broadcast pass finds nothing on a directly attached segment, it
// falls back to a routed unicast probe against the last-persisted
// ip.addr, matching old_discovery.c's discover(NULL, 2) fallback for a
// radio reached only through a router.
func resolveTarget(ip string, port int) (net.IP, error) {
	if ip != "" {
		parsed := net.ParseIP(ip)
		if parsed == nil || parsed.To4() == nil {
			return nil, fmt.Errorf("%w: invalid IPv4 address: %s", hpsdr.ErrInvalidArgument, ip)
		}
		writeStateFile(ipAddrFile, ip)
		return parsed, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d := hpsdr.NewDiscoverer(hpsdr.WithPort(port))
	devices, err := d.Broadcast(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		target := devices[0].Net.RemoteAddr.IP
		writeStateFile(ipAddrFile, target.String())
		return target, nil
	}

	if target, ok := unicastToPersistedAddr(ctx, d); ok {
		return target, nil
	}

	return nil, hpsdr.ErrDiscoveryEmpty
}

// unicastToPersistedAddr retries discovery as a routed unicast probe
// against the last-persisted ip.addr, for a radio that sits behind a
// router and never answers link-local broadcast.
func unicastToPersistedAddr(ctx context.Context, d *hpsdr.Discoverer) (net.IP, bool) {
	raw, ok := readStateFile(ipAddrFile)
	if !ok {
		return nil, false
	}

	last := strings.TrimSpace(raw)
	if parsed := net.ParseIP(last); parsed == nil || parsed.To4() == nil {
		return nil, false
	}

	devices, err := d.Unicast(ctx, last)
	if err != nil || len(devices) == 0 {
		return nil, false
	}

	target := devices[0].Net.RemoteAddr.IP
	writeStateFile(ipAddrFile, target.String())
	return target, true
}

// resolvePort returns flagPort if nonzero, else the last-persisted
// radio.port, else the discovery protocol default.
func resolvePort(flagPort int) (int, error) {
	if flagPort != 0 {
		if flagPort < 1 || flagPort > 65535 {
			return 0, fmt.Errorf("port out of range: %d", flagPort)
		}
		writeStateFile(radioPortFile, strconv.Itoa(flagPort))
		return flagPort, nil
	}

	if raw, ok := readStateFile(radioPortFile); ok {
		if p, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && p >= 1 && p <= 65535 {
			return p, nil
		}
	}

	return proto.DiscoveryPort, nil
}

func readStateFile(name string) (string, bool) {
	b, err := os.ReadFile(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// writeStateFile persists a single line of state. Failures are
// non-fatal: the persisted files are a convenience, not correctness
// state.
func writeStateFile(name, value string) {
	_ = os.WriteFile(name, []byte(value+"\n"), 0o644)
}
