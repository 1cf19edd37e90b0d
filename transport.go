package hpsdr

import (
	"fmt"
	"net"
	"time"

	"github.com/deskhpsdr/hl2prov/internal/proto"
)

// A Transport is a synchronous, single-outstanding-command C&C RPC
// channel to one device (spec.md §4.5).
//
// A Transport is not safe for concurrent use: at most one command may
// be outstanding at a time, and serializing calls is the caller's
// responsibility.
type Transport struct {
	conn    *net.UDPConn
	target  *net.UDPAddr
	timeout time.Duration
}

// NewTransport binds a new ephemeral, SO_REUSEADDR UDP socket and
// returns a Transport addressed at target:port, or target:1025 when
// port is 0.
func NewTransport(target net.IP, port int) (*Transport, error) {
	if port == 0 {
		port = proto.CCPort
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := setReuseAddr(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	return &Transport{
		conn:    conn,
		target:  &net.UDPAddr{IP: target, Port: port},
		timeout: proto.CCReplyWindow,
	}, nil
}

// Close closes the Transport's underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Do issues a single C&C request to the target register address addr
// with the four command bytes cmd, and waits up to the reply window
// for a 60-byte EF FE-prefixed response.
//
// On timeout or a malformed reply, Do returns ErrNoReply. On success,
// it returns the big-endian 32-bit response word from bytes
// 0x17..0x1A.
func (t *Transport) Do(addr byte, cmd [4]byte) (uint32, error) {
	req := BuildCCRequest(addr, cmd)
	if _, err := t.conn.WriteToUDP(req, t.target); err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}

	buf := make([]byte, proto.CCFrameSize+16)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return 0, ErrNoReply
		}
		if !from.IP.Equal(t.target.IP) {
			// A reply from an unrelated source; keep waiting within
			// the remaining window.
			continue
		}

		word, err := ParseCCReply(buf[:n])
		if err != nil {
			return 0, ErrNoReply
		}
		return word, nil
	}
}

// Reboot sends the reboot C&C frame and returns immediately without
// waiting for a reply, since the device reboots and cannot answer
// (spec.md §4.5, "Reboot is fire-and-forget").
func (t *Transport) Reboot() error {
	req := BuildCCRequest(proto.TargetReboot, [4]byte{0x00, 0x00, 0x00, 0x01})
	_, err := t.conn.WriteToUDP(req, t.target)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
