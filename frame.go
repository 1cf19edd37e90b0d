package hpsdr

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/deskhpsdr/hl2prov/internal/proto"
)

// BuildDiscoveryQuery builds a discovery query frame. When tcp is
// true the 1032-byte TCP-variant frame is built (spec.md §4.1, §9);
// otherwise the 63-byte UDP frame is built. The preamble is identical
// in both cases; only the total length and zero-padding differ.
//
// BuildDiscoveryQuery never blocks and performs no I/O.
func BuildDiscoveryQuery(tcp bool) []byte {
	size := proto.DiscoveryQuerySizeUDP
	if tcp {
		size = proto.DiscoveryQuerySizeTCP
	}

	b := make([]byte, size)
	b[0] = proto.Preamble0
	b[1] = proto.Preamble1
	b[proto.OffsetStatus] = proto.DiscoveryQueryCmd
	return b
}

// BuildCCRequest builds a 60-byte C&C request frame addressed to the
// 7-bit target register addr, carrying the four command bytes cmd.
//
// BuildCCRequest never blocks and performs no I/O.
func BuildCCRequest(addr byte, cmd [4]byte) []byte {
	b := make([]byte, proto.CCFrameSize)
	b[0] = proto.Preamble0
	b[1] = proto.Preamble1
	b[proto.OffsetCCCmd] = proto.CCRequestCmd
	b[proto.OffsetCCAddrHdr] = proto.CCAddrHeader
	b[proto.OffsetCCAddr] = addr << 1
	copy(b[proto.OffsetCCData:proto.OffsetCCData+4], cmd[:])
	return b
}

// ParseCCReply validates a C&C reply frame and returns the big-endian
// 32-bit response word carried at bytes 0x17..0x1A.
//
// ParseCCReply rejects frames shorter than 60 bytes or that fail the
// EF FE preamble check; both cases return ErrProtocolViolation.
func ParseCCReply(b []byte) (uint32, error) {
	if len(b) < proto.CCFrameSize {
		return 0, fmt.Errorf("%w: short C&C reply (%d bytes)", ErrProtocolViolation, len(b))
	}
	if b[0] != proto.Preamble0 || b[1] != proto.Preamble1 {
		return 0, fmt.Errorf("%w: bad C&C reply preamble", ErrProtocolViolation)
	}

	word := b[proto.CCReplyWordOffset : proto.CCReplyWordOffset+proto.CCReplyWordLen]
	return binary.BigEndian.Uint32(word), nil
}

// a discoveryReply is the raw, decoded contents of a discovery reply
// frame, before classification into a Device. Parsing is purely
// structural; family/frequency decisions belong to the Device
// Classifier (classify.go).
type discoveryReply struct {
	status   byte
	mac      net.HardwareAddr
	fwMajor  byte
	boardID  byte
	hasEE    bool
	eeFlags  byte
	eeRsvd   byte
	fixedIP  net.IP
	macLow   []byte
	fwMinor  byte
}

// parseDiscoveryReply validates and decodes a discovery reply frame.
//
// Frames shorter than 17 bytes, or that fail the preamble or status
// byte checks, are rejected with ErrProtocolViolation; per spec.md
// §4.3 these are dropped silently by the caller, never surfaced.
func parseDiscoveryReply(b []byte) (*discoveryReply, error) {
	if len(b) < proto.MinReplySize {
		return nil, fmt.Errorf("%w: short discovery reply (%d bytes)", ErrProtocolViolation, len(b))
	}
	if b[0] != proto.Preamble0 || b[1] != proto.Preamble1 {
		return nil, fmt.Errorf("%w: bad discovery reply preamble", ErrProtocolViolation)
	}

	status := b[proto.OffsetStatus]
	if status != proto.ReplyStatusAvailable && status != proto.ReplyStatusSending {
		return nil, fmt.Errorf("%w: bad discovery reply status byte 0x%02X", ErrProtocolViolation, status)
	}

	r := &discoveryReply{
		status:  status,
		mac:     net.HardwareAddr(append([]byte(nil), b[proto.OffsetMAC:proto.OffsetMAC+proto.MACLen]...)),
		fwMajor: b[proto.OffsetFWMajor],
		boardID: b[proto.OffsetBoardID],
	}

	if len(b) > proto.OffsetFixedIP+3 {
		r.hasEE = true
		r.eeFlags = b[proto.OffsetEEPROMFlags]
		r.eeRsvd = b[proto.OffsetEEPROMRsvd]
		r.fixedIP = net.IPv4(b[proto.OffsetFixedIP], b[proto.OffsetFixedIP+1], b[proto.OffsetFixedIP+2], b[proto.OffsetFixedIP+3])

		if r.eeFlags&flagUseStoredMAC != 0 && len(b) > proto.OffsetMACLowBytes+1 {
			r.macLow = append([]byte(nil), b[proto.OffsetMACLowBytes:proto.OffsetMACLowBytes+2]...)
		}
		if len(b) > proto.OffsetFWMinorHL2 {
			r.fwMinor = b[proto.OffsetFWMinorHL2]
		}
	}

	return r, nil
}
