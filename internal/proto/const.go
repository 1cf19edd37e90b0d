// Package proto holds the wire-level constants of the HPSDR/METIS
// discovery frame and the HL2 Command-and-Control (C&C) frame, as
// defined in the OpenHPSDR Metis protocol and the Hermes-Lite 2
// firmware's EEPROM gateway.
package proto

import "time"

// UDP ports.
const (
	// DiscoveryPort is the default METIS discovery port.
	DiscoveryPort = 1024
	// CCPort is the UDP port C&C request/reply frames are exchanged on.
	CCPort = 1025
)

// Frame preamble and sizes.
const (
	Preamble0 = 0xEF
	Preamble1 = 0xFE

	// DiscoveryQueryCmd is byte 2 of a discovery query frame.
	DiscoveryQueryCmd = 0x02
	// CCRequestCmd is byte 2 of a C&C request frame.
	CCRequestCmd = 0x05

	// ReplyStatusAvailable and ReplyStatusSending are the two values
	// byte 2 of a discovery reply frame may hold.
	ReplyStatusAvailable = 0x02
	ReplyStatusSending   = 0x03

	// DiscoveryQuerySizeUDP is the length of a UDP discovery query frame.
	DiscoveryQuerySizeUDP = 63
	// DiscoveryQuerySizeTCP is the length of a TCP-variant discovery
	// query frame.
	DiscoveryQuerySizeTCP = 1032
	// MinReplySize is the minimum acceptable discovery reply length.
	MinReplySize = 17
	// CCFrameSize is the fixed length of both C&C request and reply
	// frames.
	CCFrameSize = 60
)

// Discovery reply byte offsets.
const (
	OffsetStatus      = 2
	OffsetMAC         = 3 // 6 bytes, big-endian on the wire
	MACLen            = 6
	OffsetFWMajor     = 9
	OffsetBoardID     = 10
	OffsetEEPROMFlags = 11
	OffsetEEPROMRsvd  = 12
	OffsetFixedIP     = 13 // 4 bytes, W.X.Y.Z
	OffsetMACLowBytes = 17 // 2 bytes, present only when flag 0x40 is set
	OffsetFWMinorHL2  = 21
)

// C&C request frame layout: EF FE 05 7F (addr<<1) C1 C2 C3 C4 00...00.
const (
	OffsetCCCmd     = 2
	OffsetCCAddrHdr = 3 // fixed 0x7F byte
	OffsetCCAddr    = 4
	OffsetCCData    = 5 // C1..C4 occupy bytes 5..8

	// CCAddrHeader is the fixed byte preceding the shifted target
	// register address in a C&C request.
	CCAddrHeader = 0x7F
)

// C&C reply response word, a big-endian uint32 at bytes 0x17..0x1A.
const (
	CCReplyWordOffset = 0x17
	CCReplyWordLen    = 4
)

// HL2 EEPROM register layout (spec.md §6, §3).
const (
	RegFlags    = 0x06
	RegReserved = 0x07
	RegIPFirst  = 0x08
	RegIPLast   = 0x0B
)

// EEPROM flags byte bits (register 0x06).
const (
	FlagUseStoredIP  = 0x80
	FlagUseStoredMAC = 0x40
	FlagFavorDHCP    = 0x20
)

// I2C proxy and HL2 C&C target addresses.
const (
	I2CProxyAddr    = 0xAC
	TargetEEPROMI2C = 0x3D
	TargetReboot    = 0x3A
)

// AcceptAny is the expected-value sentinel meaning "accept any
// successfully read value" in the read-verify-retry primitive.
const AcceptAny = 0xFF

// Board-ID byte values (discovery reply byte 10), matching the values
// used by the OpenHPSDR Metis emulation in the ka9q_ubersdr HPSDR
// client (clients/hpsdr/protocol1.go Protocol1Device* constants).
const (
	BoardMetis      = 0x00
	BoardHermes     = 0x01
	BoardGriffin    = 0x02
	BoardAngelia    = 0x04
	BoardOrion      = 0x05
	BoardHermesLite = 0x06
	BoardOrion2     = 0x07
	BoardSTEMlab    = 0x08
	BoardSTEMlabZ20 = 0x09
	BoardSaturn     = 0x0A
)

// HermesLiteVersionSplit is the major*10+minor threshold below which a
// HermesLite board-ID decodes as v1 and at or above which it decodes
// as v2 (spec.md §4.4): gateware 3.9 (39) is v1, 4.0 (40) and 7.3 (73)
// are v2.
const HermesLiteVersionSplit = 40

// Timeouts and retry budgets (spec.md §5, §9).
const (
	// CCReplyWindow is how long the C&C Transport waits for a reply.
	CCReplyWindow = 1 * time.Second

	// DiscoveryWindowLocal is the receive window for a local broadcast
	// UDP discovery pass.
	DiscoveryWindowLocal = 2 * time.Second
	// DiscoveryWindowRemote is the receive window used for remote
	// (routed) unicast probes.
	DiscoveryWindowRemote = 5 * time.Second
	// TCPConnectCeiling bounds a routed TCP discovery connect.
	TCPConnectCeiling = 3 * time.Second

	// DefaultVerifyRetries is the default read-verify-retry attempt
	// budget.
	DefaultVerifyRetries = 12
	// DefaultVerifyInterval is the default sleep between verify
	// attempts.
	DefaultVerifyInterval = 150 * time.Millisecond

	// DiscoveryRetryBurst is the send count of the platform
	// mitigation of spec.md §4.3 ("Edge: platform mitigation");
	// nothing in this module applies it by default, since a
	// Discoverer sends once unless WithProbeRetries raises the count.
	// DiscoveryRetryGap is the gap between repeated sends.
	DiscoveryRetryBurst = 3
	DiscoveryRetryGap   = 30 * time.Millisecond
)

// DiscoveryRecvBuffer is the SO_RCVBUF size requested on a discovery
// socket, matching hl2_eeprom_discovery.c's 256KiB receive buffer so a
// burst of replies within one receive window isn't dropped.
const DiscoveryRecvBuffer = 256 * 1024
