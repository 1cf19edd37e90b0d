package hpsdr

import (
	"fmt"
	"net"
)

// A Family identifies the hardware family of a discovered device, as
// decoded from the board-ID byte of a discovery reply.
type Family int

// Possible Family values.
const (
	FamilyUnknown Family = iota
	FamilyMetis
	FamilyHermes
	FamilyGriffin
	FamilyAngelia
	FamilyOrion
	FamilyOrion2
	FamilyHermesLiteV1
	FamilyHermesLiteV2
	FamilySTEMlab
	FamilySTEMlabZ20
	FamilySaturn
)

// String returns the human-readable name of a Family.
func (f Family) String() string {
	switch f {
	case FamilyMetis:
		return "Metis"
	case FamilyHermes:
		return "Hermes"
	case FamilyGriffin:
		return "Griffin"
	case FamilyAngelia:
		return "Angelia"
	case FamilyOrion:
		return "Orion"
	case FamilyOrion2:
		return "Orion2"
	case FamilyHermesLiteV1:
		return "Hermes-Lite v1"
	case FamilyHermesLiteV2:
		return "Hermes-Lite v2"
	case FamilySTEMlab:
		return "STEMlab"
	case FamilySTEMlabZ20:
		return "STEMlab-Z20"
	case FamilySaturn:
		return "Saturn"
	default:
		return "Unknown"
	}
}

// frequencyRange returns the family-default min/max frequency, in Hz.
func (f Family) frequencyRange() (min, max int64) {
	switch f {
	case FamilyHermesLiteV1, FamilyHermesLiteV2:
		return 0, 38_400_000
	case FamilyUnknown:
		return 0, 61_440_000
	default:
		return 0, 61_440_000
	}
}

// A Status is the operational status of a discovered device.
type Status int

// Possible Status values.
const (
	StatusAvailable Status = iota
	StatusSending
	StatusIncompatible
)

// String returns the human-readable name of a Status.
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusSending:
		return "sending"
	case StatusIncompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// An Attachment describes how a discovery reply reached this process:
// the remote device's address, and the local interface it arrived on.
type Attachment struct {
	// RemoteAddr is the device's UDP endpoint (IP + discovery port).
	RemoteAddr net.UDPAddr

	// LocalIP and LocalNetmask are the local interface address and
	// netmask the reply arrived on.
	LocalIP      net.IP
	LocalNetmask net.IPMask

	// IfaceName is the name of the local interface the reply arrived
	// on, or empty for replies received over a routed transport.
	IfaceName string

	// UseTCP reports whether this device was discovered over (and
	// should be addressed over) the TCP transport.
	UseTCP bool

	// UseRouting reports whether this device was discovered by a
	// routed unicast probe rather than link-local broadcast.
	UseRouting bool
}

// EEPROM holds the HL2-only fields carried in a discovery reply.
type EEPROM struct {
	// Flags is the raw EEPROM flags byte (register 0x06).
	Flags byte
	// Reserved is the raw EEPROM reserved byte (register 0x07).
	Reserved byte
	// FixedIP is the stored fixed IP (registers 0x08..0x0B).
	FixedIP net.IP
	// MACLowBytes holds EEPROM registers 0x0C/0x0D when the device
	// reported FlagUseStoredMAC set; otherwise it is nil.
	MACLowBytes []byte
}

// UseStoredIP reports whether the device's flags select the stored
// fixed IP over DHCP (bit 0x80, unless favored-DHCP bit 0x20 is also
// set).
func (e EEPROM) UseStoredIP() bool {
	return e.Flags&flagUseStoredIP != 0 && e.Flags&flagFavorDHCP == 0
}

// FavorsDHCP reports whether bit 0x20 is set.
func (e EEPROM) FavorsDHCP() bool {
	return e.Flags&flagFavorDHCP != 0
}

const (
	flagUseStoredIP  = 0x80
	flagUseStoredMAC = 0x40
	flagFavorDHCP    = 0x20
)

// A Device is one discovered HPSDR-family responder.
//
// Device has value semantics: it holds no pointers into any other
// Device, so a Device may be copied freely.
type Device struct {
	// MAC is the six-byte hardware address, the identity key used for
	// deduplication within a discovery session.
	MAC net.HardwareAddr

	// Family is the decoded device family.
	Family Family

	// Name is a human-readable name derived from Family.
	Name string

	// SoftwareVersion is the firmware/gateware version. For HL2 it is
	// major*10+minor (e.g. gateware 7.3 -> 73); for other families it
	// is the raw major-version byte.
	SoftwareVersion int

	// FreqMin and FreqMax are the family-default frequency range, Hz.
	FreqMin, FreqMax int64

	// Status is the device's reported operational status.
	Status Status

	// Net is the network attachment this reply was received over.
	Net Attachment

	// Receivers is the number of receivers the device supports.
	Receivers int
	// TCPCapable reports whether the device may be addressed over TCP.
	TCPCapable bool

	// EE holds the HL2-only EEPROM fields. It is the zero value for
	// non-HL2 families.
	EE EEPROM
}

// IsHermesLite2 reports whether d is a Hermes-Lite 2.
func (d Device) IsHermesLite2() bool {
	return d.Family == FamilyHermesLiteV2
}

// String returns a one-line human-readable summary of d, suitable for
// the Operation Driver's --list output.
func (d Device) String() string {
	addr := d.Net.RemoteAddr.IP.String()
	return fmt.Sprintf("%-16s mac=%-17s fw=%d status=%-12s addr=%s if=%s",
		d.Name, d.MAC, d.SoftwareVersion, d.Status, addr, d.Net.IfaceName)
}

// newFamilyRange sets FreqMin/FreqMax on d from its Family.
func (d *Device) newFamilyRange() {
	d.FreqMin, d.FreqMax = d.Family.frequencyRange()
}
