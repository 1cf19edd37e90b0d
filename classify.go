package hpsdr

import (
	"net"

	"github.com/deskhpsdr/hl2prov/internal/proto"
)

// classify maps a parsed discovery reply, plus the network context it
// arrived over, into a Device (spec.md §4.4).
func classify(r *discoveryReply, remote *net.UDPAddr, att Attachment) Device {
	d := Device{
		MAC:       r.mac,
		Net:       att,
		Receivers: 1,
	}
	d.Net.RemoteAddr = *remote

	switch r.status {
	case proto.ReplyStatusSending:
		d.Status = StatusSending
	default:
		d.Status = StatusAvailable
	}

	d.Family, d.SoftwareVersion = classifyFamily(r)
	d.Name = d.Family.String()
	d.newFamilyRange()

	switch d.Family {
	case FamilyHermesLiteV1, FamilyHermesLiteV2:
		d.Receivers = 2
		d.TCPCapable = true
	case FamilyOrion, FamilyOrion2, FamilySaturn:
		d.Receivers = 4
		d.TCPCapable = true
	}

	if r.hasEE && d.IsHermesLite2() {
		d.EE = EEPROM{
			Flags:    r.eeFlags,
			Reserved: r.eeRsvd,
			FixedIP:  r.fixedIP,
		}
		if r.macLow != nil {
			d.EE.MACLowBytes = append([]byte(nil), r.macLow...)
		}
	}

	return d
}

// classifyFamily decodes the board-ID byte (and, for the HermesLite
// board-ID, the firmware major/minor bytes) into a Family and
// software version, per the HL2 disambiguation rule of spec.md §4.4.
func classifyFamily(r *discoveryReply) (Family, int) {
	switch r.boardID {
	case proto.BoardMetis:
		return FamilyMetis, int(r.fwMajor)
	case proto.BoardHermes:
		return FamilyHermes, int(r.fwMajor)
	case proto.BoardGriffin:
		return FamilyGriffin, int(r.fwMajor)
	case proto.BoardAngelia:
		return FamilyAngelia, int(r.fwMajor)
	case proto.BoardOrion:
		return FamilyOrion, int(r.fwMajor)
	case proto.BoardOrion2:
		return FamilyOrion2, int(r.fwMajor)
	case proto.BoardSTEMlab:
		return FamilySTEMlab, int(r.fwMajor)
	case proto.BoardSTEMlabZ20:
		return FamilySTEMlabZ20, int(r.fwMajor)
	case proto.BoardSaturn:
		return FamilySaturn, int(r.fwMajor)
	case proto.BoardHermesLite:
		version := int(r.fwMajor)*10 + int(r.fwMinor)
		if version < proto.HermesLiteVersionSplit {
			return FamilyHermesLiteV1, version
		}
		return FamilyHermesLiteV2, version
	default:
		return FamilyUnknown, int(r.fwMajor)
	}
}
