package hpsdr

import (
	"fmt"
	"net"
	"time"

	"github.com/deskhpsdr/hl2prov/internal/proto"
)

// A ccDoer is the subset of *Transport the EEPROM Service depends on,
// so tests can substitute a fake responder without a real socket.
type ccDoer interface {
	Do(addr byte, cmd [4]byte) (uint32, error)
	Reboot() error
}

// An EEPROMService drives the HL2 read-modify-write-verify primitives
// of spec.md §4.6 over a Transport.
type EEPROMService struct {
	t ccDoer

	verifyRetries  int
	verifyInterval time.Duration
}

// NewEEPROMService returns an EEPROMService using t, with the
// spec.md-default verify retry budget (12 attempts, ~150ms apart).
func NewEEPROMService(t *Transport) *EEPROMService {
	return &EEPROMService{
		t:              t,
		verifyRetries:  proto.DefaultVerifyRetries,
		verifyInterval: proto.DefaultVerifyInterval,
	}
}

// WithVerifyBudget overrides the read-verify-retry attempt count and
// interval (spec.md §9, "Open question: retry count and spacing").
func (s *EEPROMService) WithVerifyBudget(retries int, interval time.Duration) *EEPROMService {
	if retries > 0 {
		s.verifyRetries = retries
	}
	if interval > 0 {
		s.verifyInterval = interval
	}
	return s
}

// ReadByte reads one EEPROM register through the I2C proxy (spec.md
// §4.6, "Read-one-byte").
func (s *EEPROMService) ReadByte(reg byte) (byte, error) {
	cmd := [4]byte{0x07, proto.I2CProxyAddr, (reg << 4) | 0x0C, 0x00}
	word, err := s.t.Do(proto.TargetEEPROMI2C, cmd)
	if err != nil {
		return 0, err
	}
	return byte((word >> 8) & 0xFF), nil
}

// WriteByte writes one EEPROM register through the I2C proxy (spec.md
// §4.6, "Write-one-byte"). The write is posted; no reply is expected
// or checked here, verification is the caller's job via
// ReadVerifyRetry.
func (s *EEPROMService) WriteByte(reg, value byte) error {
	cmd := [4]byte{0x06, proto.I2CProxyAddr, reg << 4, value}
	_, err := s.t.Do(proto.TargetEEPROMI2C, cmd)
	if err != nil && !IsNoReply(err) {
		return err
	}
	return nil
}

// ReadVerifyRetry reads reg repeatedly until it observes expected (or
// any successfully-read value, when expected is proto.AcceptAny), up
// to the configured verify-retry budget (spec.md §4.6,
// "Read-verify-retry").
func (s *EEPROMService) ReadVerifyRetry(reg, expected byte) (byte, error) {
	var last byte
	var lastErr error

	for attempt := 0; attempt < s.verifyRetries; attempt++ {
		v, err := s.ReadByte(reg)
		if err != nil {
			lastErr = err
		} else {
			last = v
			if expected == proto.AcceptAny || v == expected {
				return v, nil
			}
		}

		if attempt < s.verifyRetries-1 {
			time.Sleep(s.verifyInterval)
		}
	}

	if lastErr != nil {
		return 0, lastErr
	}
	return last, ErrVerifyTimeout
}

// SetFixedIP composes the set-fixed-IP operation: write registers
// 0x08..0x0B to ip's octets in ascending order (verifying each before
// the next is issued), then OR the FlagUseStoredIP bit into register
// 0x06 while preserving every other bit, then read back 0x08..0x0B
// with AcceptAny for reporting (spec.md §4.6, item 1).
//
// ip's last octet must not be 0 or 255 (spec.md §6, §8 "Boundary
// rejection"); SetFixedIP rejects such an ip before issuing any
// frames.
func (s *EEPROMService) SetFixedIP(ip net.IP) (*FixedIPResult, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: not an IPv4 address: %s", ErrInvalidArgument, ip)
	}
	if last := ip4[3]; last == 0 || last == 255 {
		return nil, fmt.Errorf("%w: host octet must not be 0 or 255: %s", ErrInvalidArgument, ip)
	}

	const op = "set-fixed-ip"

	regs := [4]byte{proto.RegIPFirst, proto.RegIPFirst + 1, proto.RegIPFirst + 2, proto.RegIPFirst + 3}
	for i, reg := range regs {
		if err := s.WriteByte(reg, ip4[i]); err != nil {
			return nil, wrapOp(op, StepWrite, int(reg), err)
		}
		if observed, err := s.ReadVerifyRetry(reg, ip4[i]); err != nil {
			return nil, wrapVerify(op, int(reg), err, observed, ip4[i])
		}
	}

	flags, err := s.ReadByte(proto.RegFlags)
	if err != nil {
		return nil, wrapOp(op, StepRead, proto.RegFlags, err)
	}
	newFlags := flags | proto.FlagUseStoredIP

	if err := s.WriteByte(proto.RegFlags, newFlags); err != nil {
		return nil, wrapOp(op, StepWrite, proto.RegFlags, err)
	}
	if observed, err := s.ReadVerifyRetry(proto.RegFlags, newFlags); err != nil {
		return nil, wrapVerify(op, proto.RegFlags, err, observed, newFlags)
	}

	stored, err := s.readBackIP()
	if err != nil {
		return nil, wrapOp(op, StepRead, -1, err)
	}

	return &FixedIPResult{IP: stored, Flags: newFlags}, nil
}

// ClearFixedIP composes the clear-fixed-IP operation: clear both
// FlagUseStoredIP and FlagFavorDHCP in register 0x06, then zero
// registers 0x08..0x0B with verification, then read back 0x08..0x0B
// with AcceptAny for reporting (spec.md §4.6, item 2).
func (s *EEPROMService) ClearFixedIP() (*FixedIPResult, error) {
	const op = "clear-fixed-ip"

	flags, err := s.ReadByte(proto.RegFlags)
	if err != nil {
		return nil, wrapOp(op, StepRead, proto.RegFlags, err)
	}
	newFlags := flags &^ (proto.FlagUseStoredIP | proto.FlagFavorDHCP)

	if err := s.WriteByte(proto.RegFlags, newFlags); err != nil {
		return nil, wrapOp(op, StepWrite, proto.RegFlags, err)
	}
	if observed, err := s.ReadVerifyRetry(proto.RegFlags, newFlags); err != nil {
		return nil, wrapVerify(op, proto.RegFlags, err, observed, newFlags)
	}

	regs := [4]byte{proto.RegIPFirst, proto.RegIPFirst + 1, proto.RegIPFirst + 2, proto.RegIPFirst + 3}
	for _, reg := range regs {
		if err := s.WriteByte(reg, 0); err != nil {
			return nil, wrapOp(op, StepWrite, int(reg), err)
		}
		if observed, err := s.ReadVerifyRetry(reg, 0); err != nil {
			return nil, wrapVerify(op, int(reg), err, observed, 0)
		}
	}

	stored, err := s.readBackIP()
	if err != nil {
		return nil, wrapOp(op, StepRead, -1, err)
	}

	return &FixedIPResult{IP: stored, Flags: newFlags}, nil
}

// SetDHCPPreferred sets the FlagFavorDHCP bit (spec.md §4.6, item 3).
func (s *EEPROMService) SetDHCPPreferred() (byte, error) {
	return s.setFlagBit("set-dhcp-first", proto.FlagFavorDHCP, true)
}

// ClearDHCPPreferred clears the FlagFavorDHCP bit (spec.md §4.6, item 4).
func (s *EEPROMService) ClearDHCPPreferred() (byte, error) {
	return s.setFlagBit("clear-dhcp-first", proto.FlagFavorDHCP, false)
}

// setFlagBit reads register 0x06, sets or clears bit, writes it back,
// and verifies, preserving every other bit.
func (s *EEPROMService) setFlagBit(op string, bit byte, set bool) (byte, error) {
	flags, err := s.ReadByte(proto.RegFlags)
	if err != nil {
		return 0, wrapOp(op, StepRead, proto.RegFlags, err)
	}

	var newFlags byte
	if set {
		newFlags = flags | bit
	} else {
		newFlags = flags &^ bit
	}

	if err := s.WriteByte(proto.RegFlags, newFlags); err != nil {
		return 0, wrapOp(op, StepWrite, proto.RegFlags, err)
	}
	if observed, err := s.ReadVerifyRetry(proto.RegFlags, newFlags); err != nil {
		return 0, wrapVerify(op, proto.RegFlags, err, observed, newFlags)
	}

	return newFlags, nil
}

// Reboot issues the remote reboot command, fire-and-forget (spec.md
// §4.6, item 5).
func (s *EEPROMService) Reboot() error {
	return s.t.Reboot()
}

// readBackIP reads registers 0x08..0x0B with AcceptAny, for reporting
// only (spec.md §4.6, "Finally, read-verify-retry ... with
// accept-any ... to log what is actually stored").
func (s *EEPROMService) readBackIP() (net.IP, error) {
	var octets [4]byte
	regs := [4]byte{proto.RegIPFirst, proto.RegIPFirst + 1, proto.RegIPFirst + 2, proto.RegIPFirst + 3}
	for i, reg := range regs {
		v, err := s.ReadVerifyRetry(reg, proto.AcceptAny)
		if err != nil {
			return nil, err
		}
		octets[i] = v
	}
	return net.IPv4(octets[0], octets[1], octets[2], octets[3]), nil
}

// A FixedIPResult summarizes the outcome of SetFixedIP/ClearFixedIP
// for the Operation Driver's human-readable line.
type FixedIPResult struct {
	IP    net.IP
	Flags byte
}

func wrapOp(op string, step Step, reg int, err error) error {
	if IsNoReply(err) {
		return noReplyErr(op, step, reg)
	}
	return &Error{Op: op, Step: step, Register: reg, Observed: -1, Expected: -1, Err: err}
}

func wrapVerify(op string, reg int, err error, observed, expected byte) error {
	if IsVerifyTimeout(err) {
		return verifyTimeoutErr(op, reg, int(observed), int(expected))
	}
	return wrapOp(op, StepRead, reg, err)
}
