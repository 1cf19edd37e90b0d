package hpsdr

import (
	"net"
	"testing"
	"time"

	"github.com/deskhpsdr/hl2prov/internal/proto"
)

// fakeDoer is an in-memory ccDoer substitute for a real Transport: a
// 16-register EEPROM image addressable exactly as the real I2C proxy
// command encoding addresses it.
type fakeDoer struct {
	regs map[byte]byte

	// failReg, when set, makes ReadByte/WriteByte against that register
	// fail with ErrNoReply.
	failReg   byte
	failSet   bool
	// stuckReg, when set, ignores writes to that register (so
	// read-verify-retry against it always times out).
	stuckReg  byte
	stuckSet  bool

	rebootCalled bool
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{regs: make(map[byte]byte)}
}

func (f *fakeDoer) reg(c3 byte) byte {
	return c3 >> 4
}

func (f *fakeDoer) Do(addr byte, cmd [4]byte) (uint32, error) {
	if addr != proto.TargetEEPROMI2C {
		return 0, ErrNoReply
	}

	switch cmd[0] {
	case 0x07: // read
		reg := f.reg(cmd[2])
		if f.failSet && reg == f.failReg {
			return 0, ErrNoReply
		}
		return uint32(f.regs[reg]) << 8, nil

	case 0x06: // write
		reg := f.reg(cmd[2])
		if f.failSet && reg == f.failReg {
			return 0, ErrNoReply
		}
		if f.stuckSet && reg == f.stuckReg {
			return 0, ErrNoReply
		}
		f.regs[reg] = cmd[3]
		return 0, ErrNoReply // writes are posted, no meaningful reply

	default:
		return 0, ErrNoReply
	}
}

func (f *fakeDoer) Reboot() error {
	f.rebootCalled = true
	return nil
}

func newTestService(f *fakeDoer) *EEPROMService {
	return &EEPROMService{
		t:              f,
		verifyRetries:  3,
		verifyInterval: 1 * time.Millisecond,
	}
}

func TestEEPROMService_SetFixedIP(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	svc := newTestService(f)

	res, err := svc.SetFixedIP(net.IPv4(192, 168, 33, 77))
	if err != nil {
		t.Fatalf("SetFixedIP() error = %v", err)
	}

	if !res.IP.Equal(net.IPv4(192, 168, 33, 77)) {
		t.Fatalf("IP = %v, want 192.168.33.77", res.IP)
	}
	if res.Flags != proto.FlagUseStoredIP {
		t.Fatalf("Flags = 0x%02X, want 0x%02X", res.Flags, proto.FlagUseStoredIP)
	}
	if f.regs[proto.RegIPFirst] != 192 || f.regs[proto.RegIPFirst+1] != 168 ||
		f.regs[proto.RegIPFirst+2] != 33 || f.regs[proto.RegIPFirst+3] != 77 {
		t.Fatalf("stored registers = %v, want 192.168.33.77", f.regs)
	}
}

func TestEEPROMService_SetFixedIP_RejectsHostZeroAndBroadcast(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	svc := newTestService(f)

	for _, ip := range []net.IP{net.IPv4(10, 0, 0, 0), net.IPv4(10, 0, 0, 255)} {
		if _, err := svc.SetFixedIP(ip); !IsInvalidArgument(err) {
			t.Errorf("SetFixedIP(%v) error = %v, want invalid argument", ip, err)
		}
	}
	if len(f.regs) != 0 {
		t.Fatalf("regs = %v, want no frames issued", f.regs)
	}
}

func TestEEPROMService_ClearFixedIP(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	f.regs[proto.RegFlags] = proto.FlagUseStoredIP | proto.FlagFavorDHCP
	f.regs[proto.RegIPFirst] = 192
	f.regs[proto.RegIPFirst+1] = 168
	f.regs[proto.RegIPFirst+2] = 33
	f.regs[proto.RegIPFirst+3] = 77

	svc := newTestService(f)

	res, err := svc.ClearFixedIP()
	if err != nil {
		t.Fatalf("ClearFixedIP() error = %v", err)
	}
	if !res.IP.Equal(net.IPv4(0, 0, 0, 0)) {
		t.Fatalf("IP = %v, want 0.0.0.0", res.IP)
	}
	if res.Flags != 0 {
		t.Fatalf("Flags = 0x%02X, want 0x00", res.Flags)
	}
}

func TestEEPROMService_DHCPRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	f.regs[proto.RegFlags] = proto.FlagUseStoredIP // pre-existing unrelated bit

	svc := newTestService(f)

	if _, err := svc.SetDHCPPreferred(); err != nil {
		t.Fatalf("SetDHCPPreferred() error = %v", err)
	}
	if f.regs[proto.RegFlags] != proto.FlagUseStoredIP|proto.FlagFavorDHCP {
		t.Fatalf("flags after set = 0x%02X", f.regs[proto.RegFlags])
	}

	if _, err := svc.ClearDHCPPreferred(); err != nil {
		t.Fatalf("ClearDHCPPreferred() error = %v", err)
	}
	if f.regs[proto.RegFlags] != proto.FlagUseStoredIP {
		t.Fatalf("flags after clear = 0x%02X, want pre-operation value restored", f.regs[proto.RegFlags])
	}
}

func TestEEPROMService_VerifyTimeout(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	f.stuckSet = true
	f.stuckReg = proto.RegIPFirst + 2 // 0x0A

	svc := newTestService(f)

	_, err := svc.SetFixedIP(net.IPv4(192, 168, 33, 77))
	if !IsVerifyTimeout(err) {
		t.Fatalf("SetFixedIP() error = %v, want verify timeout", err)
	}

	herr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if herr.Register != int(proto.RegIPFirst+2) {
		t.Fatalf("Register = 0x%02X, want 0x%02X", herr.Register, proto.RegIPFirst+2)
	}
}

func TestEEPROMService_WriteError(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	f.failSet = true
	f.failReg = proto.RegFlags

	svc := newTestService(f)

	_, err := svc.SetFixedIP(net.IPv4(192, 168, 33, 77))
	if err == nil {
		t.Fatal("SetFixedIP() error = nil, want failure")
	}

	herr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if herr.Step != StepRead {
		t.Fatalf("Step = %v, want StepRead (flags read precedes the write)", herr.Step)
	}
}

func TestEEPROMService_Reboot(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	svc := newTestService(f)

	if err := svc.Reboot(); err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	if !f.rebootCalled {
		t.Fatal("Reboot() did not reach the transport")
	}
}

func TestReadVerifyRetry_AcceptAny(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	f.regs[0x00] = 0x42

	svc := newTestService(f)

	v, err := svc.ReadVerifyRetry(0x00, proto.AcceptAny)
	if err != nil {
		t.Fatalf("ReadVerifyRetry() error = %v", err)
	}
	if v != 0x42 {
		t.Fatalf("ReadVerifyRetry() = 0x%02X, want 0x42", v)
	}
}

// sanity-check the reg() decoding helper matches the real request
// encoding used by ReadByte/WriteByte.
func TestFakeDoer_RegDecoding(t *testing.T) {
	t.Parallel()

	f := newFakeDoer()
	var reg byte = 0x0A
	c3 := (reg << 4) | 0x0C
	if got := f.reg(c3); got != reg {
		t.Fatalf("reg(0x%02X) = 0x%02X, want 0x%02X", c3, got, reg)
	}
}
