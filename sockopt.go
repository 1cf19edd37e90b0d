package hpsdr

import (
	"net"

	"golang.org/x/sys/unix"
)

// setBroadcast enables SO_BROADCAST on a UDP socket. Go's net package
// has no portable API for this option, so the port reaches the raw
// file descriptor the same way BigBossBoolingB-VDATABPro's TAP device
// code drives ioctl on a raw fd: via SyscallConn, then a direct
// golang.org/x/sys/unix call.
func setBroadcast(c *net.UDPConn) error {
	return controlSockopt(c, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
}

// setReuseAddr enables SO_REUSEADDR on a UDP socket, as required for
// the C&C Transport's ephemeral bind (spec.md §4.5).
func setReuseAddr(c *net.UDPConn) error {
	return controlSockopt(c, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
}

// setRecvBuffer grows a discovery socket's receive buffer so a burst of
// replies from several interfaces/devices arriving inside one receive
// window isn't dropped by a too-small default. Best-effort: callers
// ignore its error the same way hl2_eeprom_discovery.c does.
func setRecvBuffer(c *net.UDPConn, bytes int) error {
	return controlSockopt(c, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
}

// controlSockopt runs fn against the raw file descriptor backing c.
func controlSockopt(c *net.UDPConn, fn func(fd int) error) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}

	var opErr error
	err = raw.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	})
	if err != nil {
		return err
	}
	return opErr
}
