//go:build unix

// Package socket wraps the raw IPv4 stream-socket syscalls used by the
// tcp package.  Every descriptor it hands out is non-blocking and
// close-on-exec.
//
// Would-block conditions are returned as the bare errno so that hot
// poll loops do not allocate; every other failure is wrapped in an
// *errors.NetworkError naming the operation.
package socket

import (
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"gotcp/internal/errors"
	"gotcp/util"
)

// Readiness events for [Wait].
const (
	Readable = unix.POLLIN
	Writable = unix.POLLOUT
)

// Invalid is the descriptor value of a closed socket.
const Invalid = -1

func open() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return Invalid, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return Invalid, err
	}
	return fd, nil
}

// Listen opens a listening socket bound to addr:port with address
// reuse enabled.
func Listen(addr [4]byte, port, backlog int) (int, error) {
	where := util.FormatAddr(util.FormatIPv4(addr), port)

	fd, err := open()
	if err != nil {
		return Invalid, errors.Wrap("socket", where, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return Invalid, errors.Wrap("setsockopt", where, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return Invalid, errors.Wrap("bind", where, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return Invalid, errors.Wrap("listen", where, err)
	}
	return fd, nil
}

// Accept takes one pending connection off a listening socket.  The new
// descriptor is non-blocking.  remote is the peer's dotted-decimal
// address.
func Accept(lfd int) (fd int, remote string, err error) {
	nfd, sa, err := unix.Accept(lfd)
	for err == unix.EINTR {
		nfd, sa, err = unix.Accept(lfd)
	}
	if err != nil {
		if errors.IsWouldBlock(err) {
			return Invalid, "", err
		}
		return Invalid, "", errors.Wrap("accept", "fd "+strconv.Itoa(lfd), err)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return Invalid, "", errors.Wrap("accept", "fd "+strconv.Itoa(lfd), err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		remote = util.FormatIPv4(in4.Addr)
	}
	return nfd, remote, nil
}

// Connect starts a non-blocking connect to addr:port.  A connect that
// is still in progress is reported as success; completion shows up
// later as readiness (or an error) on the descriptor.
func Connect(addr [4]byte, port int) (int, error) {
	where := util.FormatAddr(util.FormatIPv4(addr), port)

	fd, err := open()
	if err != nil {
		return Invalid, errors.Wrap("socket", where, err)
	}
	err = unix.Connect(fd, &unix.SockaddrInet4{Port: port, Addr: addr})
	if err != nil && err != unix.EINPROGRESS && err != unix.EINTR {
		unix.Close(fd)
		return Invalid, errors.Wrap("connect", where, err)
	}
	return fd, nil
}

// Read is a single non-blocking read.  (0, nil) means the peer closed
// its write side.
func Read(fd int, p []byte) (int, error) {
	return restart(func() (int, error) { return unix.Read(fd, p) })
}

// Write is a single non-blocking write.
func Write(fd int, p []byte) (int, error) {
	return restart(func() (int, error) { return unix.Write(fd, p) })
}

// Peek looks at pending data without consuming it.
func Peek(fd int, p []byte) (int, error) {
	return restart(func() (int, error) {
		n, _, err := unix.Recvfrom(fd, p, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return n, err
	})
}

// restart repeats a syscall interrupted by a signal and clamps the
// -1 byte count of a failed call to 0.
func restart(call func() (int, error)) (int, error) {
	for {
		n, err := call()
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Wait blocks until fd reports one of events or d elapses.  It reports
// whether the descriptor became ready; hang-up and error conditions
// count as ready so the caller's next syscall can observe them.
func Wait(fd int, events int16, d time.Duration) (bool, error) {
	ms := int(d / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents != 0, nil
	}
}

// LocalAddr returns the address the socket is bound to.
func LocalAddr(fd int) (addr [4]byte, port int, err error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return addr, 0, errors.Wrap("getsockname", "fd "+strconv.Itoa(fd), err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return addr, 0, errors.Wrap("getsockname", "fd "+strconv.Itoa(fd), errors.ErrNotIPv4)
	}
	return in4.Addr, in4.Port, nil
}

// ShutdownWrite half-closes the socket.
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// Close releases the descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}
