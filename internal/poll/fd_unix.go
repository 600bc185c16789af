// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux || darwin

package poll

import (
	"io"
	"syscall"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// DupConn duplicates the descriptor behind a syscall.Conn and puts the
// duplicate into non-blocking mode. The original descriptor and its
// runtime-poller registration are left untouched; the caller owns the
// returned fd.
func DupConn(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	dup := -1
	var derr error
	if cerr := rc.Control(func(fd uintptr) {
		dup, derr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); cerr != nil {
		return -1, cerr
	}
	if derr != nil {
		return -1, derr
	}
	if err := unix.SetNonblock(dup, true); err != nil {
		unix.Close(dup)
		return -1, err
	}
	return dup, nil
}

// Read performs one non-blocking read. EAGAIN maps to iox.ErrWouldBlock and
// a zero-byte result on a non-empty buffer maps to io.EOF.
func Read(fd int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

// Write performs one non-blocking write. EAGAIN maps to iox.ErrWouldBlock.
func Write(fd int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		case err != nil:
			return 0, err
		default:
			return n, nil
		}
	}
}

// ShutdownRead half-closes the receive direction of a socket descriptor.
func ShutdownRead(fd int) error {
	err := unix.Shutdown(fd, unix.SHUT_RD)
	if err == unix.ENOTCONN {
		return nil
	}
	return err
}

// ShutdownWrite half-closes the send direction of a socket descriptor.
func ShutdownWrite(fd int) error {
	err := unix.Shutdown(fd, unix.SHUT_WR)
	if err == unix.ENOTCONN {
		return nil
	}
	return err
}

// Close releases a descriptor obtained from DupConn.
func Close(fd int) error {
	return unix.Close(fd)
}
