//go:build linux

package ufo

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl numbers from linux/userfaultfd.h, computed the same way
// _IOWR/_IOR encode them: dir<<30 | size<<16 | type<<8 | nr, magic 0xAA.
const (
	_UFFDIO_API        = 0xc018aa3f // _IOWR(0xAA, 0x3F, struct uffdio_api)    size 24
	_UFFDIO_REGISTER   = 0xc020aa00 // _IOWR(0xAA, 0x00, struct uffdio_register) size 32
	_UFFDIO_UNREGISTER = 0x8010aa01 // _IOR (0xAA, 0x01, struct uffdio_range)  size 16
	_UFFDIO_COPY       = 0xc028aa03 // _IOWR(0xAA, 0x03, struct uffdio_copy)   size 40
)

const _UFFDIO_REGISTER_MODE_MISSING = 1

// UFFD event types from linux/userfaultfd.h.
const (
	_UFFD_EVENT_PAGEFAULT = 0x12
)

// uffdMsgSize is the size of struct uffd_msg (32 bytes on amd64). The
// pagefault address lives at byte offset 16 within it.
const uffdMsgSize = 32

// uffdioAPI matches struct uffdio_api (24 bytes).
type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64
}

var _ [24]byte = [unsafe.Sizeof(uffdioAPI{})]byte{}

// uffdioRange matches struct uffdio_range (16 bytes).
type uffdioRange struct {
	start uint64
	len   uint64
}

var _ [16]byte = [unsafe.Sizeof(uffdioRange{})]byte{}

// uffdioRegister matches struct uffdio_register (32 bytes).
type uffdioRegister struct {
	rng    uffdioRange
	mode   uint64
	ioctls uint64
}

var _ [32]byte = [unsafe.Sizeof(uffdioRegister{})]byte{}

// uffdioCopy matches struct uffdio_copy (40 bytes).
type uffdioCopy struct {
	dst  uint64
	src  uint64
	len  uint64
	mode uint64
	copy int64
}

var _ [40]byte = [unsafe.Sizeof(uffdioCopy{})]byte{}

type faultEventKind int

const (
	eventPagefault faultEventKind = iota
	eventClosed
	eventOther
)

type faultEvent struct {
	kind faultEventKind
	addr uint64
}

// faultChannel wraps a single userfaultfd(2) descriptor: the kernel
// facility that diverts page faults for registered ranges to userspace.
type faultChannel struct {
	fd int
}

// newFaultChannel creates a userfaultfd descriptor and completes the
// UFFDIO_API handshake the kernel requires before any other ioctl works.
func newFaultChannel() (*faultChannel, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("userfaultfd: %w", errno)
	}
	fc := &faultChannel{fd: int(fd)}

	api := uffdioAPI{api: 0xAA}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fc.fd), uintptr(_UFFDIO_API), uintptr(unsafe.Pointer(&api))); errno != 0 {
		unix.Close(fc.fd)
		return nil, fmt.Errorf("UFFDIO_API: %w", errno)
	}
	return fc, nil
}

// register registers [base, base+length) for missing-page faults.
func (fc *faultChannel) register(base uintptr, length int64) error {
	reg := uffdioRegister{
		rng:  uffdioRange{start: uint64(base), len: uint64(length)},
		mode: _UFFDIO_REGISTER_MODE_MISSING,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fc.fd), uintptr(_UFFDIO_REGISTER), uintptr(unsafe.Pointer(&reg))); errno != 0 {
		return fmt.Errorf("UFFDIO_REGISTER [%#x,%#x): %w", base, base+uintptr(length), errno)
	}
	return nil
}

// unregister stops fault delivery for [base, base+length).
func (fc *faultChannel) unregister(base uintptr, length int64) error {
	rng := uffdioRange{start: uint64(base), len: uint64(length)}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fc.fd), uintptr(_UFFDIO_UNREGISTER), uintptr(unsafe.Pointer(&rng))); errno != 0 {
		return fmt.Errorf("UFFDIO_UNREGISTER [%#x,%#x): %w", base, base+uintptr(length), errno)
	}
	return nil
}

// installPages atomically copies length bytes from src into [dst,
// dst+length) of a registered range and wakes any thread blocked on the
// fault. EEXIST (another racing fault already installed the same range)
// is treated as success, matching the documented "kernel serializes
// racing faulting threads" behavior.
func (fc *faultChannel) installPages(dst, src uintptr, length int64) error {
	cp := uffdioCopy{dst: uint64(dst), src: uint64(src), len: uint64(length)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fc.fd), uintptr(_UFFDIO_COPY), uintptr(unsafe.Pointer(&cp)))
	if errno != 0 && errno != unix.EEXIST {
		return fmt.Errorf("UFFDIO_COPY [%#x,%#x): %w", dst, dst+uintptr(length), errno)
	}
	return nil
}

// nextEvent blocks until a fault or channel-closed condition is observed.
func (fc *faultChannel) nextEvent() (faultEvent, error) {
	var buf [uffdMsgSize]byte
	for {
		fds := []unix.PollFd{{Fd: int32(fc.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return faultEvent{}, fmt.Errorf("poll fault channel: %w", err)
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(fc.fd, buf[:])
		if err != nil {
			switch err {
			case unix.EAGAIN, unix.EINTR:
				continue
			case unix.EBADF:
				return faultEvent{kind: eventClosed}, nil
			default:
				return faultEvent{}, fmt.Errorf("read fault channel: %w", err)
			}
		}
		if nr == 0 {
			return faultEvent{kind: eventClosed}, nil
		}

		switch buf[0] {
		case _UFFD_EVENT_PAGEFAULT:
			addr := *(*uint64)(unsafe.Pointer(&buf[16]))
			return faultEvent{kind: eventPagefault, addr: addr}, nil
		default:
			return faultEvent{kind: eventOther}, nil
		}
	}
}

func (fc *faultChannel) close() error {
	return unix.Close(fc.fd)
}
