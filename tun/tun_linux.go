/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package tun

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	cloneDevicePath = "/dev/net/tun"
	ifReqSize       = unix.IFNAMSIZ + 64
)

// NativeTUN opens a Linux TUN character device via the standard
// TUNSETIFF ioctl dance, in IFF_TUN|IFF_NO_PI mode (no extra packet
// info header, matching what the core's Read/Write offsets assume).
type NativeTUN struct {
	fd     *os.File
	name   string
	mtu    int
	events chan Event
	closed sync.Once
}

func CreateTUN(name string, mtu int) (Device, error) {
	fd, err := unix.Open(cloneDevicePath, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	var ifr [ifReqSize]byte
	copy(ifr[:unix.IFNAMSIZ], name)
	// IFF_TUN | IFF_NO_PI
	*(*uint16)(unsafe.Pointer(&ifr[unix.IFNAMSIZ])) = unix.IFF_TUN | unix.IFF_NO_PI

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(unix.TUNSETIFF),
		uintptr(unsafe.Pointer(&ifr[0])),
	)
	if errno != 0 {
		unix.Close(fd)
		return nil, errno
	}

	actualName := unix.ByteSliceToString(ifr[:unix.IFNAMSIZ])

	t := &NativeTUN{
		fd:     os.NewFile(uintptr(fd), cloneDevicePath),
		name:   actualName,
		mtu:    mtu,
		events: make(chan Event, 8),
	}
	t.events <- EventUp
	return t, nil
}

func (t *NativeTUN) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	n, err := t.fd.Read(bufs[0][offset:])
	if err != nil {
		return 0, err
	}
	sizes[0] = n
	return 1, nil
}

func (t *NativeTUN) Write(bufs [][]byte, offset int) (int, error) {
	for i, b := range bufs {
		if _, err := t.fd.Write(b[offset:]); err != nil {
			return i, err
		}
	}
	return len(bufs), nil
}

func (t *NativeTUN) MTU() (int, error) { return t.mtu, nil }
func (t *NativeTUN) Name() (string, error) { return t.name, nil }
func (t *NativeTUN) Events() <-chan Event  { return t.events }
func (t *NativeTUN) BatchSize() int        { return 1 }

func (t *NativeTUN) Close() error {
	var err error
	t.closed.Do(func() {
		close(t.events)
		err = t.fd.Close()
	})
	return err
}
