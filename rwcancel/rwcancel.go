/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package rwcancel lets a blocking Read on a file descriptor be
// interrupted on demand, by racing it against an internal pipe inside
// an epoll-backed poller.
package rwcancel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type RWCancel struct {
	fd            int
	closingReader *os_File
	closingWriter *os_File
	epollFd       int
}

// os_File holds one end of the cancellation pipe as a raw file
// descriptor, managed with unix syscalls rather than through *os.File,
// keeping the pipe's fd ownership explicit.
type os_File struct{ fd int }

func NewRWCancel(fd int) (*RWCancel, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	r := &RWCancel{fd: fd, epollFd: epollFd}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epollFd)
		return nil, err
	}
	r.closingReader = &os_File{fd: pipeFds[0]}
	r.closingWriter = &os_File{fd: pipeFds[1]}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		r.Close()
		return nil, err
	}
	event = unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.closingReader.fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, r.closingReader.fd, &event); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// ReadyRead blocks until fd is readable or Cancel is called, in which
// case it returns unix.ECANCELED.
func (r *RWCancel) ReadyRead() error {
	events := make([]unix.EpollEvent, 2)
	for {
		n, err := unix.EpollWait(r.epollFd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if int(events[i].Fd) == r.closingReader.fd {
				return unix.ECANCELED
			}
		}
		return nil
	}
}

// Cancel unblocks any in-flight ReadyRead.
func (r *RWCancel) Cancel() error {
	var buf [1]byte
	_, err := unix.Write(r.closingWriter.fd, buf[:])
	return err
}

func (r *RWCancel) Close() error {
	if r.closingReader != nil {
		unix.Close(r.closingReader.fd)
	}
	if r.closingWriter != nil {
		unix.Close(r.closingWriter.fd)
	}
	if r.epollFd != 0 {
		return unix.Close(r.epollFd)
	}
	return fmt.Errorf("rwcancel: already closed")
}
