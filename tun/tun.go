/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package tun implements the device side of the tunnel: reading and
// writing whole IP packets to whatever backs the interface (a kernel
// /dev/net/tun character device, a Windows Wintun adapter, or an
// in-memory channel for tests).
package tun

import "errors"

// Device is the interface the core reads outbound IP packets from
// and writes inbound ones to. Read/Write take a batch of buffers
// sharing one `offset`, so the core can hand over buffers that still
// have the transport header's room reserved in front of the packet
// without a copy.
type Device interface {
	// Read fills each of bufs[i][offset:] with one packet and
	// sizes[i] with its length, returning the number of packets read.
	Read(bufs [][]byte, sizes []int, offset int) (int, error)

	// Write writes each of bufs[i][offset:] as one packet.
	Write(bufs [][]byte, offset int) (int, error)

	// MTU returns the current interface MTU.
	MTU() (int, error)

	// Name returns the current interface name.
	Name() (string, error)

	// Events returns a channel of interface state change events.
	Events() <-chan Event

	// Close stops the device and releases its underlying resources.
	Close() error

	// BatchSize is the preferred number of packets per Read/Write call.
	BatchSize() int
}

type Event int

const (
	EventUp Event = iota
	EventDown
	EventMTUUpdate
)

// ErrTooManySegments is returned by Read when a coalesced (GSO) packet
// splits into more segments than the supplied bufs can hold.
var ErrTooManySegments = errors.New("tun: too many segments")
