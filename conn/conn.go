/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package conn implements WireGuard's UDP transport. The core treats
// the network as a Bind: something that can open one or two sockets
// (IPv4/IPv6), batch-receive datagrams into caller-supplied buffers,
// and send to an Endpoint - an opaque, roamable remote address.
package conn

import (
	"errors"
	"net/netip"
)

// ReceiveFunc receives a batch of datagrams, filling bufs[i][:sizes[i]]
// and endpoints[i] for each of the n received packets. A single Bind
// can have two receive functions in flight (one per address family).
type ReceiveFunc func(bufs [][]byte, sizes []int, endpoints []Endpoint) (n int, err error)

// Bind is the interface used by the core to send and receive
// encrypted packets, abstracting over platform-specific socket
// details, kernel batching syscalls (recvmmsg/sendmmsg, GSO), and
// fixed vs. roaming source addresses.
type Bind interface {
	// Open puts the Bind into a listening state on the given port and
	// returns one ReceiveFunc per address family it bound, along with
	// the actual port number (useful when port is 0).
	Open(port uint16) ([]ReceiveFunc, uint16, error)

	// Close closes the Bind's sockets, unblocking any in-flight
	// ReceiveFunc calls.
	Close() error

	// SetMark sets the socket mark (SO_MARK on Linux) used to tag
	// outbound packets, e.g. to route them around a policy-routed
	// tunnel interface.
	SetMark(mark uint32) error

	// Send writes buffers as independent datagrams to the given
	// Endpoint.
	Send(bufs [][]byte, endpoint Endpoint) error

	// ParseEndpoint parses a "host:port" string (or platform-specific
	// variant) produced by Endpoint.DstToString into an Endpoint this
	// Bind can Send to.
	ParseEndpoint(s string) (Endpoint, error)

	// BatchSize is the number of packets the core should try to
	// batch per Send/ReceiveFunc call for this Bind.
	BatchSize() int
}

// Endpoint maintains the source/destination caching needed for
// sticky routing: once a peer's source address is learned from an
// incoming packet, replies reuse it until roaming clears it.
type Endpoint interface {
	ClearSrc()           // clears the cached source address, so the next Send picks a fresh one
	SrcToString() string // the cached local source address, or "" if unknown
	DstToString() string // the remote address, suitable for a config file and ParseEndpoint
	DstToBytes() []byte  // a comparable/hashable encoding of the remote address
	DstIP() netip.Addr
	SrcIP() netip.Addr
}

var ErrBindAlreadyOpen = errors.New("bind is already open")

// ErrUDPGSODisabled is returned (wrapping the syscall error that
// triggered it) the first time a batched send fails because the
// kernel or NIC doesn't support UDP GSO; the Bind that returns it has
// already disabled GSO for itself and the caller should retry.
type ErrUDPGSODisabled struct {
	onLaddr string
	RetryErr error
}

func (e ErrUDPGSODisabled) Error() string {
	return "disabled UDP GSO for " + e.onLaddr + ": " + e.RetryErr.Error()
}

func (e ErrUDPGSODisabled) Unwrap() error {
	return e.RetryErr
}
