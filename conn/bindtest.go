/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"errors"
	"net"
	"net/netip"
)

// ChannelBind is an in-memory Bind for tests: two ChannelBinds wired
// to each other's inbound channel let a handshake and transport test
// run the real packet pipeline without touching a socket.
type ChannelBind struct {
	inbound  chan []byte
	closed   chan struct{} // closed by Close; replaced by each Open
	other    *ChannelBind
	peerAddr netip.AddrPort
	selfAddr netip.AddrPort
}

type ChannelEndpoint netip.AddrPort

func (e ChannelEndpoint) ClearSrc()           {}
func (e ChannelEndpoint) SrcToString() string { return "" }
func (e ChannelEndpoint) DstToString() string { return netip.AddrPort(e).String() }
func (e ChannelEndpoint) DstToBytes() []byte  { b, _ := netip.AddrPort(e).MarshalBinary(); return b }
func (e ChannelEndpoint) DstIP() netip.Addr   { return netip.AddrPort(e).Addr() }
func (e ChannelEndpoint) SrcIP() netip.Addr   { return netip.Addr{} }

// NewChannelBindPair returns two Binds, each other's sole peer,
// addressed a.selfAddr/b.selfAddr.
func NewChannelBindPair(aAddr, bAddr netip.AddrPort) (Bind, Bind) {
	a := &ChannelBind{inbound: make(chan []byte, 128), selfAddr: aAddr, peerAddr: bAddr}
	b := &ChannelBind{inbound: make(chan []byte, 128), selfAddr: bAddr, peerAddr: aAddr}
	a.other = b
	b.other = a
	return a, b
}

func (c *ChannelBind) Open(port uint16) ([]ReceiveFunc, uint16, error) {
	closed := make(chan struct{})
	c.closed = closed
	recv := func(bufs [][]byte, sizes []int, endpoints []Endpoint) (int, error) {
		var b []byte
		select {
		case b = <-c.inbound:
		case <-closed:
			return 0, net.ErrClosed
		}
		n := copy(bufs[0], b)
		sizes[0] = n
		endpoints[0] = ChannelEndpoint(c.peerAddr)
		return 1, nil
	}
	return []ReceiveFunc{recv}, uint16(c.selfAddr.Port()), nil
}

func (c *ChannelBind) Close() error {
	if c.closed != nil {
		select {
		case <-c.closed:
		default:
			close(c.closed)
		}
	}
	return nil
}

func (c *ChannelBind) SetMark(mark uint32) error { return nil }

func (c *ChannelBind) Send(bufs [][]byte, endpoint Endpoint) error {
	if c.other == nil {
		return errors.New("conn: channel bind has no peer")
	}
	for _, b := range bufs {
		cp := make([]byte, len(b))
		copy(cp, b)
		select {
		case c.other.inbound <- cp:
		default:
			return errors.New("conn: channel bind peer queue full")
		}
	}
	return nil
}

func (c *ChannelBind) ParseEndpoint(s string) (Endpoint, error) {
	addr, err := netip.ParseAddrPort(s)
	if err != nil {
		return nil, err
	}
	return ChannelEndpoint(addr), nil
}

func (c *ChannelBind) BatchSize() int { return 1 }
