/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"errors"
	"net"
	"net/netip"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// StdNetBind is the default, portable Bind implementation: a pair of
// net.UDPConn sockets (one per address family), read with plain
// ReadFromUDPAddrPort in a loop rather than a batched syscall. It has
// none of Linux's recvmmsg/GSO fast paths; it exists so the core runs
// everywhere net.ListenUDP does.
type StdNetBind struct {
	mu   sync.Mutex
	ipv4 *net.UDPConn
	ipv6 *net.UDPConn
}

func NewStdNetBind() Bind {
	return &StdNetBind{}
}

type StdNetEndpoint struct {
	addr netip.AddrPort
	src  netip.Addr
}

var (
	_ Bind     = (*StdNetBind)(nil)
	_ Endpoint = (*StdNetEndpoint)(nil)
)

func (e *StdNetEndpoint) ClearSrc()           { e.src = netip.Addr{} }
func (e *StdNetEndpoint) DstToString() string { return e.addr.String() }
func (e *StdNetEndpoint) DstToBytes() []byte  { b, _ := e.addr.MarshalBinary(); return b }
func (e *StdNetEndpoint) DstIP() netip.Addr   { return e.addr.Addr() }
func (e *StdNetEndpoint) SrcIP() netip.Addr   { return e.src }

func (e *StdNetEndpoint) SrcToString() string {
	if !e.src.IsValid() {
		return ""
	}
	return e.src.String()
}

func (s *StdNetBind) Open(port uint16) ([]ReceiveFunc, uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ipv4 != nil || s.ipv6 != nil {
		return nil, 0, ErrBindAlreadyOpen
	}

	var fns []ReceiveFunc

	v4, actualPort, err := listenUDP("udp4", port)
	if err == nil {
		s.ipv4 = v4
		fns = append(fns, s.makeReceiveFunc(v4))
		port = actualPort
	}

	v6, actualPort, err6 := listenUDP("udp6", port)
	if err6 == nil {
		s.ipv6 = v6
		fns = append(fns, s.makeReceiveFunc(v6))
		port = actualPort
	}

	if len(fns) == 0 {
		if err != nil {
			return nil, 0, err
		}
		return nil, 0, err6
	}

	return fns, port, nil
}

func listenUDP(network string, port uint16) (*net.UDPConn, uint16, error) {
	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, 0, err
	}
	laddr := conn.LocalAddr().(*net.UDPAddr)
	return conn, uint16(laddr.Port), nil
}

func (s *StdNetBind) makeReceiveFunc(conn *net.UDPConn) ReceiveFunc {
	return func(bufs [][]byte, sizes []int, endpoints []Endpoint) (int, error) {
		n, addrPort, err := conn.ReadFromUDPAddrPort(bufs[0])
		if err != nil {
			return 0, err
		}
		sizes[0] = n
		endpoints[0] = &StdNetEndpoint{addr: addrPort}
		return 1, nil
	}
}

func (s *StdNetBind) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err1, err2 error
	if s.ipv4 != nil {
		err1 = s.ipv4.Close()
		s.ipv4 = nil
	}
	if s.ipv6 != nil {
		err2 = s.ipv6.Close()
		s.ipv6 = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *StdNetBind) SetMark(mark uint32) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, c := range []*net.UDPConn{s.ipv4, s.ipv6} {
		if c == nil {
			continue
		}
		rc, err := c.SyscallConn()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		err = rc.Control(func(fd uintptr) {
			err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *StdNetBind) Send(bufs [][]byte, endpoint Endpoint) error {
	ep, ok := endpoint.(*StdNetEndpoint)
	if !ok {
		return errors.New("conn: invalid endpoint type for StdNetBind")
	}

	s.mu.Lock()
	v4, v6 := s.ipv4, s.ipv6
	s.mu.Unlock()

	conn := v4
	if ep.addr.Addr().Is6() && !ep.addr.Addr().Is4In6() {
		conn = v6
	}
	if conn == nil {
		return errors.New("conn: bind is not open for this address family")
	}

	var firstErr error
	for _, b := range bufs {
		_, err := conn.WriteToUDPAddrPort(b, ep.addr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *StdNetBind) ParseEndpoint(str string) (Endpoint, error) {
	addrPort, err := netip.ParseAddrPort(str)
	if err != nil {
		host, port, splitErr := net.SplitHostPort(str)
		if splitErr != nil {
			return nil, err
		}
		ips, lookupErr := net.LookupHost(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil, err
		}
		addrPort, err = netip.ParseAddrPort(net.JoinHostPort(ips[0], port))
		if err != nil {
			return nil, err
		}
	}
	return &StdNetEndpoint{addr: addrPort}, nil
}

func (s *StdNetBind) BatchSize() int {
	return 1
}
