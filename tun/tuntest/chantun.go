/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package tuntest provides an in-process tun.Device backed by Go
// channels, for driving the core's packet pipeline in tests without
// a real network interface.
package tuntest

import (
	"errors"

	"github.com/wiretun-dev/wiretun/tun"
)

type ChannelTUN struct {
	Inbound  chan []byte // packets the test injects, as if arriving from the OS
	Outbound chan []byte // packets the core wrote, as if headed to the OS
	events   chan tun.Event
	mtu      int
}

func NewChannelTUN() *ChannelTUN {
	c := &ChannelTUN{
		Inbound:  make(chan []byte, 64),
		Outbound: make(chan []byte, 64),
		events:   make(chan tun.Event, 4),
		mtu:      1420,
	}
	c.events <- tun.EventUp
	return c
}

func (t *ChannelTUN) Device() tun.Device { return (*channelDevice)(t) }

type channelDevice ChannelTUN

func (t *channelDevice) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	packet, ok := <-t.Inbound
	if !ok {
		return 0, errors.New("tuntest: device closed")
	}
	n := copy(bufs[0][offset:], packet)
	sizes[0] = n
	return 1, nil
}

func (t *channelDevice) Write(bufs [][]byte, offset int) (int, error) {
	for _, b := range bufs {
		cp := make([]byte, len(b)-offset)
		copy(cp, b[offset:])
		t.Outbound <- cp
	}
	return len(bufs), nil
}

func (t *channelDevice) MTU() (int, error)     { return t.mtu, nil }
func (t *channelDevice) Name() (string, error) { return "tuntest0", nil }
func (t *channelDevice) Events() <-chan tun.Event { return t.events }
func (t *channelDevice) BatchSize() int           { return 1 }

func (t *channelDevice) Close() error {
	close(t.events)
	close(t.Inbound)
	return nil
}
