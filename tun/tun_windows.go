/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package tun

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wintun"
)

// ringCapacity is the shared ring buffer size Wintun allocates for a
// session; large enough to absorb a burst without the adapter
// blocking the writer.
const ringCapacity = 0x800000 // 8 MiB

// WintunTUN backs Device with a Wintun adapter/session pair. A lost
// session (the adapter was torn down and recreated under us, surfaced
// as ERROR_HANDLE_EOF) is transparently reopened rather than treated
// as fatal, since the adapter handle itself is still valid.
type WintunTUN struct {
	adapter    *wintun.Adapter
	sessionMu  sync.RWMutex
	session    wintun.Session
	name       string
	mtu        int
	events     chan Event
	closed     atomic.Bool
	reopenOnce sync.Mutex
}

func CreateTUN(name string, mtu int) (Device, error) {
	guid, err := windows.GenerateGUID()
	if err != nil {
		return nil, fmt.Errorf("generating adapter GUID: %w", err)
	}

	adapter, err := wintun.CreateAdapter(name, "Wiretun", &guid)
	if err != nil {
		return nil, fmt.Errorf("creating wintun adapter %s: %w", name, err)
	}

	session, err := adapter.StartSession(ringCapacity)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("starting wintun session: %w", err)
	}

	if mtu <= 0 {
		mtu = DefaultMTU
	}

	t := &WintunTUN{
		adapter: adapter,
		session: session,
		name:    name,
		mtu:     mtu,
		events:  make(chan Event, 8),
	}
	t.events <- EventUp
	return t, nil
}

// DefaultMTU is used when CreateTUN is asked for mtu <= 0; it matches
// the MTU WireGuard interfaces come up with by default on every
// platform.
const DefaultMTU = 1420

func (t *WintunTUN) reopenSession() error {
	t.reopenOnce.Lock()
	defer t.reopenOnce.Unlock()

	if t.closed.Load() {
		return errors.New("tun: device closed")
	}

	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	t.session.End()

	session, err := t.adapter.StartSession(ringCapacity)
	if err != nil {
		return err
	}
	t.session = session
	return nil
}

func (t *WintunTUN) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	count := 0
	for count < len(bufs) {
		if t.closed.Load() {
			if count > 0 {
				return count, nil
			}
			return 0, errors.New("tun: device closed")
		}

		t.sessionMu.RLock()
		sess := t.session
		t.sessionMu.RUnlock()

		packet, err := sess.ReceivePacket()
		if err == nil {
			n := copy(bufs[count][offset:], packet)
			sizes[count] = n
			sess.ReleaseReceivePacket(packet)
			count++
			continue
		}

		switch {
		case errors.Is(err, windows.ERROR_NO_MORE_ITEMS):
			if count > 0 {
				return count, nil
			}
			if ret, werr := windows.WaitForSingleObject(sess.ReadWaitEvent(), windows.INFINITE); ret == windows.WAIT_FAILED || werr != nil {
				return 0, fmt.Errorf("waiting on wintun session: %w", werr)
			}
		case errors.Is(err, windows.ERROR_HANDLE_EOF):
			if err := t.reopenSession(); err != nil {
				return count, err
			}
		default:
			return count, err
		}
	}
	return count, nil
}

func (t *WintunTUN) Write(bufs [][]byte, offset int) (int, error) {
	for i, b := range bufs {
		if t.closed.Load() {
			return i, errors.New("tun: device closed")
		}

		t.sessionMu.RLock()
		sess := t.session
		packet, err := sess.AllocateSendPacket(len(b) - offset)
		t.sessionMu.RUnlock()

		if err != nil {
			if errors.Is(err, windows.ERROR_HANDLE_EOF) {
				if err := t.reopenSession(); err != nil {
					return i, err
				}
				continue
			}
			return i, err
		}

		copy(packet, b[offset:])
		sess.SendPacket(packet)
	}
	return len(bufs), nil
}

func (t *WintunTUN) MTU() (int, error)     { return t.mtu, nil }
func (t *WintunTUN) Name() (string, error) { return t.name, nil }
func (t *WintunTUN) Events() <-chan Event  { return t.events }
func (t *WintunTUN) BatchSize() int        { return 1 }

func (t *WintunTUN) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.events)

	t.sessionMu.Lock()
	t.session.End()
	t.sessionMu.Unlock()

	return t.adapter.Close()
}
