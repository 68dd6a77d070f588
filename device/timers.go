/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

// This file replaces upstream wireguard-go's per-peer, per-timer
// time.AfterFunc model with a single device-wide min-heap dispatcher.
// Upstream starts one runtime timer goroutine for every (peer, timer
// kind) pair; at MaxPeers that is five goroutines and five runtime
// timers per peer, parked almost all of the time. Here there is one
// heap and one goroutine per device: scheduling a timer pushes a
// (deadline, peer, kind) entry onto the heap, and the dispatcher
// goroutine only ever wakes for the single nearest deadline. A firing
// entry is never executed on the dispatcher goroutine itself - it is
// handed to the owning peer's own timer-event goroutine, so the
// dispatcher can never block on, or be blocked by, one particular
// peer's handler, and each peer's timer state is still only ever
// touched by that one goroutine (single-writer discipline, matching
// how peer.handshake and peer.keypairs are otherwise guarded).

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"
)

type timerEventKind uint8

const (
	timerEventRetransmitHandshake timerEventKind = iota
	timerEventSendKeepalive
	timerEventNewHandshake
	timerEventZeroKeyMaterial
	timerEventPersistentKeepalive
	timerEventKindCount
)

// MaxTimerHandshakes bounds how many times SendHandshakeInitiation is
// retried before the peer is considered unreachable and handshake
// attempts pause until new data is queued for it.
const MaxTimerHandshakes = int(RekeyAttemptTime/RekeyTimeout) - 1

type timerEntry struct {
	deadline time.Time
	peer     *Peer
	kind     timerEventKind
	epoch    uint64
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerDispatcher is the device-wide scheduler. Every Peer of a
// Device schedules and cancels its timer events through the one
// dispatcher the Device owns.
type timerDispatcher struct {
	mu      sync.Mutex
	entries timerHeap
	wake    *time.Timer
	stop    chan struct{}
	running sync.WaitGroup
}

func newTimerDispatcher() *timerDispatcher {
	wake := time.NewTimer(time.Hour)
	wake.Stop()
	return &timerDispatcher{
		wake: wake,
		stop: make(chan struct{}),
	}
}

func (d *timerDispatcher) Start() {
	d.running.Add(1)
	go d.run()
}

func (d *timerDispatcher) Stop() {
	close(d.stop)
	d.running.Wait()
}

func (d *timerDispatcher) run() {
	defer d.running.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake.C:
			d.dispatchDue()
		}
	}
}

// dispatchDue pops every entry whose deadline has passed, delivering
// each to its peer unless the peer has since rescheduled or canceled
// it (detected via the epoch counter, so cancellation never needs to
// search the heap). It rearms the wake timer for the new nearest
// deadline before returning.
func (d *timerDispatcher) dispatchDue() {
	now := time.Now()
	for {
		d.mu.Lock()
		if len(d.entries) == 0 {
			d.mu.Unlock()
			return
		}
		next := d.entries[0]
		if next.deadline.After(now) {
			d.rearmLocked(next.deadline.Sub(now))
			d.mu.Unlock()
			return
		}
		heap.Pop(&d.entries)
		d.mu.Unlock()

		if next.peer.timers.epochs[next.kind].Load() == next.epoch {
			next.peer.deliverTimerEvent(next.kind)
		}
	}
}

// rearmLocked must be called with d.mu held.
func (d *timerDispatcher) rearmLocked(delay time.Duration) {
	if !d.wake.Stop() {
		select {
		case <-d.wake.C:
		default:
		}
	}
	d.wake.Reset(delay)
}

// schedule arms (or re-arms) a peer's timer for kind, discarding any
// previously scheduled entry for that kind by bumping its epoch.
func (d *timerDispatcher) schedule(peer *Peer, kind timerEventKind, delay time.Duration) {
	epoch := peer.timers.epochs[kind].Add(1)
	e := &timerEntry{deadline: time.Now().Add(delay), peer: peer, kind: kind, epoch: epoch}

	d.mu.Lock()
	heap.Push(&d.entries, e)
	if d.entries[0] == e {
		d.rearmLocked(delay)
	}
	d.mu.Unlock()
}

// cancel invalidates any entry outstanding for (peer, kind). The
// heap entry, if any, is reaped lazily the next time it is popped.
func (d *timerDispatcher) cancel(peer *Peer, kind timerEventKind) {
	peer.timers.epochs[kind].Add(1)
}

func (peer *Peer) deliverTimerEvent(kind timerEventKind) {
	select {
	case peer.timers.events <- kind:
	default:
		// The peer's event worker is backed up (or not running);
		// dropping here is safe because every timer that matters is
		// re-armed on the next qualifying packet anyway.
	}
}

func (peer *Peer) timersInit() {
	peer.timers.events = make(chan timerEventKind, timerEventQueueSize)
}

const timerEventQueueSize = 16

// RoutineTimerEvents drains timer events delivered by the device's
// dispatcher for this peer, running their handlers serially so peer
// timer state is never touched from two goroutines at once.
func (peer *Peer) RoutineTimerEvents(stop <-chan struct{}) {
	defer peer.stopping.Done()
	for {
		select {
		case <-stop:
			return
		case kind := <-peer.timers.events:
			switch kind {
			case timerEventRetransmitHandshake:
				peer.expiredRetransmitHandshake()
			case timerEventSendKeepalive:
				peer.expiredSendKeepalive()
			case timerEventNewHandshake:
				peer.expiredNewHandshake()
			case timerEventZeroKeyMaterial:
				peer.expiredZeroKeyMaterial()
			case timerEventPersistentKeepalive:
				peer.expiredPersistentKeepalive()
			}
		}
	}
}

func (peer *Peer) expiredRetransmitHandshake() {
	if peer.timers.handshakeAttempts.Load() > MaxTimerHandshakes {
		peer.device.log.Verbosef("%v - Handshake did not complete after %d attempts, giving up", peer, MaxTimerHandshakes+2)

		peer.device.timers.cancel(peer, timerEventSendKeepalive)

		// Clear the source address so that the next handshake attempt
		// (triggered by new outbound traffic) tries a fresh route
		// rather than one that has gone stale.
		if !peer.isRoamingDisabled() {
			peer.markEndpointSrcForClearing()
		}

		peer.FlushStagedPackets()
		return
	}

	peer.timers.handshakeAttempts.Add(1)
	peer.device.log.Verbosef("%v - Handshake did not complete after %d seconds, retrying (try %d)", peer, int(RekeyTimeout.Seconds()), peer.timers.handshakeAttempts.Load()+1)

	peer.ExpireCurrentKeypairs()

	if err := peer.SendHandshakeInitiation(true); err != nil {
		peer.device.log.Errorf("%v - Failed to retransmit handshake initiation: %v", peer, err)
	}
}

func (peer *Peer) expiredSendKeepalive() {
	peer.SendKeepalive()
	if peer.timers.needAnotherKeepalive.Load() {
		peer.timers.needAnotherKeepalive.Store(false)
		peer.device.timers.schedule(peer, timerEventSendKeepalive, KeepaliveTimeout)
	}
}

func (peer *Peer) expiredNewHandshake() {
	peer.device.log.Verbosef("%v - Retrying handshake because we stopped hearing back after %d seconds", peer, int((KeepaliveTimeout + RekeyTimeout).Seconds()))
	peer.markEndpointSrcForClearing()
	if err := peer.SendHandshakeInitiation(false); err != nil {
		peer.device.log.Errorf("%v - Failed to send handshake initiation: %v", peer, err)
	}
}

func (peer *Peer) expiredZeroKeyMaterial() {
	peer.device.log.Verbosef("%v - Removing all keys, since we haven't received a new one in %d seconds", peer, int(RejectAfterTime.Seconds()*3))
	peer.ZeroAndFlushAll()
}

func (peer *Peer) expiredPersistentKeepalive() {
	if peer.persistentKeepaliveInterval.Load() == 0 {
		return
	}
	peer.SendKeepalive()
}

// timersActive reports whether peer timers should be running at all:
// the peer must be running, have a configured endpoint, and belong
// to an up device.
func (peer *Peer) timersActive() bool {
	return peer.isRunning.Load() && peer.device != nil && peer.device.isUp() && peer.endpointConfigured()
}

func (peer *Peer) timersHandshakeInitiated() {
	peer.device.timers.schedule(peer, timerEventRetransmitHandshake, RekeyTimeout+jitter())
}

func (peer *Peer) timersHandshakeComplete() {
	peer.device.timers.cancel(peer, timerEventRetransmitHandshake)
	peer.timers.handshakeAttempts.Store(0)
	peer.timers.sentLastMinuteHandshake.Store(false)
	peer.lastHandshakeNano.Store(time.Now().UnixNano())
}

func (peer *Peer) timersSessionDerived() {
	if peer.timersActive() {
		peer.device.timers.schedule(peer, timerEventZeroKeyMaterial, RejectAfterTime*3)
	}
	if interval := peer.persistentKeepaliveInterval.Load(); interval > 0 {
		peer.device.timers.schedule(peer, timerEventPersistentKeepalive, time.Duration(interval)*time.Second)
	}
}

func (peer *Peer) timersDataSent() {
	if peer.timersActive() {
		peer.device.timers.schedule(peer, timerEventNewHandshake, KeepaliveTimeout+RekeyTimeout+jitter())
	}
}

func (peer *Peer) timersDataReceived() {
	if !peer.timersActive() {
		return
	}
	peer.device.timers.cancel(peer, timerEventNewHandshake)
	peer.device.timers.schedule(peer, timerEventSendKeepalive, KeepaliveTimeout)
}

func (peer *Peer) timersAnyAuthenticatedPacketTraversal() {
	if interval := peer.persistentKeepaliveInterval.Load(); interval > 0 {
		peer.device.timers.schedule(peer, timerEventPersistentKeepalive, time.Duration(interval)*time.Second)
	}
}

func (peer *Peer) timersAnyAuthenticatedPacketSent() {
	peer.device.timers.cancel(peer, timerEventSendKeepalive)
}

func (peer *Peer) timersAnyAuthenticatedPacketReceived() {
	peer.device.timers.cancel(peer, timerEventNewHandshake)
}

func (peer *Peer) timersStart() {
	peer.timers.handshakeAttempts.Store(0)
	peer.timers.sentLastMinuteHandshake.Store(false)
	peer.timers.needAnotherKeepalive.Store(false)
	peer.timers.stop = make(chan struct{})
	peer.stopping.Add(1)
	go peer.RoutineTimerEvents(peer.timers.stop)
}

func (peer *Peer) timersStop() {
	for kind := timerEventKind(0); kind < timerEventKindCount; kind++ {
		peer.device.timers.cancel(peer, kind)
	}
	close(peer.timers.stop)
}

func jitter() time.Duration {
	return time.Duration(rand.Intn(RekeyTimeoutJitterMaxMs)) * time.Millisecond
}
