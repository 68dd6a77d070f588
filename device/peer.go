/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wiretun-dev/wiretun/conn"
)

// Peer represents one remote endpoint and all state needed to handshake
// with it and exchange encrypted traffic.
type Peer struct {
	isRunning         atomic.Bool
	keypairs          Keypairs
	handshake         Handshake
	device            *Device
	stopping          sync.WaitGroup // routines started by Start decrement this on exit
	txBytes           atomic.Uint64
	rxBytes           atomic.Uint64
	lastHandshakeNano atomic.Int64 // unix nanoseconds

	endpoint struct {
		sync.Mutex
		val            conn.Endpoint
		clearSrcOnTx   bool // clear the endpoint's cached source address before the next send
		disableRoaming bool
	}

	// Not one time.AfterFunc goroutine per event: each (peer, kind) pair is
	// scheduled against the device-wide min-heap dispatcher in timers.go.
	// Only the epoch counters (for lazy cancellation) and the delivery
	// channel live here.
	timers struct {
		epochs                  [timerEventKindCount]atomic.Uint64
		events                  chan timerEventKind
		stop                    chan struct{}
		handshakeAttempts       atomic.Uint32
		needAnotherKeepalive    atomic.Bool
		sentLastMinuteHandshake atomic.Bool
	}

	state struct {
		sync.Mutex // serializes Start/Stop
	}

	queue struct {
		staged           chan *QueueOutboundElementsContainer // outbound packets held until the handshake completes
		outbound         *autodrainingOutboundQueue
		inbound          *autodrainingInboundQueue
		encryptionWorker int // device.queue.encryption.cs index this peer's outbound work is pinned to
		decryptionWorker int // device.queue.decryption.cs index this peer's inbound work is pinned to
	}

	cookieGenerator             CookieGenerator
	trieEntries                 list.List // allowedips entries referencing this peer
	persistentKeepaliveInterval atomic.Uint32
}

func (device *Device) NewPeer(pk NoisePublicKey) (*Peer, error) {
	if device.isClosed() {
		return nil, errors.New("device closed")
	}

	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	device.peers.Lock()
	defer device.peers.Unlock()

	if len(device.peers.keyMap) >= MaxPeers {
		return nil, errors.New("too many peers")
	}

	peer := new(Peer)

	peer.cookieGenerator.Init(pk)
	peer.device = device

	peer.queue.outbound = newAutodrainingOutboundQueue(device)
	peer.queue.inbound = newAutodrainingInboundQueue(device)
	peer.queue.staged = make(chan *QueueOutboundElementsContainer, QueueStagedSize)
	peer.queue.encryptionWorker = device.workerFor(pk, 'e')
	peer.queue.decryptionWorker = device.workerFor(pk, 'd')

	_, ok := device.peers.keyMap[pk]
	if ok {
		return nil, errors.New("adding existing peer")
	}

	handshake := &peer.handshake
	handshake.mutex.Lock()
	handshake.precomputedStaticStatic, _ = device.staticIdentity.privateKey.sharedSecret(pk)
	handshake.remoteStatic = pk
	handshake.mutex.Unlock()

	peer.endpoint.Lock()
	peer.endpoint.val = nil
	peer.endpoint.disableRoaming = false
	peer.endpoint.clearSrcOnTx = false
	peer.endpoint.Unlock()

	peer.timersInit()

	device.peers.keyMap[pk] = peer

	return peer, nil
}

func (peer *Peer) SendBuffers(buffers [][]byte) error {
	peer.device.net.RLock()
	defer peer.device.net.RUnlock()

	if peer.device.isClosed() {
		return nil
	}

	peer.endpoint.Lock()
	endpoint := peer.endpoint.val
	if endpoint == nil {
		peer.endpoint.Unlock()
		return errors.New("no known endpoint for peer")
	}

	if peer.endpoint.clearSrcOnTx {
		endpoint.ClearSrc()
		peer.endpoint.clearSrcOnTx = false
	}
	peer.endpoint.Unlock()

	err := peer.device.net.bind.Send(buffers, endpoint)
	if err == nil {
		var totalLen uint64
		for _, b := range buffers {
			totalLen += uint64(len(b))
		}
		peer.txBytes.Add(totalLen)
	}
	return err
}

// String renders an abbreviated "peer(XXXX…YYYY)" form of the remote
// public key, computed directly in base64 to avoid the allocation an
// encoding/base64 round trip would cost on every log line.
func (peer *Peer) String() string {
	src := peer.handshake.remoteStatic

	b64 := func(input byte) byte {
		return input + 'A' + byte(((25-int(input))>>8)&6) - byte(((51-int(input))>>8)&75) - byte(((61-int(input))>>8)&15) + byte(((62-int(input))>>8)&3)
	}

	b := []byte("peer(____…____)")
	const first = len("peer(")
	const second = len("peer(____…")

	b[first+0] = b64((src[0] >> 2) & 63)
	b[first+1] = b64(((src[0] << 4) | (src[1] >> 4)) & 63)
	b[first+2] = b64(((src[1] << 2) | (src[2] >> 6)) & 63)
	b[first+3] = b64(src[2] & 63)

	b[second+0] = b64(src[29] & 63)
	b[second+1] = b64((src[30] >> 2) & 63)
	b[second+2] = b64(((src[30] << 4) | (src[31] >> 4)) & 63)
	b[second+3] = b64((src[31] << 2) & 63)

	return string(b)
}

func (peer *Peer) Start() {
	if peer.device.isClosed() {
		return
	}

	peer.state.Lock()
	defer peer.state.Unlock()

	if peer.isRunning.Load() {
		return
	}

	device := peer.device
	device.log.Verbosef("%v - Starting", peer)

	peer.stopping.Wait()
	peer.stopping.Add(2) // timersStart below adds a third, for the timer-event worker

	// Force an immediate handshake attempt by backdating lastSentHandshake.
	peer.handshake.mutex.Lock()
	peer.handshake.lastSentHandshake = time.Now().Add(-(RekeyTimeout + time.Second))
	peer.handshake.mutex.Unlock()

	peer.device.queue.encryption.wg.Add(1)

	peer.timersStart()

	device.flushInboundQueue(peer.queue.inbound)
	device.flushOutboundQueue(peer.queue.outbound)

	// The device's batch size, not the bind's: it sizes the device's
	// shared packet pools.
	batchSize := peer.device.BatchSize()

	go peer.RoutineSequentialSender(batchSize)
	go peer.RoutineSequentialReceiver(batchSize)

	peer.isRunning.Store(true)
}

func (peer *Peer) ZeroAndFlushAll() {
	device := peer.device

	keypairs := &peer.keypairs
	keypairs.Lock()
	device.DeleteKeypair(keypairs.previous)
	device.DeleteKeypair(keypairs.current)
	device.DeleteKeypair(keypairs.next.Load())
	keypairs.previous = nil
	keypairs.current = nil
	keypairs.next.Store(nil)
	keypairs.Unlock()

	handshake := &peer.handshake
	handshake.mutex.Lock()
	device.indexTable.Delete(handshake.localIndex)
	handshake.Clear()
	handshake.mutex.Unlock()

	peer.FlushStagedPackets()
}

// ExpireCurrentKeypairs forces an immediate rekey by pushing both the
// current and next keypairs' send nonce past RejectAfterMessages.
func (peer *Peer) ExpireCurrentKeypairs() {
	handshake := &peer.handshake
	handshake.mutex.Lock()
	peer.device.indexTable.Delete(handshake.localIndex)
	handshake.Clear()
	peer.handshake.lastSentHandshake = time.Now().Add(-(RekeyTimeout + time.Second))
	handshake.mutex.Unlock()

	keypairs := &peer.keypairs
	keypairs.Lock()
	if keypairs.current != nil {
		keypairs.current.sendNonce.Store(RejectAfterMessages)
	}
	if next := keypairs.next.Load(); next != nil {
		next.sendNonce.Store(RejectAfterMessages)
	}
	keypairs.Unlock()
}

func (peer *Peer) Stop() {
	peer.state.Lock()
	defer peer.state.Unlock()

	if !peer.isRunning.Swap(false) {
		return
	}

	peer.device.log.Verbosef("%v - Stopping", peer)

	peer.timersStop()

	peer.queue.inbound.c <- nil
	peer.queue.outbound.c <- nil

	peer.stopping.Wait()

	peer.device.queue.encryption.wg.Done()

	peer.ZeroAndFlushAll()
}

// SetEndpointFromPacket implements roaming: the endpoint a peer is last
// seen sending from becomes the endpoint we send to, unless roaming has
// been disabled for it.
func (peer *Peer) SetEndpointFromPacket(endpoint conn.Endpoint) {
	peer.endpoint.Lock()
	defer peer.endpoint.Unlock()

	if peer.endpoint.disableRoaming {
		return
	}

	peer.endpoint.clearSrcOnTx = false
	peer.endpoint.val = endpoint
}

func (peer *Peer) markEndpointSrcForClearing() {
	peer.endpoint.Lock()
	defer peer.endpoint.Unlock()

	if peer.endpoint.val == nil {
		return
	}

	peer.endpoint.clearSrcOnTx = true
}

func (peer *Peer) isRoamingDisabled() bool {
	peer.endpoint.Lock()
	defer peer.endpoint.Unlock()
	return peer.endpoint.disableRoaming
}

func (peer *Peer) endpointConfigured() bool {
	peer.endpoint.Lock()
	defer peer.endpoint.Unlock()
	return peer.endpoint.val != nil
}
