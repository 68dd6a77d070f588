/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wiretun-dev/wiretun/conn"
	"github.com/wiretun-dev/wiretun/ratelimiter"
	"github.com/wiretun-dev/wiretun/rwcancel"
	"github.com/wiretun-dev/wiretun/tun"
)

// Device is a WireGuard-style tunnel interface: one network bind, a set
// of peers, the encryption/decryption/handshake queues, and the TUN
// device it delivers plaintext packets to and from.
type Device struct {
	state struct {
		// state holds a deviceState, accessed atomically via
		// device.deviceState(). Reading it without the state lock is
		// only ever advisory: state is updated before the transition it
		// describes completes, so a racing reader may see either the
		// old or the intended-but-not-yet-final state.
		state    atomic.Uint32
		stopping sync.WaitGroup // blocks until RoutineReadFromTUN has exited
		sync.Mutex
	}

	net struct {
		stopping      sync.WaitGroup
		sync.RWMutex
		bind          conn.Bind
		netlinkCancel *rwcancel.RWCancel
		port          uint16
		fwmark        uint32
		brokenRoaming bool
	}

	staticIdentity struct {
		sync.RWMutex
		privateKey NoisePrivateKey
		publicKey  NoisePublicKey
	}

	peers struct {
		sync.RWMutex
		keyMap map[NoisePublicKey]*Peer
	}

	rate struct {
		underLoadUntil atomic.Int64 // unix nanoseconds
		limiter        ratelimiter.Ratelimiter
	}

	allowedips    AllowedIPs
	indexTable    IndexTable
	cookieChecker CookieChecker

	timers *timerDispatcher // device-wide min-heap scheduler, see timers.go

	pool struct {
		inboundElementsContainer  *WaitPool
		outboundElementsContainer *WaitPool
		messageBuffers            *WaitPool
		inboundElements           *WaitPool
		outboundElements          *WaitPool
	}

	queue struct {
		numWorkers int // len(encryption.cs) == len(decryption.cs); see workerFor
		encryption *outboundQueue
		decryption *inboundQueue
		handshake  *handshakeQueue
	}

	tun struct {
		device tun.Device
		mtu    atomic.Int32
	}

	ipcMutex sync.RWMutex
	closed   chan struct{}
	log      *Logger
}

// deviceState is one of down, up, or closed:
//
//	down -----+
//	  ↑↓      ↓
//	  up -> closed
//
// closed is terminal; a device can cycle between down and up any number
// of times before that.
type deviceState uint32

//go:generate go run golang.org/x/tools/cmd/stringer -type deviceState -trimprefix=deviceState
const (
	deviceStateDown deviceState = iota
	deviceStateUp
	deviceStateClosed
)

func (device *Device) deviceState() deviceState {
	return deviceState(device.state.state.Load())
}

func (device *Device) isClosed() bool {
	return device.deviceState() == deviceStateClosed
}

func (device *Device) isUp() bool {
	return device.deviceState() == deviceStateUp
}

// removePeerLocked requires device.peers.Lock() to already be held.
func removePeerLocked(device *Device, peer *Peer, key NoisePublicKey) {
	device.allowedips.RemoveByPeer(peer)
	peer.Stop()
	delete(device.peers.keyMap, key)
}

func (device *Device) changeState(want deviceState) (err error) {
	device.state.Lock()
	defer device.state.Unlock()

	old := device.deviceState()
	if old == deviceStateClosed {
		// Once closed, always closed.
		device.log.Verbosef("Interface closed, ignored requested state %s", want)
		return nil
	}

	switch want {
	case old:
		return nil
	case deviceStateUp:
		device.state.state.Store(uint32(deviceStateUp))
		err = device.upLocked()
		if err == nil {
			break
		}
		// Up failed; fall through and tear the device fully down.
		fallthrough
	case deviceStateDown:
		device.state.state.Store(uint32(deviceStateDown))
		errDown := device.downLocked()
		if err == nil {
			err = errDown
		}
	}

	device.log.Verbosef("Interface state was %s, requested %s, now %s", old, want, device.deviceState())
	return
}

// upLocked requires device.state.mu; the caller updates device.state.state.
func (device *Device) upLocked() error {
	if err := device.BindUpdate(); err != nil {
		device.log.Errorf("Unable to update bind: %v", err)
		return err
	}

	// An IPC set operation won't call peer.Start() until the peer is
	// fully configured, so wait for any concurrent one to finish first.
	device.ipcMutex.Lock()
	defer device.ipcMutex.Unlock()

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.Start()
		if peer.persistentKeepaliveInterval.Load() > 0 {
			peer.SendKeepalive()
		}
	}
	device.peers.RUnlock()
	return nil
}

// downLocked requires device.state.mu; the caller updates device.state.state.
func (device *Device) downLocked() error {
	err := device.BindClose()
	if err != nil {
		device.log.Errorf("Bind close failed: %v", err)
	}

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.Stop()
	}
	device.peers.RUnlock()
	return err
}

func (device *Device) Up() error {
	return device.changeState(deviceStateUp)
}

// Down stops the device without closing it; it can be brought Up again.
func (device *Device) Down() error {
	return device.changeState(deviceStateDown)
}

// IsUnderLoad reports whether the device is experiencing, or has
// recently experienced, enough handshake traffic to warrant the cookie
// DoS mitigation.
func (device *Device) IsUnderLoad() bool {
	now := time.Now()
	underLoad := len(device.queue.handshake.c) >= QueueHandshakeSize/8
	if underLoad {
		device.rate.underLoadUntil.Store(now.Add(UnderLoadAfterTime).UnixNano())
		return true
	}
	return device.rate.underLoadUntil.Load() > now.UnixNano()
}

// SetPrivateKey replaces the device's static private key, dropping any
// peer whose public key now matches our own, and forces a rekey with
// every remaining peer since their precomputed shared secrets changed.
func (device *Device) SetPrivateKey(sk NoisePrivateKey) error {
	device.staticIdentity.Lock()
	defer device.staticIdentity.Unlock()

	if sk.Equals(device.staticIdentity.privateKey) {
		return nil
	}

	device.peers.Lock()
	defer device.peers.Unlock()

	lockedPeers := make([]*Peer, 0, len(device.peers.keyMap))
	for _, peer := range device.peers.keyMap {
		peer.handshake.mutex.RLock()
		lockedPeers = append(lockedPeers, peer)
	}

	publicKey := sk.publicKey()
	for key, peer := range device.peers.keyMap {
		if peer.handshake.remoteStatic.Equals(publicKey) {
			// This peer's key now collides with our own; drop it.
			peer.handshake.mutex.RUnlock()
			removePeerLocked(device, peer, key)
			peer.handshake.mutex.RLock()
		}
	}

	device.staticIdentity.privateKey = sk
	device.staticIdentity.publicKey = publicKey
	device.cookieChecker.Init(publicKey)

	expiredPeers := make([]*Peer, 0, len(device.peers.keyMap))
	for _, peer := range device.peers.keyMap {
		handshake := &peer.handshake
		handshake.precomputedStaticStatic, _ = device.staticIdentity.privateKey.sharedSecret(handshake.remoteStatic)
		expiredPeers = append(expiredPeers, peer)
	}

	for _, peer := range lockedPeers {
		peer.handshake.mutex.RUnlock()
	}

	for _, peer := range expiredPeers {
		peer.ExpireCurrentKeypairs()
	}

	return nil
}

func NewDevice(tunDevice tun.Device, bind conn.Bind, logger *Logger) *Device {
	device := new(Device)
	device.state.state.Store(uint32(deviceStateDown))
	device.closed = make(chan struct{})
	device.log = logger

	device.net.bind = bind
	device.tun.device = tunDevice

	mtu, err := device.tun.device.MTU()
	if err != nil {
		device.log.Errorf("Trouble determining MTU, assuming default: %v", err)
		mtu = DefaultMTU
	}
	device.tun.mtu.Store(int32(mtu))

	device.peers.keyMap = make(map[NoisePublicKey]*Peer)
	device.rate.limiter.Init()
	device.indexTable.Init()
	device.timers = newTimerDispatcher()
	device.timers.Start()

	device.PopulatePools()

	cpus := runtime.NumCPU()
	device.queue.numWorkers = cpus
	device.queue.handshake = newHandshakeQueue()
	device.queue.encryption = newOutboundQueue(cpus)
	device.queue.decryption = newInboundQueue(cpus)

	device.state.stopping.Wait()

	device.queue.encryption.wg.Add(cpus)
	for i := 0; i < cpus; i++ {
		go device.RoutineEncryption(i)
		go device.RoutineDecryption(i)
		go device.RoutineHandshake(i + 1)
	}

	device.state.stopping.Add(1)
	device.queue.encryption.wg.Add(1)
	go device.RoutineReadFromTUN()
	go device.RoutineTUNEventReader()

	return device
}

// RoutineTUNEventReader brings the device up or down as the TUN device
// reports its link going up or down, until the TUN device's event
// channel is closed. MTU update events are ignored.
func (device *Device) RoutineTUNEventReader() {
	for event := range device.tun.device.Events() {
		switch event {
		case tun.EventUp:
			device.Up()
		case tun.EventDown:
			device.Down()
		}
	}
}

// BatchSize is the larger of the bind's and the TUN device's batch
// sizes; it sizes the shared packet pools and bounds every batched call
// for the device's lifetime.
func (device *Device) BatchSize() int {
	size := device.net.bind.BatchSize()
	dSize := device.tun.device.BatchSize()
	if size < dSize {
		size = dSize
	}
	return size
}

// workerFor pins a peer to one of the device's encryption or decryption
// workers by hashing its static public key, so that every packet for a
// given peer is always encrypted (or decrypted) by the same goroutine.
// salt distinguishes the encryption and decryption assignments so a
// peer need not land on the same worker for both directions.
func (device *Device) workerFor(pk NoisePublicKey, salt byte) int {
	h := fnv.New32a()
	h.Write([]byte{salt})
	h.Write(pk[:])
	return int(h.Sum32() % uint32(device.queue.numWorkers))
}

func (device *Device) LookupPeer(pk NoisePublicKey) *Peer {
	device.peers.RLock()
	defer device.peers.RUnlock()

	return device.peers.keyMap[pk]
}

func (device *Device) RemovePeer(key NoisePublicKey) {
	device.peers.Lock()
	defer device.peers.Unlock()

	peer, ok := device.peers.keyMap[key]
	if ok {
		removePeerLocked(device, peer, key)
	}
}

func (device *Device) RemoveAllPeers() {
	device.peers.Lock()
	defer device.peers.Unlock()

	for key, peer := range device.peers.keyMap {
		removePeerLocked(device, peer, key)
	}

	device.peers.keyMap = make(map[NoisePublicKey]*Peer)
}

// Close permanently shuts the device down. It is not reversible; use
// Down/Up to pause and resume a device that should stay alive.
func (device *Device) Close() {
	device.state.Lock()
	defer device.state.Unlock()
	device.ipcMutex.Lock()
	defer device.ipcMutex.Unlock()

	if device.isClosed() {
		return
	}

	device.state.state.Store(uint32(deviceStateClosed))
	device.log.Verbosef("Device closing")

	device.tun.device.Close()

	device.downLocked()

	// Peers must go before the queues close: a peer assumes the queues
	// it was handed are still live.
	device.RemoveAllPeers()

	// We held the encryption/decryption/handshake queues open in case a
	// new peer started writing to them. No new peers can appear now.
	device.queue.encryption.wg.Done()
	device.queue.decryption.wg.Done()
	device.queue.handshake.wg.Done()

	device.state.stopping.Wait()

	device.rate.limiter.Close()

	device.timers.Stop()

	device.log.Verbosef("Device closed")
	close(device.closed)
}

// Wait returns a channel that closes once the device has shut down.
func (device *Device) Wait() chan struct{} {
	return device.closed
}

func (device *Device) SendKeepalivesToPeersWithCurrentKeypair() {
	if !device.isUp() {
		return
	}

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.keypairs.RLock()
		sendKeepalive := peer.keypairs.current != nil && !peer.keypairs.current.created.Add(RejectAfterTime).Before(time.Now())
		peer.keypairs.RUnlock()

		if sendKeepalive {
			peer.SendKeepalive()
		}
	}
	device.peers.RUnlock()
}

// closeBindLocked requires device.net's lock.
func closeBindLocked(device *Device) error {
	var err error
	netc := &device.net

	if netc.netlinkCancel != nil {
		netc.netlinkCancel.Cancel()
	}

	if netc.bind != nil {
		err = netc.bind.Close()
	}

	netc.stopping.Wait()
	return err
}

func (device *Device) Bind() conn.Bind {
	device.net.Lock()
	defer device.net.Unlock()
	return device.net.bind
}

func (device *Device) BindSetMark(mark uint32) error {
	device.net.Lock()
	defer device.net.Unlock()

	if device.net.fwmark == mark {
		return nil
	}

	device.net.fwmark = mark
	if device.isUp() && device.net.bind != nil {
		if err := device.net.bind.SetMark(mark); err != nil {
			return err
		}
	}

	// A new fwmark needs a fresh route decision, so clear every peer's
	// cached source address.
	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.markEndpointSrcForClearing()
	}
	device.peers.RUnlock()

	return nil
}

// BindUpdate closes and reopens the network bind; called on listen_port
// changes and whenever the underlying socket needs to be reestablished.
func (device *Device) BindUpdate() error {
	device.net.Lock()
	defer device.net.Unlock()

	if err := closeBindLocked(device); err != nil {
		return err
	}

	if !device.isUp() {
		return nil
	}

	var err error
	var recvFns []conn.ReceiveFunc
	netc := &device.net
	recvFns, netc.port, err = netc.bind.Open(netc.port)
	if err != nil {
		netc.port = 0
		return err
	}

	netc.netlinkCancel, err = device.startRouteListener(netc.bind)
	if err != nil {
		netc.bind.Close()
		netc.port = 0
		return err
	}

	if netc.fwmark != 0 {
		err = netc.bind.SetMark(netc.fwmark)
		if err != nil {
			return err
		}
	}

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.markEndpointSrcForClearing()
	}
	device.peers.RUnlock()

	device.net.stopping.Add(len(recvFns))
	device.queue.decryption.wg.Add(len(recvFns)) // one RoutineReceiveIncoming per receive function
	device.queue.handshake.wg.Add(len(recvFns))

	batchSize := netc.bind.BatchSize()
	for _, fn := range recvFns {
		go device.RoutineReceiveIncoming(batchSize, fn)
	}

	device.log.Verbosef("UDP bind has been updated")
	return nil
}

func (device *Device) BindClose() error {
	device.net.Lock()
	err := closeBindLocked(device)
	device.net.Unlock()
	return err
}
