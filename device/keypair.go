/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/cipher"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wiretun-dev/wiretun/replay"
)

/* Due to limitations in Go and /x/crypto there is currently
 * no way to ensure that key material is securely ereased in memory.
 *
 * Since this may harm the forward secrecy property,
 * we plan to resolve this issue; whenever Go allows us to do so.
 */

type Keypair struct {
	sendNonce    atomic.Uint64 // incremented per packet sent; doubles as the AEAD nonce
	send         cipher.AEAD   // bound to the sendKey derived at handshake completion
	receive      cipher.AEAD   // bound to the recvKey derived at handshake completion
	replayFilter replay.Filter // tracks counters this session has already seen from the peer
	isInitiator  bool          // whether we were the handshake initiator; governs rekey timing
	created      time.Time     // used to age the keypair out via RekeyAfterTime/RejectAfterTime
	localIndex   uint32        // session index we assigned; peer echoes it back to address us
	remoteIndex  uint32        // session index the peer assigned; we echo it back to address them
}

type Keypairs struct {
	sync.RWMutex
	current  *Keypair
	previous *Keypair
	next     atomic.Pointer[Keypair] // lock-free so Receive can promote it off the hot path
}

func (kp *Keypairs) Current() *Keypair {
	kp.RLock()
	defer kp.RUnlock()
	return kp.current
}

func (device *Device) DeleteKeypair(key *Keypair) {
	if key != nil {
		device.indexTable.Delete(key.localIndex)
	}
}
