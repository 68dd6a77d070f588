/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "time"

const (
	NoisePublicKeySize    = 32
	NoisePrivateKeySize   = 32
	NoisePresharedKeySize = 32
)

// Interval constants. The time-based intervals match the upstream
// WireGuard protocol timing (whitepaper section 6); RekeyAfterMessages
// and RejectAfterMessages are lower than upstream WireGuard's values.
const (
	RekeyAfterMessages      = (1 << 20)
	RejectAfterMessages     = (1 << 60) - (1 << 13) - 1
	RekeyAfterTime          = time.Second * 120
	RekeyAfterTimeReceiving = time.Second * 165
	RekeyAttemptTime        = time.Second * 90
	RekeyTimeout            = time.Second * 5
	RekeyTimeoutJitterMaxMs = 334
	RejectAfterTime         = time.Second * 180
	KeepaliveTimeout        = time.Second * 10
	CookieRefreshTime       = time.Second * 120
	CookieValidityTime      = time.Second * 600
	HandshakeInitationRate  = time.Second / 50
	PaddingMultiple         = 16
)

const (
	MinMessageSize = MessageKeepaliveSize                  // minimum size of a message
	MaxMessageSize = MaxSegmentSize                         // maximum size of a message
	MaxContentSize = MaxSegmentSize - MessageTransportSize  // maximum size of transport content
	MaxSegmentSize = 1 << 16                                // largest possible UDP datagram
	DefaultMTU     = 1420                                   // default MTU for created TUN interfaces
)

const (
	UnderLoadAfterTime = time.Second // how long to remain "under load" once entered
	MaxPeers           = 1 << 20     // maximum number of configured peers
)

const (
	QueueStagedSize            = 128 // staged outbound packets per peer, waiting on handshake
	QueueOutboundSize          = 1024
	QueueInboundSize           = 1024
	QueueHandshakeSize         = 1024
	MaxSegmentOffload          = 128 // maximum number of segments in a single GSO/GRO batch
	PreallocatedBuffersPerPool = 1024
)
