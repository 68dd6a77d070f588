/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package tai64n implements the 12-byte TAI64N timestamp format
// WireGuard's handshake uses as replay-resistant proof of freshness.
package tai64n

import (
	"encoding/binary"
	"time"
)

const TimestampSize = 12

// base is the TAI64 label of the Unix epoch: the 2^62 TAI64 label bit
// plus the 10-second offset between TAI and UTC.
const base = uint64(1<<62) + 10

type Timestamp [TimestampSize]byte

// Now encodes the current time, rounded down to a 10-nanosecond step
// to avoid leaking clock jitter finer than handshakes are ever spaced.
func Now() Timestamp {
	return Stamp(time.Now().Truncate(10 * time.Nanosecond))
}

func Stamp(t time.Time) Timestamp {
	var ts Timestamp
	secs := base + uint64(t.Unix())
	nano := uint32(t.Nanosecond())

	binary.BigEndian.PutUint64(ts[:8], secs)
	binary.BigEndian.PutUint32(ts[8:12], nano)
	return ts
}

// After reports whether t1 is strictly later than t2, per byte
// ordering of the big-endian encoding - used to reject a handshake
// initiation whose timestamp does not advance on the last one seen
// from that peer.
func (t1 Timestamp) After(t2 Timestamp) bool {
	for i := 0; i < TimestampSize; i++ {
		if t1[i] > t2[i] {
			return true
		}
		if t1[i] < t2[i] {
			return false
		}
	}
	return false
}
