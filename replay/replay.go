/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package replay implements a sliding-window anti-replay filter for
// the 64-bit per-session counters carried in transport messages.
package replay

// This package has no fixed counter ceiling of its own; callers pass
// theirs (the keypair's reject-after-messages budget) into
// ValidateCounter.
const (
	// WindowSize is the width, in bits, of the replay bitmap. The
	// newest block is only partly filled, so a counter is tracked only
	// while it is at most WindowSize-blockBits below the highest
	// counter seen; older counters are rejected.
	WindowSize = 2048

	blockBits  = 64
	blockCount = WindowSize / blockBits
)

// Filter holds the sliding window of counters seen so far for one
// keypair. The zero Filter is ready to use.
type Filter struct {
	last   uint64
	blocks [blockCount]uint64
}

// Reset returns the filter to its initial empty state, so it can be
// reused by a new keypair sharing the struct's storage.
func (f *Filter) Reset() {
	f.last = 0
	for i := range f.blocks {
		f.blocks[i] = 0
	}
}

// ValidateCounter reports whether counter is acceptable under the
// replay window and, if so, records it. limit is the hard ceiling a
// counter must stay under regardless of the window (the keypair's
// reject-after-messages bound); values >= limit are rejected.
func (f *Filter) ValidateCounter(counter, limit uint64) bool {
	if counter >= limit {
		return false
	}

	indexBlock := counter / blockBits

	if counter > f.last {
		// Advance the window so indexBlock becomes the top block,
		// zeroing any blocks that slid out of range.
		diff := indexBlock - f.last/blockBits
		if diff > blockCount {
			diff = blockCount
		}
		for i := uint64(1); i <= diff; i++ {
			f.blocks[(f.last/blockBits+i)%blockCount] = 0
		}
		f.last = counter
	} else if f.last-counter > (blockCount-1)*blockBits {
		// Too old to be representable in the window at all: its block
		// may already have been reused for a newer one.
		return false
	}

	indexBlock %= blockCount
	indexBit := counter % blockBits

	old := f.blocks[indexBlock]
	newBit := uint64(1) << indexBit
	if old&newBit != 0 {
		return false
	}
	f.blocks[indexBlock] = old | newBit
	return true
}
