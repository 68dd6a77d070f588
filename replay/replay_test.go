/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const noLimit = uint64(1) << 62

func TestFilterAcceptsFirstUseOfEachCounter(t *testing.T) {
	var f Filter
	for _, c := range []uint64{0, 1, 2, 100, 101} {
		assert.True(t, f.ValidateCounter(c, noLimit), "counter %d should be accepted the first time", c)
	}
}

func TestFilterRejectsReplay(t *testing.T) {
	var f Filter
	assert.True(t, f.ValidateCounter(5, noLimit))
	assert.False(t, f.ValidateCounter(5, noLimit), "replayed counter must be rejected")
}

func TestFilterAcceptsOutOfOrderWithinWindow(t *testing.T) {
	var f Filter
	assert.True(t, f.ValidateCounter(100, noLimit))
	assert.True(t, f.ValidateCounter(50, noLimit), "counter within the window behind the high-water mark is still valid")
	assert.False(t, f.ValidateCounter(50, noLimit), "but only once")
}

func TestFilterRejectsTooOldForWindow(t *testing.T) {
	var f Filter
	assert.True(t, f.ValidateCounter(WindowSize*3, noLimit))
	assert.False(t, f.ValidateCounter(0, noLimit), "counter far behind the high-water mark has slid out of the window")
}

func TestFilterRejectsAtOrAboveLimit(t *testing.T) {
	var f Filter
	assert.False(t, f.ValidateCounter(10, 10), "counter == limit must be rejected")
	assert.False(t, f.ValidateCounter(11, 10), "counter > limit must be rejected")
	assert.True(t, f.ValidateCounter(9, 10))
}

func TestFilterResetClearsState(t *testing.T) {
	var f Filter
	assert.True(t, f.ValidateCounter(42, noLimit))
	f.Reset()
	assert.True(t, f.ValidateCounter(42, noLimit), "after Reset the same counter is treated as unseen")
}

func TestFilterSlidingWindowAdvancesAndForgetsOldBlocks(t *testing.T) {
	var f Filter
	assert.True(t, f.ValidateCounter(0, noLimit))
	// Push the window far enough forward that counter 0's block has
	// definitely been reused by another address within the window.
	assert.True(t, f.ValidateCounter(WindowSize*4, noLimit))
	assert.False(t, f.ValidateCounter(0, noLimit), "counter 0 is now outside the slid window")
}
