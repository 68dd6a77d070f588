/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package tai64n

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStampSizeIsTwelveBytes(t *testing.T) {
	ts := Stamp(time.Now())
	assert.Len(t, ts, TimestampSize)
}

func TestAfterOrdersByWallClock(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := Stamp(base)
	later := Stamp(base.Add(time.Second))

	assert.True(t, later.After(earlier))
	assert.False(t, earlier.After(later))
	assert.False(t, earlier.After(earlier), "a timestamp is never strictly after itself")
}

func TestAfterDistinguishesSubSecondResolution(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := Stamp(base)
	later := Stamp(base.Add(10 * time.Nanosecond))

	assert.True(t, later.After(earlier))
}

func TestNowAdvancesMonotonicallyInWallClockTerms(t *testing.T) {
	a := Now()
	time.Sleep(2 * time.Millisecond)
	b := Now()
	assert.True(t, b.After(a))
}
