/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ratelimiter

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(now *time.Time) *Ratelimiter {
	r := &Ratelimiter{timeNow: func() time.Time { return *now }}
	r.Init()
	return r
}

func TestAllowPermitsBurstThenThrottles(t *testing.T) {
	now := time.Now()
	r := newTestLimiter(&now)
	defer r.Close()

	ip := netip.MustParseAddr("192.0.2.1")

	allowed := 0
	for r.Allow(ip) {
		allowed++
		require.LessOrEqual(t, allowed, packetsBurstable, "burst must not exceed the configured bucket depth")
	}
	assert.Greater(t, allowed, 0, "at least the first packet from a fresh source must be admitted")
	assert.False(t, r.Allow(ip), "once the bucket is drained, further packets with no elapsed time are rejected")
}

func TestAllowRefillsTokensOverTime(t *testing.T) {
	now := time.Now()
	r := newTestLimiter(&now)
	defer r.Close()

	ip := netip.MustParseAddr("192.0.2.2")
	for r.Allow(ip) {
	}
	require.False(t, r.Allow(ip), "bucket should be exhausted")

	now = now.Add(time.Second)
	assert.True(t, r.Allow(ip), "a full second should refill enough tokens for one more packet")
}

func TestAllowTracksSourcesIndependently(t *testing.T) {
	now := time.Now()
	r := newTestLimiter(&now)
	defer r.Close()

	a := netip.MustParseAddr("192.0.2.10")
	b := netip.MustParseAddr("192.0.2.20")

	for r.Allow(a) {
	}
	assert.False(t, r.Allow(a))
	assert.True(t, r.Allow(b), "a different source address has its own bucket")
}

func TestAllowDistinguishesIPv4AndIPv6ForSameHost(t *testing.T) {
	now := time.Now()
	r := newTestLimiter(&now)
	defer r.Close()

	v4 := netip.MustParseAddr("203.0.113.1")
	v6 := netip.MustParseAddr("::ffff:203.0.113.1")
	assert.NotEqual(t, v4, v6)

	for r.Allow(v4) {
	}
	assert.False(t, r.Allow(v4))
	assert.True(t, r.Allow(v6), "the IPv4-mapped IPv6 form of a drained IPv4 source has its own bucket")
}
