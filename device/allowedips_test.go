/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"testing"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func TestAllowedIPsLookupExactMatch(t *testing.T) {
	var table AllowedIPs
	peerA := &Peer{}

	table.Insert(mustPrefix(t, "10.0.0.1/32"), peerA)

	addr := netip.MustParseAddr("10.0.0.1").As4()
	if got := table.Lookup(addr[:]); got != peerA {
		t.Fatalf("Lookup exact match: got %p, want %p", got, peerA)
	}

	other := netip.MustParseAddr("10.0.0.2").As4()
	if got := table.Lookup(other[:]); got != nil {
		t.Fatalf("Lookup non-member address: got %p, want nil", got)
	}
}

func TestAllowedIPsLongestPrefixMatch(t *testing.T) {
	var table AllowedIPs
	broad := &Peer{}
	narrow := &Peer{}

	table.Insert(mustPrefix(t, "10.0.0.0/8"), broad)
	table.Insert(mustPrefix(t, "10.1.0.0/16"), narrow)

	inNarrow := netip.MustParseAddr("10.1.2.3").As4()
	if got := table.Lookup(inNarrow[:]); got != narrow {
		t.Fatalf("expected the more specific /16 to win, got %p want %p", got, narrow)
	}

	inBroadOnly := netip.MustParseAddr("10.2.0.1").As4()
	if got := table.Lookup(inBroadOnly[:]); got != broad {
		t.Fatalf("expected the /8 to match outside the /16, got %p want %p", got, broad)
	}
}

func TestAllowedIPsInsertReplacesOwner(t *testing.T) {
	var table AllowedIPs
	first := &Peer{}
	second := &Peer{}

	prefix := mustPrefix(t, "192.168.1.0/24")
	table.Insert(prefix, first)
	table.Insert(prefix, second)

	addr := netip.MustParseAddr("192.168.1.5").As4()
	if got := table.Lookup(addr[:]); got != second {
		t.Fatalf("re-inserting the same prefix should move ownership: got %p want %p", got, second)
	}

	var sawPrefix netip.Prefix
	count := 0
	table.EntriesForPeer(first, func(p netip.Prefix) bool {
		count++
		sawPrefix = p
		return true
	})
	if count != 0 {
		t.Fatalf("first peer should have no remaining entries, got %d (%v)", count, sawPrefix)
	}
}

func TestAllowedIPsRemove(t *testing.T) {
	var table AllowedIPs
	peerA := &Peer{}

	prefix := mustPrefix(t, "172.16.0.0/16")
	table.Insert(prefix, peerA)

	addr := netip.MustParseAddr("172.16.5.5").As4()
	if got := table.Lookup(addr[:]); got != peerA {
		t.Fatalf("expected match before removal")
	}

	table.Remove(prefix, peerA)

	if got := table.Lookup(addr[:]); got != nil {
		t.Fatalf("expected no match after removal, got %p", got)
	}
}

func TestAllowedIPsRemoveByPeer(t *testing.T) {
	var table AllowedIPs
	peerA := &Peer{}
	peerB := &Peer{}

	table.Insert(mustPrefix(t, "10.10.0.0/16"), peerA)
	table.Insert(mustPrefix(t, "10.11.0.0/16"), peerA)
	table.Insert(mustPrefix(t, "10.12.0.0/16"), peerB)

	table.RemoveByPeer(peerA)

	a1 := netip.MustParseAddr("10.10.0.1").As4()
	a2 := netip.MustParseAddr("10.11.0.1").As4()
	b1 := netip.MustParseAddr("10.12.0.1").As4()

	if got := table.Lookup(a1[:]); got != nil {
		t.Fatalf("peerA's first prefix should be gone, got %p", got)
	}
	if got := table.Lookup(a2[:]); got != nil {
		t.Fatalf("peerA's second prefix should be gone, got %p", got)
	}
	if got := table.Lookup(b1[:]); got != peerB {
		t.Fatalf("peerB's prefix should be untouched, got %p want %p", got, peerB)
	}
}

func TestAllowedIPsIPv6(t *testing.T) {
	var table AllowedIPs
	peerA := &Peer{}

	table.Insert(mustPrefix(t, "fd00:1234::/32"), peerA)

	addr := netip.MustParseAddr("fd00:1234::1").As16()
	if got := table.Lookup(addr[:]); got != peerA {
		t.Fatalf("IPv6 lookup failed: got %p want %p", got, peerA)
	}

	miss := netip.MustParseAddr("fd00:5678::1").As16()
	if got := table.Lookup(miss[:]); got != nil {
		t.Fatalf("expected no match outside the prefix, got %p", got)
	}
}

func TestAllowedIPsEntriesForPeer(t *testing.T) {
	var table AllowedIPs
	peerA := &Peer{}

	prefixes := []netip.Prefix{
		mustPrefix(t, "10.20.0.0/24"),
		mustPrefix(t, "10.21.0.0/24"),
	}
	for _, p := range prefixes {
		table.Insert(p, peerA)
	}

	seen := make(map[netip.Prefix]bool)
	table.EntriesForPeer(peerA, func(p netip.Prefix) bool {
		seen[p] = true
		return true
	})

	if len(seen) != len(prefixes) {
		t.Fatalf("expected %d entries, got %d", len(prefixes), len(seen))
	}
	for _, p := range prefixes {
		if !seen[p] {
			t.Fatalf("missing expected prefix %v in EntriesForPeer callback", p)
		}
	}
}
