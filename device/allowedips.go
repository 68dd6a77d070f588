/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"container/list"
	"encoding/binary"
	"errors"
	"math/bits"
	"net"
	"net/netip"
	"sync"
	"unsafe"
)

// parentLink identifies the pointer inside a parent node (or inside
// the AllowedIPs root) that currently holds a reference to some
// child, plus which branch (0 or 1) that pointer is, or 2 for an
// AllowedIPs root slot. It lets insert and remove rewire a node's
// incoming edge without having to walk back down from the root to
// find it.
type parentLink struct {
	slot  **routeNode
	which uint8 // 0 if this is the left child slot, 1 if the right, 2 if a root
}

// routeNode is one entry in a path-compressed binary trie over IPv4
// or IPv6 addresses. Only addresses where the trie must branch get a
// node; everything in between is folded into the bits/cidr prefix a
// node carries, so the tree height tracks the number of distinct
// prefixes rather than the address width.
type routeNode struct {
	peer   *Peer // owning peer when this node is a real prefix; nil for a glue node
	child  [2]*routeNode
	parent parentLink
	cidr   uint8 // prefix length this node represents; meaningful only when peer != nil

	// The single bit position where this node's two children diverge,
	// split into byte index and in-byte shift for fast access.
	bitAtByte  uint8
	bitAtShift uint8

	bits        []byte        // the prefix bits shared by everything under this node
	perPeerElem *list.Element // this node's element in peer.trieEntries, for O(1) removal
}

// sharedPrefixBits returns how many leading bits ip1 and ip2 have in
// common. Insert and lookup use it to find where two addresses first
// diverge.
func sharedPrefixBits(ip1, ip2 []byte) uint8 {
	size := len(ip1)
	if size == net.IPv4len {
		a := binary.BigEndian.Uint32(ip1)
		b := binary.BigEndian.Uint32(ip2)
		x := a ^ b
		return uint8(bits.LeadingZeros32(x))
	} else if size == net.IPv6len {
		a := binary.BigEndian.Uint64(ip1)
		b := binary.BigEndian.Uint64(ip2)
		x := a ^ b
		if x != 0 {
			return uint8(bits.LeadingZeros64(x))
		}
		a = binary.BigEndian.Uint64(ip1[8:])
		b = binary.BigEndian.Uint64(ip2[8:])
		x = a ^ b
		return 64 + uint8(bits.LeadingZeros64(x))
	} else {
		panic("wrong size bit string")
	}
}

func (node *routeNode) linkToPeer() {
	node.perPeerElem = node.peer.trieEntries.PushBack(node)
}

func (node *routeNode) unlinkFromPeer() {
	if node.perPeerElem != nil {
		node.peer.trieEntries.Remove(node.perPeerElem)
		node.perPeerElem = nil
	}
}

// bitAt returns the value (0 or 1) of ip at this node's branch bit.
func (node *routeNode) bitAt(ip []byte) byte {
	return (ip[node.bitAtByte] >> node.bitAtShift) & 1
}

// applyMask clears any bits in node.bits beyond node.cidr, so a
// caller that passed in a non-canonical address (host bits set) still
// produces a correctly masked prefix.
func (node *routeNode) applyMask() {
	mask := net.CIDRMask(int(node.cidr), len(node.bits)*8)
	for i := 0; i < len(mask); i++ {
		node.bits[i] &= mask[i]
	}
}

func (node *routeNode) clearRefs() {
	node.peer = nil
	node.child[0] = nil
	node.child[1] = nil
	node.parent.slot = nil
}

// descend walks from node toward the prefix (ip, cidr), returning the
// deepest node whose own prefix still covers ip. exact reports
// whether that node's prefix is identical to (ip, cidr) rather than
// merely an ancestor of it.
func (node *routeNode) descend(ip []byte, cidr uint8) (parent *routeNode, exact bool) {
	for node != nil && node.cidr <= cidr && sharedPrefixBits(node.bits, ip) >= node.cidr {
		parent = node
		if parent.cidr == cidr {
			exact = true
			return
		}
		bit := node.bitAt(ip)
		node = node.child[bit]
	}
	return
}

// insert adds (ip, cidr) to the trie reached through trie, attributing
// it to peer. An existing node for the identical prefix has its peer
// reassigned; otherwise the trie splits at the point where the new
// prefix and whatever was already there diverge.
func (trie parentLink) insert(ip []byte, cidr uint8, peer *Peer) {
	if *trie.slot == nil {
		node := &routeNode{
			peer:       peer,
			parent:     trie,
			bits:       ip,
			cidr:       cidr,
			bitAtByte:  cidr / 8,
			bitAtShift: 7 - (cidr % 8),
		}
		node.applyMask()
		node.linkToPeer()
		*trie.slot = node
		return
	}

	node, exact := (*trie.slot).descend(ip, cidr)

	if exact {
		node.unlinkFromPeer()
		node.peer = peer
		node.linkToPeer()
		return
	}

	newNode := &routeNode{
		peer:       peer,
		bits:       ip,
		cidr:       cidr,
		bitAtByte:  cidr / 8,
		bitAtShift: 7 - (cidr % 8),
	}
	newNode.applyMask()
	newNode.linkToPeer()

	var down *routeNode
	if node == nil {
		down = *trie.slot
	} else {
		bit := node.bitAt(ip)
		down = node.child[bit]

		if down == nil {
			newNode.parent = parentLink{&node.child[bit], bit}
			node.child[bit] = newNode
			return
		}
	}

	common := sharedPrefixBits(down.bits, ip)
	if common < cidr {
		cidr = common
	}
	parent := node

	if newNode.cidr == cidr {
		// The new prefix is itself an ancestor of what's already
		// there: newNode becomes down's parent directly, no glue
		// node needed.
		bit := newNode.bitAt(down.bits)
		down.parent = parentLink{&newNode.child[bit], bit}
		newNode.child[bit] = down

		if parent == nil {
			newNode.parent = trie
			*trie.slot = newNode
		} else {
			bit := parent.bitAt(newNode.bits)
			newNode.parent = parentLink{&parent.child[bit], bit}
			parent.child[bit] = newNode
		}
		return
	}

	// Neither prefix contains the other: splice in a glue node at
	// their common length to hold both as children.
	node = &routeNode{
		bits:       append([]byte{}, newNode.bits...),
		cidr:       cidr,
		bitAtByte:  cidr / 8,
		bitAtShift: 7 - (cidr % 8),
	}
	node.applyMask()

	bit := node.bitAt(down.bits)
	down.parent = parentLink{&node.child[bit], bit}
	node.child[bit] = down

	bit = node.bitAt(newNode.bits)
	newNode.parent = parentLink{&node.child[bit], bit}
	node.child[bit] = newNode

	if parent == nil {
		node.parent = trie
		*trie.slot = node
	} else {
		bit := parent.bitAt(node.bits)
		node.parent = parentLink{&parent.child[bit], bit}
		parent.child[bit] = node
	}
}

// lookup returns the peer that owns the longest prefix containing ip,
// or nil. It never stops at the first match, since a shorter prefix
// on the path to a leaf can still be shadowed by a longer one deeper
// in the trie.
func (node *routeNode) lookup(ip []byte) *Peer {
	var found *Peer
	size := uint8(len(ip))
	for node != nil && sharedPrefixBits(node.bits, ip) >= node.cidr {
		if node.peer != nil {
			found = node.peer
		}
		if node.bitAtByte == size {
			break
		}
		bit := node.bitAt(ip)
		node = node.child[bit]
	}
	return found
}

// AllowedIPs is the cryptokey routing table: a pair of longest-prefix
// tries, one per IP version, mapping an inner address to the peer
// authorized to use it. Both outbound peer selection and inbound
// source-address validation go through Lookup.
type AllowedIPs struct {
	IPv4  *routeNode
	IPv6  *routeNode
	mutex sync.RWMutex
}

// EntriesForPeer invokes cb for every prefix currently attributed to
// peer, stopping early if cb returns false. It walks peer's own
// linked list of trie nodes rather than scanning the whole trie.
func (table *AllowedIPs) EntriesForPeer(peer *Peer, cb func(prefix netip.Prefix) bool) {
	table.mutex.RLock()
	defer table.mutex.RUnlock()

	for elem := peer.trieEntries.Front(); elem != nil; elem = elem.Next() {
		node := elem.Value.(*routeNode)
		a, _ := netip.AddrFromSlice(node.bits)
		if !cb(netip.PrefixFrom(a, int(node.cidr))) {
			return
		}
	}
}

// remove detaches node from the trie and, where possible, merges its
// now-redundant parent back into the tree so the trie never
// accumulates glue nodes left over from removed prefixes.
func (node *routeNode) remove() {
	node.unlinkFromPeer()
	node.peer = nil

	// A node with two children is still needed as a branch point even
	// with no peer of its own.
	if node.child[0] != nil && node.child[1] != nil {
		return
	}

	bit := 0
	if node.child[0] == nil {
		bit = 1
	}
	child := node.child[bit]

	if child != nil {
		child.parent = node.parent
	}
	*node.parent.slot = child

	if node.child[0] != nil || node.child[1] != nil || node.parent.which > 1 {
		node.clearRefs()
		return
	}

	// node had no children of its own: its parent may now be glue
	// with a single remaining child and no peer, in which case it
	// should be merged away too. parentLink only stores a pointer to
	// the slot inside the parent, not the parent itself, so recover
	// the parent struct from that slot's address.
	parent := (*routeNode)(unsafe.Pointer(uintptr(unsafe.Pointer(node.parent.slot)) - unsafe.Offsetof(node.child) - unsafe.Sizeof(node.child[0])*uintptr(node.parent.which)))

	if parent.peer != nil {
		node.clearRefs()
		return
	}

	child = parent.child[node.parent.which^1]
	if child != nil {
		child.parent = parent.parent
	}
	*parent.parent.slot = child
	node.clearRefs()
	parent.clearRefs()
}

// Remove deletes prefix from the table if and only if it is currently
// attributed to peer exactly (an exact-match prefix owned by a
// different peer is left untouched).
func (table *AllowedIPs) Remove(prefix netip.Prefix, peer *Peer) {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	var node *routeNode
	var exact bool

	if prefix.Addr().Is6() {
		ip := prefix.Addr().As16()
		node, exact = table.IPv6.descend(ip[:], uint8(prefix.Bits()))
	} else if prefix.Addr().Is4() {
		ip := prefix.Addr().As4()
		node, exact = table.IPv4.descend(ip[:], uint8(prefix.Bits()))
	} else {
		panic(errors.New("removing unknown address type"))
	}

	if !exact || node == nil || peer != node.peer {
		return
	}
	node.remove()
}

// RemoveByPeer deletes every prefix currently attributed to peer, for
// use when the peer itself is being removed from the interface.
func (table *AllowedIPs) RemoveByPeer(peer *Peer) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	var next *list.Element
	for elem := peer.trieEntries.Front(); elem != nil; elem = next {
		next = elem.Next()
		elem.Value.(*routeNode).remove()
	}
}

// Insert attributes prefix to peer, splitting or replacing trie nodes
// as needed to keep the longest-prefix-match invariant.
func (table *AllowedIPs) Insert(prefix netip.Prefix, peer *Peer) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	if prefix.Addr().Is6() {
		ip := prefix.Addr().As16()
		parentLink{&table.IPv6, 2}.insert(ip[:], uint8(prefix.Bits()), peer)
	} else if prefix.Addr().Is4() {
		ip := prefix.Addr().As4()
		parentLink{&table.IPv4, 2}.insert(ip[:], uint8(prefix.Bits()), peer)
	} else {
		panic(errors.New("inserting unknown address type"))
	}
}

// Lookup returns the peer authorized for ip under the longest
// inserted prefix that contains it, or nil if none does.
func (table *AllowedIPs) Lookup(ip []byte) *Peer {
	table.mutex.RLock()
	defer table.mutex.RUnlock()
	switch len(ip) {
	case net.IPv6len:
		return table.IPv6.lookup(ip)
	case net.IPv4len:
		return table.IPv4.lookup(ip)
	default:
		panic(errors.New("looking up unknown address type"))
	}
}
