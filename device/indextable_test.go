/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"testing"
)

func TestIndexTableAllocationIsUnique(t *testing.T) {
	var table IndexTable
	table.Init()

	peer := &Peer{}
	handshake := &Handshake{}

	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		index, err := table.NewIndexForHandshake(peer, handshake)
		if err != nil {
			t.Fatalf("NewIndexForHandshake: %v", err)
		}
		if seen[index] {
			t.Fatalf("index %d allocated twice", index)
		}
		seen[index] = true
	}
}

func TestIndexTableLookupAndDelete(t *testing.T) {
	var table IndexTable
	table.Init()

	peer := &Peer{}
	handshake := &Handshake{}

	index, err := table.NewIndexForHandshake(peer, handshake)
	if err != nil {
		t.Fatalf("NewIndexForHandshake: %v", err)
	}

	entry := table.Lookup(index)
	if entry.peer != peer || entry.handshake != handshake || entry.keypair != nil {
		t.Fatalf("unexpected entry after allocation: %+v", entry)
	}

	table.Delete(index)
	entry = table.Lookup(index)
	if entry.peer != nil || entry.handshake != nil || entry.keypair != nil {
		t.Fatalf("expected zero entry after delete, got %+v", entry)
	}
}

func TestIndexTableSwapToKeypair(t *testing.T) {
	var table IndexTable
	table.Init()

	peer := &Peer{}
	handshake := &Handshake{}
	keypair := &Keypair{}

	index, err := table.NewIndexForHandshake(peer, handshake)
	if err != nil {
		t.Fatalf("NewIndexForHandshake: %v", err)
	}

	table.SwapIndexForKeypair(index, keypair)

	entry := table.Lookup(index)
	if entry.peer != peer {
		t.Fatalf("swap should preserve the owning peer, got %+v", entry)
	}
	if entry.handshake != nil {
		t.Fatalf("swap should clear the handshake reference, got %+v", entry)
	}
	if entry.keypair != keypair {
		t.Fatalf("swap should attach the new keypair, got %+v", entry)
	}
}

func TestIndexTableSwapOnMissingIndexIsNoop(t *testing.T) {
	var table IndexTable
	table.Init()

	// An index that was never allocated: swapping should not create
	// a phantom entry.
	table.SwapIndexForKeypair(0xdeadbeef, &Keypair{})

	entry := table.Lookup(0xdeadbeef)
	if entry.peer != nil || entry.keypair != nil {
		t.Fatalf("expected no entry for an unallocated index, got %+v", entry)
	}
}
