/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// IndexTableEntry is the value a receiver index resolves to. At most
// one of handshake/keypair is non-nil: the index identifies either a
// handshake in progress or a confirmed session key, never both.
type IndexTableEntry struct {
	peer      *Peer
	handshake *Handshake
	keypair   *Keypair
}

type IndexTable struct {
	sync.RWMutex
	table map[uint32]IndexTableEntry
}

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:]), err
}

func (table *IndexTable) Init() {
	table.Lock()
	defer table.Unlock()
	table.table = make(map[uint32]IndexTableEntry)
}

func (table *IndexTable) Delete(index uint32) {
	table.Lock()
	defer table.Unlock()
	delete(table.table, index)
}

// NewIndexForHandshake allocates a process-global-unique receiver
// index for a handshake in progress. It does not release an index the
// handshake previously held; callers Delete that one themselves.
func (table *IndexTable) NewIndexForHandshake(peer *Peer, handshake *Handshake) (uint32, error) {
	for {
		index, err := randUint32()
		if err != nil {
			return index, err
		}
		table.Lock()
		_, ok := table.table[index]
		if ok {
			table.Unlock()
			continue
		}
		table.table[index] = IndexTableEntry{
			peer:      peer,
			handshake: handshake,
			keypair:   nil,
		}
		table.Unlock()
		return index, nil
	}
}

// SwapIndexForKeypair promotes an index from identifying a handshake
// to identifying the keypair derived from it, without reallocating
// the index value itself (the remote party already has it).
func (table *IndexTable) SwapIndexForKeypair(index uint32, keypair *Keypair) {
	table.Lock()
	defer table.Unlock()
	entry, ok := table.table[index]
	if !ok {
		return
	}
	table.table[index] = IndexTableEntry{
		peer:      entry.peer,
		handshake: nil,
		keypair:   keypair,
	}
}

func (table *IndexTable) Lookup(index uint32) IndexTableEntry {
	table.RLock()
	defer table.RUnlock()
	return table.table[index]
}
