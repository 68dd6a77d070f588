/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"testing"
)

func TestCookieMAC1RoundTrip(t *testing.T) {
	sk, err := newPrivateKey()
	if err != nil {
		t.Fatalf("newPrivateKey: %v", err)
	}
	pk := sk.publicKey()

	var generator CookieGenerator
	var checker CookieChecker
	generator.Init(pk)
	checker.Init(pk)

	packet := make([]byte, MessageInitiationSize)
	generator.AddMacs(packet)

	if !checker.CheckMAC1(packet) {
		t.Fatalf("CheckMAC1 rejected a packet stamped by the matching generator")
	}

	packet[0] ^= 0xff
	if checker.CheckMAC1(packet) {
		t.Fatalf("CheckMAC1 accepted a packet mutated after stamping")
	}
}

func TestCookieReplyRoundTrip(t *testing.T) {
	sk, err := newPrivateKey()
	if err != nil {
		t.Fatalf("newPrivateKey: %v", err)
	}
	pk := sk.publicKey()

	var generator CookieGenerator
	var checker CookieChecker
	generator.Init(pk)
	checker.Init(pk)

	packet := make([]byte, MessageInitiationSize)
	generator.AddMacs(packet)

	src := []byte{192, 168, 1, 1}
	reply, err := checker.CreateReply(packet, 42, src)
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}

	if !generator.ConsumeReply(reply) {
		t.Fatalf("ConsumeReply rejected a reply produced for this generator's own mac1")
	}

	// Once the cookie is consumed, the generator should be able to
	// produce a valid MAC2 on its next packet.
	packet2 := make([]byte, MessageInitiationSize)
	generator.AddMacs(packet2)
	if !checker.CheckMAC2(packet2, src) {
		t.Fatalf("CheckMAC2 rejected a packet stamped using the consumed cookie")
	}
}

func TestCookieReplyWrongMAC1Rejected(t *testing.T) {
	sk, err := newPrivateKey()
	if err != nil {
		t.Fatalf("newPrivateKey: %v", err)
	}
	pk := sk.publicKey()

	var generator CookieGenerator
	var checker CookieChecker
	generator.Init(pk)
	checker.Init(pk)

	packet := make([]byte, MessageInitiationSize)
	generator.AddMacs(packet)

	reply, err := checker.CreateReply(packet, 42, []byte{10, 0, 0, 1})
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}

	// A generator that never saw the corresponding mac1 has nothing
	// to authenticate the reply against.
	var fresh CookieGenerator
	fresh.Init(pk)
	if fresh.ConsumeReply(reply) {
		t.Fatalf("ConsumeReply accepted a reply with no prior mac1 on file")
	}
}

func TestCookieMAC2ExpiresWithoutFreshCookie(t *testing.T) {
	sk, err := newPrivateKey()
	if err != nil {
		t.Fatalf("newPrivateKey: %v", err)
	}
	pk := sk.publicKey()

	var generator CookieGenerator
	var checker CookieChecker
	generator.Init(pk)
	checker.Init(pk)

	packet := make([]byte, MessageInitiationSize)
	generator.AddMacs(packet)

	// No cookie has ever been consumed, so mac2 stays zeroed and
	// CheckMAC2 must refuse it outright (the secret was never set).
	if checker.CheckMAC2(packet, []byte{172, 16, 0, 1}) {
		t.Fatalf("CheckMAC2 accepted a packet with no cookie secret configured")
	}
}
