/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package config

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(fill byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestParseMinimalInterface(t *testing.T) {
	priv := testKey(0x01)
	pub := testKey(0x02)
	src := "[Interface]\nPrivateKey = " + priv + "\nListenPort = 51820\n\n" +
		"[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 10.0.0.2/32, fd00::2/128\n" +
		"Endpoint = example.com:51821\nPersistentKeepalive = 25\n"

	cfg, err := Parse(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, priv, cfg.Interface.PrivateKey)
	assert.Equal(t, uint16(51820), cfg.Interface.ListenPort)
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, pub, cfg.Peers[0].PublicKey)
	assert.Len(t, cfg.Peers[0].AllowedIPs, 2)
	assert.Equal(t, "example.com:51821", cfg.Peers[0].Endpoint)
	assert.Equal(t, 25, cfg.Peers[0].PersistentKeepalive)
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	priv := testKey(0x03)
	pub := testKey(0x04)
	src := "# a comment\n\n[Interface]\n; another comment\nPrivateKey = " + priv + "\n\n" +
		"[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 10.0.0.3/32\n"

	cfg, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, priv, cfg.Interface.PrivateKey)
}

func TestParseDefaultsPersistentKeepaliveOff(t *testing.T) {
	priv := testKey(0x05)
	pub := testKey(0x06)
	src := "[Interface]\nPrivateKey = " + priv + "\n[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 0.0.0.0/0\n"

	cfg, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, DefaultPersistentKeepalive, cfg.Peers[0].PersistentKeepalive)
}

func TestParseAggregatesMultipleErrors(t *testing.T) {
	src := "[Interface]\nListenPort = not-a-number\n[Bogus]\nfoo = bar\n"

	_, err := Parse(strings.NewReader(src))
	require.Error(t, err)
	// Both the bad ListenPort and the unknown section should surface,
	// not just the first one encountered.
	assert.Contains(t, err.Error(), "ListenPort")
	assert.Contains(t, err.Error(), "unknown section")
}

func TestParseRejectsMissingPrivateKey(t *testing.T) {
	pub := testKey(0x07)
	src := "[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 10.0.0.1/32\n"

	_, err := Parse(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PrivateKey")
}

func TestParseRejectsDuplicatePeer(t *testing.T) {
	priv := testKey(0x08)
	pub := testKey(0x09)
	src := "[Interface]\nPrivateKey = " + priv + "\n" +
		"[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 10.0.0.1/32\n" +
		"[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 10.0.0.2/32\n"

	_, err := Parse(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicates")
}

func TestParseRejectsBadKeyLength(t *testing.T) {
	src := "[Interface]\nPrivateKey = dG9vc2hvcnQ=\n"
	_, err := Parse(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32")
}

func TestUAPIStringRendersHexKeysAndAllowedIPs(t *testing.T) {
	priv := testKey(0x0A)
	pub := testKey(0x0B)
	cfg, err := Parse(strings.NewReader(
		"[Interface]\nPrivateKey = " + priv + "\nListenPort = 51820\nFwMark = 42\n" +
			"[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 10.0.0.2/32\nPersistentKeepalive = 25\n",
	))
	require.NoError(t, err)

	uapi, err := cfg.UAPIString()
	require.NoError(t, err)
	assert.Contains(t, uapi, "private_key=")
	assert.Contains(t, uapi, "listen_port=51820\n")
	assert.Contains(t, uapi, "fwmark=42\n")
	assert.Contains(t, uapi, "public_key=")
	assert.Contains(t, uapi, "allowed_ip=10.0.0.2/32\n")
	assert.Contains(t, uapi, "persistent_keepalive_interval=25\n")
	assert.NotContains(t, uapi, "PrivateKey")
}
