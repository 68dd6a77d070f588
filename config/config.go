/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package config parses the wg-quick-style [Interface]/[Peer] file
// format into a validated, in-memory Config, and renders it into the
// hex-keyed UAPI set string device.IpcSet expects.
package config

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const DefaultPersistentKeepalive = 0

type Interface struct {
	PrivateKey string // base64, as read from the file
	ListenPort uint16
	FwMark     uint32
}

type Peer struct {
	PublicKey            string // base64
	PresharedKey         string // base64, optional
	AllowedIPs           []netip.Prefix
	Endpoint             string // host:port, optional
	PersistentKeepalive  int
}

type Config struct {
	Interface Interface
	Peers     []Peer
}

// Parse reads a [Interface]/[Peer] config file from r. Malformed
// stanzas are collected rather than aborting at the first one, so
// Parse reports every problem in the file in a single pass.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	var errs *multierror.Error

	section := ""
	var peer *Peer

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			switch section {
			case "interface":
			case "peer":
				cfg.Peers = append(cfg.Peers, Peer{PersistentKeepalive: DefaultPersistentKeepalive})
				peer = &cfg.Peers[len(cfg.Peers)-1]
			default:
				errs = multierror.Append(errs, fmt.Errorf("line %d: unknown section %q", lineNo, section))
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("line %d: expected key = value, got %q", lineNo, line))
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch section {
		case "interface":
			err = setInterfaceField(&cfg.Interface, key, value)
		case "peer":
			if peer == nil {
				err = fmt.Errorf("field %q outside any [Peer] section", key)
			} else {
				err = setPeerField(peer, key, value)
			}
		default:
			err = fmt.Errorf("field %q outside any section", key)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: %w", lineNo, err))
		}
	}
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setInterfaceField(iface *Interface, key, value string) error {
	switch key {
	case "PrivateKey":
		if err := validateBase64Key(value); err != nil {
			return fmt.Errorf("PrivateKey: %w", err)
		}
		iface.PrivateKey = value
	case "ListenPort":
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("ListenPort: %w", err)
		}
		iface.ListenPort = uint16(port)
	case "FwMark":
		if value == "off" {
			iface.FwMark = 0
			return nil
		}
		mark, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("FwMark: %w", err)
		}
		iface.FwMark = uint32(mark)
	default:
		return fmt.Errorf("unknown Interface field %q", key)
	}
	return nil
}

func setPeerField(peer *Peer, key, value string) error {
	switch key {
	case "PublicKey":
		if err := validateBase64Key(value); err != nil {
			return fmt.Errorf("PublicKey: %w", err)
		}
		peer.PublicKey = value
	case "PresharedKey":
		if err := validateBase64Key(value); err != nil {
			return fmt.Errorf("PresharedKey: %w", err)
		}
		peer.PresharedKey = value
	case "AllowedIPs":
		for _, field := range strings.Split(value, ",") {
			prefix, err := netip.ParsePrefix(strings.TrimSpace(field))
			if err != nil {
				return fmt.Errorf("AllowedIPs: %w", err)
			}
			peer.AllowedIPs = append(peer.AllowedIPs, prefix)
		}
	case "Endpoint":
		peer.Endpoint = value
	case "PersistentKeepalive":
		if value == "off" {
			peer.PersistentKeepalive = 0
			return nil
		}
		secs, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("PersistentKeepalive: %w", err)
		}
		peer.PersistentKeepalive = int(secs)
	default:
		return fmt.Errorf("unknown Peer field %q", key)
	}
	return nil
}

func validateBase64Key(value string) error {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("decoded key is %d bytes, want 32", len(raw))
	}
	return nil
}

// Validate reports every structural problem with cfg at once: a
// missing interface private key, and duplicate or malformed peers.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Interface.PrivateKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("[Interface] is missing PrivateKey"))
	}

	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		if p.PublicKey == "" {
			errs = multierror.Append(errs, fmt.Errorf("peer %d is missing PublicKey", i))
			continue
		}
		if seen[p.PublicKey] {
			errs = multierror.Append(errs, fmt.Errorf("peer %d duplicates PublicKey of an earlier peer", i))
		}
		seen[p.PublicKey] = true
	}

	return errs.ErrorOrNil()
}

// UAPIString renders cfg into the hex-keyed textual protocol
// device.IpcSet expects, performing the base64-to-hex key reencoding
// the UAPI wire format requires.
func (c *Config) UAPIString() (string, error) {
	var b strings.Builder

	privHex, err := base64KeyToHex(c.Interface.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("PrivateKey: %w", err)
	}
	fmt.Fprintf(&b, "private_key=%s\n", privHex)
	if c.Interface.ListenPort != 0 {
		fmt.Fprintf(&b, "listen_port=%d\n", c.Interface.ListenPort)
	}
	if c.Interface.FwMark != 0 {
		fmt.Fprintf(&b, "fwmark=%d\n", c.Interface.FwMark)
	}
	fmt.Fprintf(&b, "replace_peers=true\n")

	for _, p := range c.Peers {
		pubHex, err := base64KeyToHex(p.PublicKey)
		if err != nil {
			return "", fmt.Errorf("peer %s: %w", p.PublicKey, err)
		}
		fmt.Fprintf(&b, "public_key=%s\n", pubHex)
		if p.PresharedKey != "" {
			pskHex, err := base64KeyToHex(p.PresharedKey)
			if err != nil {
				return "", fmt.Errorf("peer %s: PresharedKey: %w", p.PublicKey, err)
			}
			fmt.Fprintf(&b, "preshared_key=%s\n", pskHex)
		}
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "endpoint=%s\n", p.Endpoint)
		}
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", p.PersistentKeepalive)
		fmt.Fprintf(&b, "replace_allowed_ips=true\n")
		for _, prefix := range p.AllowedIPs {
			fmt.Fprintf(&b, "allowed_ip=%s\n", prefix.String())
		}
	}

	return b.String(), nil
}

func base64KeyToHex(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("decoded key is %d bytes, want 32", len(raw))
	}
	return hex.EncodeToString(raw), nil
}
