/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2023 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
)

type (
	NoisePublicKey    [NoisePublicKeySize]byte
	NoisePrivateKey   [NoisePrivateKeySize]byte
	NoisePresharedKey [NoisePresharedKeySize]byte
	NoiseNonce        uint64 // padded to 12 bytes
)

func (key NoisePrivateKey) IsZero() bool {
	var zero NoisePrivateKey
	return key.Equals(zero)
}

func (key NoisePrivateKey) Equals(tar NoisePrivateKey) bool {
	return subtle.ConstantTimeCompare(key[:], tar[:]) == 1
}

func loadHexKey(dst []byte, src string) error {
	decoded, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	if len(decoded) != len(dst) {
		return errors.New("invalid length of hex-encoded key")
	}
	copy(dst, decoded)
	return nil
}

// FromHex decodes src as a hex-encoded private key and clamps it; an
// all-zero key is clamped like any other.
func (key *NoisePrivateKey) FromHex(src string) error {
	if err := loadHexKey(key[:], src); err != nil {
		return err
	}
	key.clamp()
	return nil
}

// FromMaybeZeroHex is like FromHex but leaves an all-zero key as it
// is, unclamped, since the UAPI protocol uses the all-zero key to mean
// "leave the private key unset".
func (key *NoisePrivateKey) FromMaybeZeroHex(src string) error {
	if err := loadHexKey(key[:], src); err != nil {
		return err
	}
	if !key.IsZero() {
		key.clamp()
	}
	return nil
}

func (key *NoisePrivateKey) clamp() {
	key[0] &= 248
	key[31] = (key[31] & 127) | 64
}

func newPrivateKey() (sk NoisePrivateKey, err error) {
	_, err = rand.Read(sk[:])
	sk.clamp()
	return
}

func (sk *NoisePrivateKey) publicKey() (pk NoisePublicKey) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarBaseMult(apk, ask)
	return
}

var errInvalidPublicKey = errors.New("invalid public key")

func (sk *NoisePrivateKey) sharedSecret(pk NoisePublicKey) (ss [NoisePublicKeySize]byte, err error) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarMult(&ss, ask, apk)
	if isZero(ss[:]) {
		return ss, errInvalidPublicKey
	}
	return ss, nil
}

func (key NoisePublicKey) IsZero() bool {
	var zero NoisePublicKey
	return key.Equals(zero)
}

func (key NoisePublicKey) Equals(tar NoisePublicKey) bool {
	return subtle.ConstantTimeCompare(key[:], tar[:]) == 1
}

// FromHex decodes src as a hex-encoded public key. Unlike the private
// key variant this never clamps: public keys are received from a
// peer, not generated locally.
func (key *NoisePublicKey) FromHex(src string) error {
	return loadHexKey(key[:], src)
}

// FromHex decodes src as a hex-encoded preshared key. The all-zero
// value is valid here: it means "no preshared key configured".
func (key *NoisePresharedKey) FromHex(src string) error {
	return loadHexKey(key[:], src)
}

// KDF1, KDF2, KDF3 implement the WireGuard KDF as described in the
// Noise protocol framework, extended to output up to 3 derived keys
// from a chaining key and optional input material, using HMAC-Blake2s.
func KDF1(t0 *[blake2s.Size]byte, key, input []byte) {
	KDF(t0, nil, nil, key, input)
}

func KDF2(t0, t1 *[blake2s.Size]byte, key, input []byte) {
	KDF(t0, t1, nil, key, input)
}

func KDF3(t0, t1, t2 *[blake2s.Size]byte, key, input []byte) {
	KDF(t0, t1, t2, key, input)
}

func KDF(t0, t1, t2 *[blake2s.Size]byte, key, input []byte) {
	var prk [blake2s.Size]byte
	hmac1 := hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key)
	hmac1.Write(input)
	hmac1.Sum(prk[:0])

	hmac2 := hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, prk[:])
	hmac2.Write([]byte{0x1})
	hmac2.Sum(t0[:0])

	if t1 == nil {
		setZero(prk[:])
		return
	}

	hmac2.Reset()
	hmac2.Write(t0[:])
	hmac2.Write([]byte{0x2})
	hmac2.Sum(t1[:0])

	if t2 == nil {
		setZero(prk[:])
		return
	}

	hmac2.Reset()
	hmac2.Write(t1[:])
	hmac2.Write([]byte{0x3})
	hmac2.Sum(t2[:0])

	setZero(prk[:])
}

func isZero(val []byte) bool {
	acc := 1
	for _, b := range val {
		acc &= subtle.ConstantTimeByteEq(b, 0)
	}
	return acc == 1
}

// setZero clears a secret from memory. It does not prevent the
// garbage collector from having made earlier copies, but it limits
// the lifetime of key material in the common path.
func setZero(arr []byte) {
	for i := range arr {
		arr[i] = 0
	}
}
