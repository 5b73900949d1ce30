// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package stablehash computes deterministic digests of payload values.
//
// Two structurally equal values always hash to the same digest regardless of
// map insertion order. Digests are lowercase hex BLAKE3-256.
package stablehash

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/telekom/trustcore/pkg/payload"
)

// DigestLength is the length of a hex digest in characters.
const DigestLength = 64

// Canonical returns the canonical JSON bytes that Sum hashes.
func Canonical(v payload.Value) ([]byte, error) {
	return v.Canonical()
}

// Sum returns the hex digest of v's canonical encoding.
func Sum(v payload.Value) (string, error) {
	b, err := v.Canonical()
	if err != nil {
		return "", err
	}
	return SumBytes(b), nil
}

// SumAny converts in with payload.FromAny and hashes the result.
func SumAny(in any) (string, error) {
	v, err := payload.FromAny(in)
	if err != nil {
		return "", err
	}
	return Sum(v)
}

// SumString hashes the raw UTF-8 bytes of s. Used for long-string digests
// where the surrounding JSON quoting is irrelevant.
func SumString(s string) string {
	return SumBytes([]byte(s))
}

// SumBytes hashes b.
func SumBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
