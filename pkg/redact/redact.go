// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package redact masks credentials and digests long text in audit payloads.
package redact

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/stablehash"
)

// Marker replaces the value of every sensitive key.
const Marker = "[REDACTED]"

// DefaultMaxStringLength is the longest string kept verbatim.
const DefaultMaxStringLength = 20

// Digest object fields.
const (
	HashField   = "hash"
	LengthField = "length"
)

// ErrInvalidRules is returned by New for unusable rule sets.
var ErrInvalidRules = errors.New("redact: invalid rules")

// DefaultSensitiveKeys are matched as case-insensitive substrings of a key.
func DefaultSensitiveKeys() []string {
	return []string{
		"authorization",
		"secret",
		"token",
		"password",
		"api_key",
		"apikey",
		"cookie",
		"credential",
		"private_key",
	}
}

// DefaultExemptKeys are usage counters that contain "token" but carry no
// credential.
func DefaultExemptKeys() []string {
	return []string{"max_tokens", "token_count", "input_tokens", "output_tokens", "total_tokens"}
}

// Rules configure a Redactor. Zero values select the defaults; an explicit
// empty, non-nil SensitiveKeys disables key masking.
type Rules struct {
	SensitiveKeys   []string `yaml:"sensitiveKeys" json:"sensitiveKeys,omitempty"`
	ExemptKeys      []string `yaml:"exemptKeys" json:"exemptKeys,omitempty"`
	MaxStringLength int      `yaml:"maxStringLength" json:"maxStringLength,omitempty"`
}

// Redactor applies Rules. It is safe for concurrent use.
type Redactor struct {
	sensitive []string
	exempt    map[string]struct{}
	maxLen    int
}

// Default returns a Redactor with the default rules.
func Default() *Redactor {
	r, _ := New(Rules{})
	return r
}

// New validates rules and builds a Redactor.
func New(rules Rules) (*Redactor, error) {
	if rules.MaxStringLength < 0 {
		return nil, fmt.Errorf("%w: maxStringLength must not be negative, got %d", ErrInvalidRules, rules.MaxStringLength)
	}
	sensitive := rules.SensitiveKeys
	if sensitive == nil {
		sensitive = DefaultSensitiveKeys()
	}
	exempt := rules.ExemptKeys
	if exempt == nil {
		exempt = DefaultExemptKeys()
	}

	r := &Redactor{
		maxLen: rules.MaxStringLength,
		exempt: make(map[string]struct{}, len(exempt)),
	}
	if r.maxLen == 0 {
		r.maxLen = DefaultMaxStringLength
	}
	for _, k := range sensitive {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			return nil, fmt.Errorf("%w: empty sensitive key", ErrInvalidRules)
		}
		r.sensitive = append(r.sensitive, k)
	}
	for _, k := range exempt {
		r.exempt[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	return r, nil
}

// MaxStringLength reports the effective threshold.
func (r *Redactor) MaxStringLength() int { return r.maxLen }

// IsSensitive reports whether values under key are masked.
func (r *Redactor) IsSensitive(key string) bool {
	k := strings.ToLower(key)
	if _, ok := r.exempt[k]; ok {
		return false
	}
	for _, s := range r.sensitive {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a redacted copy of v. Redact(Redact(v)) equals Redact(v).
func (r *Redactor) Redact(v payload.Value) payload.Value {
	switch v.Kind() {
	case payload.KindString:
		s, _ := v.AsString()
		if n := utf8.RuneCountInString(s); n > r.maxLen {
			return Digest(s)
		}
		return v
	case payload.KindMap:
		if r.isOwnDigest(v) {
			return v
		}
		fields, _ := v.AsMap()
		for k, e := range fields {
			if r.IsSensitive(k) {
				fields[k] = payload.String(Marker)
				continue
			}
			fields[k] = r.Redact(e)
		}
		return payload.Map(fields)
	case payload.KindList:
		items, _ := v.AsList()
		for i, e := range items {
			items[i] = r.Redact(e)
		}
		return payload.List(items...)
	default:
		return v
	}
}

// Digest returns the {hash, length} object standing in for s.
func Digest(s string) payload.Value {
	return payload.Map(map[string]payload.Value{
		HashField:   payload.String(stablehash.SumString(s)),
		LengthField: payload.Int(int64(utf8.RuneCountInString(s))),
	})
}

// IsDigest reports whether v has exactly the shape produced by Digest: a
// lowercase hex hash and a non-negative integer length.
func IsDigest(v payload.Value) bool {
	_, ok := digestLength(v)
	return ok
}

// isOwnDigest reports whether v is a digest this Redactor could have
// produced. Anything else is redacted like any other map, so a lookalike
// cannot smuggle a long string through.
func (r *Redactor) isOwnDigest(v payload.Value) bool {
	n, ok := digestLength(v)
	return ok && n > r.maxLen
}

func digestLength(v payload.Value) (int, bool) {
	if v.Kind() != payload.KindMap || v.Len() != 2 {
		return 0, false
	}
	h, ok := v.Get(HashField)
	if !ok {
		return 0, false
	}
	hs, ok := h.AsString()
	if !ok || !isLowerHex(hs, stablehash.DigestLength) {
		return 0, false
	}
	l, ok := v.Get(LengthField)
	if !ok {
		return 0, false
	}
	n, ok := l.AsNumber()
	if !ok || n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func isLowerHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
