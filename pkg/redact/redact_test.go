// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/stablehash"
)

func TestRedactMasksAndDigests(t *testing.T) {
	prompt := strings.Repeat("p", 23)
	in := payload.MustFromAny(map[string]any{
		"prompt":        prompt,
		"authorization": "Bearer secret-token",
	})

	out := Default().Redact(in)

	auth, _ := out.Get("authorization")
	s, _ := auth.AsString()
	assert.Equal(t, Marker, s)

	p, ok := out.Get("prompt")
	require.True(t, ok)
	require.True(t, IsDigest(p))
	hash, _ := p.Get(HashField)
	hs, _ := hash.AsString()
	assert.Equal(t, stablehash.SumString(prompt), hs)
	length, _ := p.Get(LengthField)
	n, _ := length.AsNumber()
	assert.Equal(t, float64(23), n)
}

func TestRedactIsIdempotent(t *testing.T) {
	inputs := []any{
		map[string]any{"prompt": strings.Repeat("x", 100), "Api_Key": "k"},
		map[string]any{"nested": map[string]any{"password": map[string]any{"inner": 1}}, "list": []any{strings.Repeat("y", 30), "short"}},
		[]any{map[string]any{"X-Auth-Token": "abc"}, 1, true, nil},
		"a plain string that is long enough to digest",
		map[string]any{"hash": "short", "length": 3},
	}
	r := Default()
	for _, in := range inputs {
		once := r.Redact(payload.MustFromAny(in))
		twice := r.Redact(once)
		assert.True(t, payload.Equal(once, twice), "once=%s twice=%s", once, twice)
	}
}

func TestSensitiveKeyMatching(t *testing.T) {
	r := Default()
	tests := []struct {
		key  string
		want bool
	}{
		{"Authorization", true},
		{"client_secret", true},
		{"refreshToken", true},
		{"DB_PASSWORD", true},
		{"apiKey", true},
		{"max_tokens", false},
		{"output_tokens", false},
		{"prompt", false},
		{"model", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsSensitive(tt.key))
		})
	}
}

func TestSensitiveKeyMaskedRegardlessOfValueType(t *testing.T) {
	out := Default().Redact(payload.MustFromAny(map[string]any{
		"secret": map[string]any{"deep": "value"},
		"token":  42,
	}))
	for _, k := range []string{"secret", "token"} {
		v, _ := out.Get(k)
		s, _ := v.AsString()
		assert.Equal(t, Marker, s, k)
	}
}

func TestShortValuesPassThrough(t *testing.T) {
	in := payload.MustFromAny(map[string]any{"n": 1.5, "b": false, "s": "short", "z": nil})
	out := Default().Redact(in)
	assert.True(t, payload.Equal(in, out))
}

func TestLengthCountsCharactersNotBytes(t *testing.T) {
	r, err := New(Rules{MaxStringLength: 5})
	require.NoError(t, err)

	kept := r.Redact(payload.String("ääääa"))
	assert.Equal(t, payload.KindString, kept.Kind())

	digested := r.Redact(payload.String("ääääää"))
	require.True(t, IsDigest(digested))
	l, _ := digested.Get(LengthField)
	n, _ := l.AsNumber()
	assert.Equal(t, float64(6), n)
}

func TestNewRejectsInvalidRules(t *testing.T) {
	_, err := New(Rules{MaxStringLength: -1})
	assert.ErrorIs(t, err, ErrInvalidRules)

	_, err = New(Rules{SensitiveKeys: []string{" "}})
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func TestEmptySensitiveKeysDisablesMasking(t *testing.T) {
	r, err := New(Rules{SensitiveKeys: []string{}})
	require.NoError(t, err)
	assert.False(t, r.IsSensitive("password"))
}

func TestDigestLookalikesAreStillRedacted(t *testing.T) {
	raw := strings.Repeat("raw prompt text ", 4)
	require.Len(t, raw, stablehash.DigestLength)
	validHash := stablehash.SumString("x")

	tests := []struct {
		name string
		in   map[string]any
	}{
		{name: "raw text in hash", in: map[string]any{"hash": raw, "length": 500}},
		{name: "uppercase hex", in: map[string]any{"hash": strings.ToUpper(validHash), "length": 500}},
		{name: "fractional length", in: map[string]any{"hash": validHash, "length": 30.5}},
		{name: "negative length", in: map[string]any{"hash": validHash, "length": -1}},
		{name: "length within limit", in: map[string]any{"hash": validHash, "length": 3}},
	}
	r := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(payload.MustFromAny(tt.in))
			h, ok := out.Get(HashField)
			require.True(t, ok)
			assert.True(t, IsDigest(h), "hash field should be digested, got %s", h)
		})
	}
}

func TestOwnDigestPassesThrough(t *testing.T) {
	d := Digest(strings.Repeat("q", 40))
	out := Default().Redact(payload.MustFromAny(map[string]any{"prompt": d}))
	p, _ := out.Get("prompt")
	assert.True(t, payload.Equal(d, p))
}
