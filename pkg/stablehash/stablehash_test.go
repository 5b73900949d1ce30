// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package stablehash

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/trustcore/pkg/payload"
)

func TestSumIgnoresKeyOrder(t *testing.T) {
	a := payload.Value{}.With("x", payload.Int(1)).With("y", payload.String("two"))
	b := payload.Value{}.With("y", payload.String("two")).With("x", payload.Int(1))

	ha, err := Sum(a)
	require.NoError(t, err)
	hb, err := Sum(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, DigestLength)
}

func TestSumDistinguishesValues(t *testing.T) {
	h1, err := SumAny(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := SumAny(map[string]any{"a": 2})
	require.NoError(t, err)
	h3, err := SumAny([]any{"a", 1})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestSumIsStableAcrossCalls(t *testing.T) {
	in := map[string]any{"nested": map[string]any{"list": []any{1, "b", nil, true}}}
	first, err := SumAny(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := SumAny(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSumRejectsNonFinite(t *testing.T) {
	_, err := SumAny(map[string]any{"n": math.Inf(-1)})
	assert.ErrorIs(t, err, payload.ErrUnsupported)
}

func TestSumString(t *testing.T) {
	assert.Equal(t, SumString("hello"), SumBytes([]byte("hello")))
	assert.NotEqual(t, SumString("hello"), SumString("hello "))
	assert.Len(t, SumString(""), DigestLength)
}
