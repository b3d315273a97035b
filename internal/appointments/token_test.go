package appointments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTokens(t *testing.T, at time.Time) *TokenSource {
	t.Helper()
	ts, err := NewTokenSource("shared-secret")
	require.NoError(t, err)
	ts.now = func() time.Time { return at }
	return ts
}

func TestTokenSource_StableWithinPeriod(t *testing.T) {
	at := time.Date(2026, 10, 21, 13, 0, 0, 0, time.UTC)
	ts := fixedTokens(t, at)

	first, err := ts.Token("journey-1")
	require.NoError(t, err)
	assert.Len(t, first, 8)

	ts.now = func() time.Time { return at.Add(20 * time.Second) }
	again, err := ts.Token("journey-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := ts.Token("journey-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestTokenSource_Validate(t *testing.T) {
	at := time.Date(2026, 10, 21, 13, 0, 0, 0, time.UTC)
	ts := fixedTokens(t, at)
	token, err := ts.Token("journey-1")
	require.NoError(t, err)

	ts.now = func() time.Time { return at.Add(30 * time.Second) }
	assert.True(t, ts.Validate("journey-1", token))
	assert.False(t, ts.Validate("journey-2", token))

	ts.now = func() time.Time { return at.Add(5 * time.Minute) }
	assert.False(t, ts.Validate("journey-1", token))
}

func TestTokenSource_DependsOnSecret(t *testing.T) {
	at := time.Date(2026, 10, 21, 13, 0, 0, 0, time.UTC)
	a := fixedTokens(t, at)
	b, err := NewTokenSource("other-secret")
	require.NoError(t, err)
	b.now = a.now

	ta, _ := a.Token("journey-1")
	tb, _ := b.Token("journey-1")
	assert.NotEqual(t, ta, tb)

	_, err = NewTokenSource("")
	assert.Error(t, err)
}
