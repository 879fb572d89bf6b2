package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		code, err := Generate()
		require.NoError(t, err)
		require.True(t, WellFormed(code), "code %q", code)
	}
}

func TestIssueAndMatch(t *testing.T) {
	t.Parallel()

	g := Gate{Cost: bcrypt.MinCost}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	c, err := g.Issue(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), c.ExpiresAt)
	assert.NotEqual(t, c.Code, c.Hash)
	assert.True(t, Match(c.Hash, c.Code))

	wrong := "000000"
	if c.Code == wrong {
		wrong = "111111"
	}
	assert.False(t, Match(c.Hash, wrong))
}

func TestHashIsSalted(t *testing.T) {
	t.Parallel()

	g := Gate{Cost: bcrypt.MinCost}
	a, err := g.Hash("123456")
	require.NoError(t, err)
	b, err := g.Hash("123456")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, Match(a, "123456"))
	assert.True(t, Match(b, "123456"))
}

func TestWellFormed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{"", false},
		{"١٢٣٤٥٦", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WellFormed(tt.code), "code %q", tt.code)
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	exp := time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC)
	assert.False(t, Expired(exp, exp))
	assert.False(t, Expired(exp, exp.Add(-time.Second)))
	assert.True(t, Expired(exp, exp.Add(time.Second)))
}
