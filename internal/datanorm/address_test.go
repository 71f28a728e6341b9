package datanorm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", "user@example.com", "user@example.com", false},
		{"trims whitespace", "  user@example.com\t", "user@example.com", false},
		{"lowercases domain only", "John.Doe@Example.COM", "John.Doe@example.com", false},
		{"subdomain", "a@mail.example.co.uk", "a@mail.example.co.uk", false},
		{"no at sign", "notanemail", "", true},
		{"empty local", "@incomplete.com", "", true},
		{"empty domain", "user@", "", true},
		{"two at signs", "a@b@example.com", "", true},
		{"dotless domain", "user@localhost", "", true},
		{"trailing dot", "user@example.", "", true},
		{"double dot", "user@example..com", "", true},
		{"inner space", "us er@example.com", "", true},
		{"empty", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidFormat))
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"John.Doe@Example.COM",
		" mixed@Sub.Domain.Org ",
		"UPPER@UPPER.IO",
		"x@y.z",
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		require.NoError(t, err, in)
		twice, err := Normalize(once)
		require.NoError(t, err, once)
		assert.Equal(t, once, twice)
	}
}

func TestDedupKey_CaseInsensitive(t *testing.T) {
	a, err := Normalize("Alice@Example.com")
	require.NoError(t, err)
	b, err := Normalize("alice@EXAMPLE.COM")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "local part case is preserved")
	assert.Equal(t, DedupKey(a), DedupKey(b))
	assert.Equal(t, "alice@example.com", DedupKey(a))
}

func TestMatchesDomain(t *testing.T) {
	assert.True(t, MatchesDomain("spam.com", "spam.com"))
	assert.True(t, MatchesDomain("mail.spam.com", "spam.com"))
	assert.True(t, MatchesDomain("SPAM.COM", "@spam.com"))
	assert.False(t, MatchesDomain("notspam.com", "spam.com"))
	assert.False(t, MatchesDomain("spam.com.evil.io", "spam.com"))
	assert.False(t, MatchesDomain("", "spam.com"))
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("Bob@Example.com"))
	assert.Equal(t, "", Domain("nodomain"))
	assert.Equal(t, "", Domain("trailing@"))
}
