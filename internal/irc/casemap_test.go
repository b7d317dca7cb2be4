package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	assert.Equal(t, byte('a'), Fold('A'))
	assert.Equal(t, byte('{'), Fold('['))
	assert.Equal(t, byte('|'), Fold('\\'))
	assert.Equal(t, byte('}'), Fold(']'))
	assert.Equal(t, byte('~'), Fold('^'))
	assert.Equal(t, byte('_'), Fold('_'))
	assert.Equal(t, byte('#'), Fold('#'))
	assert.Equal(t, "nick{away}", FoldString("NICK[Away]"))
}

func TestEqualMatchesFold(t *testing.T) {
	pairs := [][2]string{
		{"Luna", "luna"},
		{"foo[1]", "FOO{1}"},
		{"a^b", "a~b"},
		{"abc", "abd"},
		{"x_y", "X_Y"},
		{"same", "same"},
	}
	for _, p := range pairs {
		assert.Equal(t, FoldString(p[0]) == FoldString(p[1]), Equal(p[0], p[1]), "%q vs %q", p[0], p[1])
	}
	assert.False(t, Equal("abc", "abcd"))
}

func TestIsUserPrefix(t *testing.T) {
	assert.True(t, IsUserPrefix("nick"))
	assert.True(t, IsUserPrefix("nick!user@host.example.com"))
	assert.False(t, IsUserPrefix("irc.example.net"))
	// a dotted nick without a mask is taken for a server
	assert.False(t, IsUserPrefix("dot.nick"))
	assert.False(t, IsUserPrefix("a.b!c"))
}

func TestSplitPrefix(t *testing.T) {
	nick, user, host, err := SplitPrefix("Nick!~user@host.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Nick", nick)
	assert.Equal(t, "~user", user)
	assert.Equal(t, "host.example.com", host)

	nick, user, host, err = SplitPrefix("bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", nick)
	assert.Empty(t, user)
	assert.Empty(t, host)

	_, _, _, err = SplitPrefix("irc.example.net")
	assert.True(t, IsKind(err, InvalidPrefix))
}

func TestNormalizeNick(t *testing.T) {
	tests := map[string]string{
		"alice":                  "alice",
		"alice!a@example.com":    "alice",
		"irc.example.net":        "irc.example.net",
		"dotted.nick!u@host.net": "dotted.nick",
	}
	for in, want := range tests {
		got := NormalizeNick(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, NormalizeNick(got), "idempotent for %q", in)
	}
}
