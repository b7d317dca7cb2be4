package irc

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// Fold lowercases a byte using the rfc1459 casemapping, where []\^ are
// the uppercase forms of {}|~.
func Fold(b byte) byte {
	if b >= 'A' && b <= '^' {
		return b | 0x20
	}
	return b
}

// FoldString folds every byte of s.
func FoldString(s string) string {
	buf := []byte(s)
	for i := range buf {
		buf[i] = Fold(buf[i])
	}
	return string(buf)
}

// Equal compares two names under rfc1459 folding.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if Fold(a[i]) != Fold(b[i]) {
			return false
		}
	}
	return true
}

// IsUserPrefix guesses whether a message prefix names a user rather than
// a server. Anything without a dot is a user; with a dot it must look like
// nick!user@host.
func IsUserPrefix(s string) bool {
	if !strings.Contains(s, ".") {
		return true
	}
	return strings.Contains(s, "!") && strings.Contains(s, "@")
}

// SplitPrefix splits nick!user@host. Missing parts come back empty.
func SplitPrefix(prefix string) (nick, user, host string, err error) {
	if !IsUserPrefix(prefix) {
		return "", "", "", protocolError(InvalidPrefix, prefix)
	}
	nuh, err := ircmsg.ParseNUH(prefix)
	if err != nil {
		return "", "", "", protocolError(InvalidPrefix, prefix)
	}
	return nuh.Name, nuh.User, nuh.Host, nil
}

// NormalizeNick reduces a full user mask to its nick. Anything else is
// returned unchanged.
func NormalizeNick(s string) string {
	if !IsUserPrefix(s) {
		return s
	}
	nick, _, _, err := SplitPrefix(s)
	if err != nil {
		return s
	}
	return nick
}

func nickKey(s string) string {
	return FoldString(NormalizeNick(s))
}
