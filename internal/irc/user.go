package irc

import "strings"

// ChannelUser is one member of a channel. The uid survives nick changes
// and is unique within the channel.
type ChannelUser struct {
	uid   uint64
	nick  string
	user  string
	host  string
	modes map[byte]bool
}

// UID is the channel-local id assigned on join.
func (u *ChannelUser) UID() uint64 { return u.uid }

// Nick is the user's current nick.
func (u *ChannelUser) Nick() string { return u.nick }

// User is the ident part of the prefix, empty until seen.
func (u *ChannelUser) User() string { return u.user }

// Host is the host part of the prefix, empty until seen.
func (u *ChannelUser) Host() string { return u.host }

// Prefix rebuilds nick!user@host from what we know.
func (u *ChannelUser) Prefix() string {
	return u.nick + "!" + u.user + "@" + u.host
}

// HasMode reports whether a status flag such as 'o' is set.
func (u *ChannelUser) HasMode(flag byte) bool {
	return u.modes[flag]
}

// Modes returns the set status flags in the order given by prefixModes.
func (u *ChannelUser) Modes(prefixModes string) string {
	var b strings.Builder
	for i := 0; i < len(prefixModes); i++ {
		if u.modes[prefixModes[i]] {
			b.WriteByte(prefixModes[i])
		}
	}
	return b.String()
}

func (u *ChannelUser) setMode(flag byte, on bool) {
	if on {
		u.modes[flag] = true
		return
	}
	delete(u.modes, flag)
}

// Matches reports whether the user has the given nick or mask.
func (u *ChannelUser) Matches(nickOrMask string) bool {
	return Equal(NormalizeNick(nickOrMask), u.nick)
}
