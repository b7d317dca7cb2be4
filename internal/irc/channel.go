package irc

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Topic is a channel topic and who set it
type Topic struct {
	Text  string
	SetBy string
	SetAt time.Time
}

type modeEntry struct {
	flag byte
	arg  string
}

// Channel tracks a channel we are in: its members, modes and topic.
// Mode classification comes from the Environment passed to ApplyModes.
type Channel struct {
	name    string
	created time.Time
	topic   Topic
	modes   []modeEntry
	users   map[string]*ChannelUser
	nextUID uint64
}

func newChannel(name string) *Channel {
	return &Channel{
		name:  name,
		users: make(map[string]*ChannelUser),
	}
}

func (c *Channel) Name() string       { return c.name }
func (c *Channel) Created() time.Time { return c.created }
func (c *Channel) Topic() Topic       { return c.topic }

// SetCreated records RPL_CREATIONTIME.
func (c *Channel) SetCreated(t time.Time) { c.created = t }

// SetTopic replaces the topic text.
func (c *Channel) SetTopic(text string) { c.topic.Text = text }

// SetTopicMeta records who set the topic and when.
func (c *Channel) SetTopicMeta(setBy string, at time.Time) {
	c.topic.SetBy = NormalizeNick(setBy)
	c.topic.SetAt = at
}

// ApplyModes applies a mode string and its arguments.
func (c *Channel) ApplyModes(modes string, args []string, env *Environment) error {
	changes, err := env.PartitionModeChanges(modes, args)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		if ch.Adding {
			err = c.setMode(ch, env)
		} else {
			err = c.unsetMode(ch, env)
		}
		if err != nil {
			return errors.WithMessagef(err, "applying %s to %s", modes, c.name)
		}
	}
	return nil
}

func (c *Channel) setMode(ch ModeChange, env *Environment) error {
	switch env.ModeArgumentType(ch.Flag) {
	case RequiredUserList:
		for _, m := range c.modes {
			if m.flag == ch.Flag && Equal(m.arg, ch.Argument) {
				return nil
			}
		}
		c.modes = append(c.modes, modeEntry{ch.Flag, ch.Argument})
	case RequiredUser:
		u, err := c.FindUser(ch.Argument)
		if err != nil {
			return err
		}
		u.setMode(ch.Flag, true)
	default:
		c.eraseMode(ch.Flag)
		c.modes = append(c.modes, modeEntry{ch.Flag, ch.Argument})
	}
	return nil
}

func (c *Channel) unsetMode(ch ModeChange, env *Environment) error {
	switch env.ModeArgumentType(ch.Flag) {
	case RequiredUserList:
		for i, m := range c.modes {
			if m.flag == ch.Flag && Equal(m.arg, ch.Argument) {
				c.modes = append(c.modes[:i], c.modes[i+1:]...)
				break
			}
		}
	case RequiredUser:
		u, err := c.FindUser(ch.Argument)
		if err != nil {
			return err
		}
		u.setMode(ch.Flag, false)
	default:
		c.eraseMode(ch.Flag)
	}
	return nil
}

func (c *Channel) eraseMode(flag byte) {
	kept := c.modes[:0]
	for _, m := range c.modes {
		if m.flag != flag {
			kept = append(kept, m)
		}
	}
	c.modes = kept
}

// Mode returns every argument stored under flag, in insertion order.
func (c *Channel) Mode(flag byte) []string {
	var out []string
	for _, m := range c.modes {
		if m.flag == flag {
			out = append(out, m.arg)
		}
	}
	return out
}

// SimpleMode returns the single value of a non-list mode.
func (c *Channel) SimpleMode(flag byte) (string, error) {
	for _, m := range c.modes {
		if m.flag == flag {
			return m.arg, nil
		}
	}
	return "", protocolError(NoSuchMode, string(flag))
}

// IsModeSet reports whether any entry exists for flag.
func (c *Channel) IsModeSet(flag byte) bool {
	for _, m := range c.modes {
		if m.flag == flag {
			return true
		}
	}
	return false
}

// ModeString renders the non-list modes as "+nt" without arguments.
func (c *Channel) ModeString(env *Environment) string {
	b := []byte{'+'}
	for _, m := range c.modes {
		if env.ModeArgumentType(m.flag) != RequiredUserList {
			b = append(b, m.flag)
		}
	}
	return string(b)
}

// CreateUser adds a member from a nick or nick!user@host prefix.
func (c *Channel) CreateUser(prefix string) (*ChannelUser, error) {
	if !IsUserPrefix(prefix) {
		return nil, protocolError(InvalidPrefix, prefix)
	}
	nick, user, host, err := SplitPrefix(prefix)
	if err != nil {
		return nil, err
	}
	return c.CreateUserParts(nick, user, host)
}

// CreateUserParts adds a member. Adding a nick that is already present
// replaces the old entry.
func (c *Channel) CreateUserParts(nick, user, host string) (*ChannelUser, error) {
	if nick == "" {
		return nil, protocolError(InvalidPrefix, "empty nick")
	}
	c.nextUID++
	u := &ChannelUser{
		uid:   c.nextUID,
		nick:  nick,
		user:  user,
		host:  host,
		modes: make(map[byte]bool),
	}
	c.users[nickKey(nick)] = u
	return u, nil
}

// RenameUser moves a member to a new nick, keeping its uid.
func (c *Channel) RenameUser(oldNick, newNick string) error {
	oldKey := nickKey(oldNick)
	u, ok := c.users[oldKey]
	if !ok {
		return protocolError(NoSuchUser, oldNick)
	}
	delete(c.users, oldKey)
	u.nick = NormalizeNick(newNick)
	c.users[nickKey(newNick)] = u
	return nil
}

// RemoveUser drops a member.
func (c *Channel) RemoveUser(nick string) error {
	key := nickKey(nick)
	if _, ok := c.users[key]; !ok {
		return protocolError(NoSuchUser, nick)
	}
	delete(c.users, key)
	return nil
}

// FindUser looks a member up by nick or full mask.
func (c *Channel) FindUser(nick string) (*ChannelUser, error) {
	u, ok := c.users[nickKey(nick)]
	if !ok {
		return nil, protocolError(NoSuchUser, nick)
	}
	return u, nil
}

// HasUser reports whether nick is a member.
func (c *Channel) HasUser(nick string) bool {
	_, ok := c.users[nickKey(nick)]
	return ok
}

// Users returns the members sorted by uid.
func (c *Channel) Users() []*ChannelUser {
	out := make([]*ChannelUser, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}
