package irc

import (
	"strconv"
	"strings"
	"time"
)

// coreHandler keeps session state in step with the server. Handlers marked
// after run once the user handler has seen the message, so it still finds
// departing users and channels in place.
type coreHandler struct {
	minArgs   int
	needsUser bool
	after     bool
	fn        func(*Client, Message) error
}

func newCoreHandlers() map[string]coreHandler {
	table := map[string]coreHandler{
		RplWelcome:       {0, false, false, (*Client).onWelcome},
		RplISupport:      {1, false, false, (*Client).onISupport},
		RplTopic:         {3, false, false, (*Client).onTopicReply},
		RplTopicWhoTime:  {4, false, false, (*Client).onTopicWhoTime},
		RplChannelModeIs: {3, false, false, (*Client).onChannelModeIs},
		RplCreationTime:  {3, false, false, (*Client).onCreationTime},
		RplWhoReply:      {7, false, false, (*Client).onWhoReply},
		RplNamReply:      {4, false, false, (*Client).onNamReply},
		RplBanList:       {3, false, false, (*Client).onBanList},
		ErrNoSuchChannel: {2, false, false, (*Client).onNoSuchChannel},
		"PING":           {1, false, false, (*Client).onPing},
		"JOIN":           {1, true, false, (*Client).onJoin},
		"PART":           {1, true, true, (*Client).onPart},
		"KICK":           {2, false, true, (*Client).onKick},
		"QUIT":           {0, true, true, (*Client).onQuit},
		"ERROR":          {1, false, false, (*Client).onError},
		"NICK":           {1, true, true, (*Client).onNick},
		"TOPIC":          {2, false, false, (*Client).onTopic},
		"MODE":           {2, false, false, (*Client).onMode},
	}

	folded := make(map[string]coreHandler, len(table))
	for cmd, h := range table {
		folded[FoldString(cmd)] = h
	}
	return folded
}

func (c *Client) onWelcome(msg Message) error {
	c.handler.OnConnect(c)
	return nil
}

// onISupport reads "KEY=VALUE", "KEY" and "-KEY" tokens. The first
// argument is our nick and a final one with spaces is prose.
func (c *Client) onISupport(msg Message) error {
	tokens := msg.Args[1:]
	if n := len(tokens); n > 0 && strings.Contains(tokens[n-1], " ") {
		tokens = tokens[:n-1]
	}

	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "-") {
			c.env.RemoveCapability(tok[1:])
			continue
		}
		name, value, _ := strings.Cut(tok, "=")
		c.env.SetCapability(name, value)
	}
	return nil
}

func (c *Client) onTopicReply(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[1])
	if err != nil {
		return err
	}
	ch.SetTopic(msg.Args[2])
	return nil
}

func (c *Client) onTopicWhoTime(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[1])
	if err != nil {
		return err
	}
	at, err := parseUnix(msg.Args[3])
	if err != nil {
		return err
	}
	ch.SetTopicMeta(msg.Args[2], at)
	return nil
}

func (c *Client) onChannelModeIs(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[1])
	if err != nil {
		return err
	}
	return ch.ApplyModes(msg.Args[2], msg.Args[3:], c.env)
}

func (c *Client) onCreationTime(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[1])
	if err != nil {
		return err
	}
	at, err := parseUnix(msg.Args[2])
	if err != nil {
		return err
	}
	ch.SetCreated(at)
	return nil
}

// onWhoReply handles "<me> <channel> <user> <host> <server> <nick> <flags> :<hops> <real>".
func (c *Client) onWhoReply(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[1])
	if err != nil {
		// WHO for a nick or a channel we left
		return nil
	}

	nick, user, host, flags := msg.Args[5], msg.Args[2], msg.Args[3], msg.Args[6]
	u, err := ch.FindUser(nick)
	if err != nil {
		if u, err = ch.CreateUserParts(nick, user, host); err != nil {
			return err
		}
	} else {
		u.user, u.host = user, host
	}

	for i := 0; i < len(flags); i++ {
		if mode, ok := c.env.ModeForPrefix(flags[i]); ok {
			u.setMode(mode, true)
		}
	}
	return nil
}

// onNamReply handles "<me> <type> <channel> :<names>". Names carry status
// prefixes and, with userhost-in-names, a full mask.
func (c *Client) onNamReply(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[2])
	if err != nil {
		return nil
	}

	for _, name := range strings.Fields(msg.Args[3]) {
		var modes []byte
		for len(name) > 0 {
			mode, ok := c.env.ModeForPrefix(name[0])
			if !ok {
				break
			}
			modes = append(modes, mode)
			name = name[1:]
		}
		if name == "" {
			continue
		}

		u, err := ch.FindUser(name)
		if err != nil {
			if u, err = ch.CreateUser(name); err != nil {
				return err
			}
		}
		for _, m := range modes {
			u.setMode(m, true)
		}
	}
	return nil
}

func (c *Client) onBanList(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[1])
	if err != nil {
		return err
	}
	return ch.ApplyModes("+b", []string{msg.Args[2]}, c.env)
}

func (c *Client) onNoSuchChannel(msg Message) error {
	if c.env.HasChannel(msg.Args[1]) {
		return c.env.removeChannel(msg.Args[1])
	}
	return nil
}

func (c *Client) onPing(msg Message) error {
	c.SendMessage(Pong(msg.Args[0]))
	return nil
}

func (c *Client) onJoin(msg Message) error {
	name := msg.Args[0]

	if c.isSelf(msg.Prefix) {
		ch, err := c.env.createChannel(name)
		if err != nil {
			return err
		}
		if _, err := ch.CreateUser(msg.Prefix); err != nil {
			return err
		}
		c.SendMessage(Who(name))
		c.SendMessage(Mode(name))
		c.SendMessage(Mode(name, "+b"))
		return nil
	}

	ch, err := c.env.FindChannel(name)
	if err != nil {
		return err
	}
	_, err = ch.CreateUser(msg.Prefix)
	return err
}

func (c *Client) onPart(msg Message) error {
	if c.isSelf(msg.Prefix) {
		return c.env.removeChannel(msg.Args[0])
	}
	ch, err := c.env.FindChannel(msg.Args[0])
	if err != nil {
		return err
	}
	return ch.RemoveUser(msg.Prefix)
}

func (c *Client) onKick(msg Message) error {
	if c.isSelf(msg.Args[1]) {
		return c.env.removeChannel(msg.Args[0])
	}
	ch, err := c.env.FindChannel(msg.Args[0])
	if err != nil {
		return err
	}
	return ch.RemoveUser(msg.Args[1])
}

func (c *Client) onQuit(msg Message) error {
	if c.isSelf(msg.Prefix) {
		c.doDisconnect()
		return nil
	}
	for _, ch := range c.env.Channels() {
		if ch.HasUser(msg.Prefix) {
			if err := ch.RemoveUser(msg.Prefix); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) onError(msg Message) error {
	c.log.Warn().Str("reason", msg.Args[0]).Msg("server closed the link")
	c.doDisconnect()
	return nil
}

func (c *Client) onNick(msg Message) error {
	newNick := msg.Args[0]
	for _, ch := range c.env.Channels() {
		if ch.HasUser(msg.Prefix) {
			if err := ch.RenameUser(msg.Prefix, newNick); err != nil {
				return err
			}
		}
	}
	if c.isSelf(msg.Prefix) {
		c.nick = newNick
		c.wantNick = newNick
		c.log.Info().Str("nick", newNick).Msg("nick changed")
	}
	return nil
}

func (c *Client) onTopic(msg Message) error {
	ch, err := c.env.FindChannel(msg.Args[0])
	if err != nil {
		return err
	}
	ch.SetTopic(msg.Args[1])
	ch.SetTopicMeta(msg.Prefix, time.Now())
	return nil
}

func (c *Client) onMode(msg Message) error {
	target := msg.Args[0]
	if !c.env.IsChannel(target) {
		return nil
	}
	ch, err := c.env.FindChannel(target)
	if err != nil {
		return err
	}
	return ch.ApplyModes(msg.Args[1], msg.Args[2:], c.env)
}

func parseUnix(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, protocolError(InvalidMessage, "bad timestamp "+s)
	}
	return time.Unix(secs, 0), nil
}
