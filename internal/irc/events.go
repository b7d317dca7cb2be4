package irc

import "strings"

// Events is a Handler that decodes common commands into typed callbacks.
// Leave a field nil to ignore that event.
//
// Callbacks run while the session state still reflects the event's
// origin: Join sees the new member, Part, Kick and Quit still see the
// departing one, and Nick runs before the rename.
type Events struct {
	Connect    func(c *Client)
	Disconnect func(c *Client)
	Idle       func(c *Client)

	// Raw sees every message before any decoded callback.
	Raw func(c *Client, msg Message) error

	Invite func(c *Client, from, channel string) error
	Join   func(c *Client, ch *Channel, user *ChannelUser) error
	Part   func(c *Client, ch *Channel, user *ChannelUser, reason string) error
	Kick   func(c *Client, ch *Channel, kicker string, kicked *ChannelUser, reason string) error
	Quit   func(c *Client, who, reason string) error
	Nick   func(c *Client, oldNick, newNick string) error
	Topic  func(c *Client, ch *Channel, setter, topic string) error

	Privmsg      func(c *Client, from, target, text string) error
	Notice       func(c *Client, from, target, text string) error
	CTCPRequest  func(c *Client, from, target, command, args string) error
	CTCPResponse func(c *Client, from, target, command, args string) error

	// Mode fires once per decoded change, channel or user mode alike.
	Mode func(c *Client, from, target string, change ModeChange) error
}

func (e *Events) OnConnect(c *Client) {
	if e.Connect != nil {
		e.Connect(c)
	}
}

func (e *Events) OnDisconnect(c *Client) {
	if e.Disconnect != nil {
		e.Disconnect(c)
	}
}

func (e *Events) OnIdle(c *Client) {
	if e.Idle != nil {
		e.Idle(c)
	}
}

func (e *Events) OnMessage(c *Client, msg Message) error {
	if e.Raw != nil {
		if err := e.Raw(c, msg); err != nil {
			return err
		}
	}

	switch strings.ToUpper(msg.Command) {
	case "INVITE":
		if e.Invite != nil && len(msg.Args) >= 2 {
			return e.Invite(c, msg.Prefix, msg.Args[1])
		}
	case "JOIN":
		return e.onJoin(c, msg)
	case "PART":
		return e.onPart(c, msg)
	case "KICK":
		return e.onKick(c, msg)
	case "QUIT":
		if e.Quit != nil && msg.Prefix != "" {
			return e.Quit(c, msg.Prefix, msg.Arg(0))
		}
	case "NICK":
		if e.Nick != nil && len(msg.Args) >= 1 {
			return e.Nick(c, msg.Nick(), msg.Args[0])
		}
	case "TOPIC":
		if e.Topic != nil && len(msg.Args) >= 2 {
			if ch, err := c.Environment().FindChannel(msg.Args[0]); err == nil {
				return e.Topic(c, ch, msg.Prefix, msg.Args[1])
			}
		}
	case "PRIVMSG":
		return e.onText(c, msg, e.Privmsg, e.CTCPRequest)
	case "NOTICE":
		return e.onText(c, msg, e.Notice, e.CTCPResponse)
	case "MODE":
		return e.onMode(c, msg)
	}
	return nil
}

func (e *Events) onJoin(c *Client, msg Message) error {
	if e.Join == nil || len(msg.Args) < 1 {
		return nil
	}
	ch, err := c.Environment().FindChannel(msg.Args[0])
	if err != nil {
		return err
	}
	u, err := ch.FindUser(msg.Prefix)
	if err != nil {
		return err
	}
	return e.Join(c, ch, u)
}

func (e *Events) onPart(c *Client, msg Message) error {
	if e.Part == nil || len(msg.Args) < 1 {
		return nil
	}
	ch, err := c.Environment().FindChannel(msg.Args[0])
	if err != nil {
		return err
	}
	u, err := ch.FindUser(msg.Prefix)
	if err != nil {
		return err
	}
	return e.Part(c, ch, u, msg.Arg(1))
}

func (e *Events) onKick(c *Client, msg Message) error {
	if e.Kick == nil || len(msg.Args) < 2 {
		return nil
	}
	ch, err := c.Environment().FindChannel(msg.Args[0])
	if err != nil {
		return err
	}
	u, err := ch.FindUser(msg.Args[1])
	if err != nil {
		return err
	}
	return e.Kick(c, ch, msg.Prefix, u, msg.Arg(2))
}

func (e *Events) onText(c *Client, msg Message,
	text func(*Client, string, string, string) error,
	ctcp func(*Client, string, string, string, string) error) error {
	if len(msg.Args) < 2 {
		return nil
	}
	target, body := msg.Args[0], msg.Args[1]

	if cmd, args, ok := SplitCTCP(body); ok {
		if ctcp != nil {
			return ctcp(c, msg.Prefix, target, cmd, args)
		}
		return nil
	}
	if text != nil {
		return text(c, msg.Prefix, target, body)
	}
	return nil
}

func (e *Events) onMode(c *Client, msg Message) error {
	if e.Mode == nil || len(msg.Args) < 2 {
		return nil
	}
	target := msg.Args[0]

	var changes []ModeChange
	if c.Environment().IsChannel(target) {
		var err error
		changes, err = c.Environment().PartitionModeChanges(msg.Args[1], msg.Args[2:])
		if err != nil {
			return err
		}
	} else {
		changes = userModeChanges(msg.Args[1])
	}

	for _, ch := range changes {
		if err := e.Mode(c, msg.Prefix, target, ch); err != nil {
			return err
		}
	}
	return nil
}

func userModeChanges(modes string) []ModeChange {
	var out []ModeChange
	adding := true
	for i := 0; i < len(modes); i++ {
		switch modes[i] {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			out = append(out, ModeChange{Adding: adding, Flag: modes[i]})
		}
	}
	return out
}
