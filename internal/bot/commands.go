package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalnet/luna/internal/irc"
	"github.com/dalnet/luna/internal/storage"
)

// request is one command addressed to the bot
type request struct {
	c       *irc.Client
	from    string // full nick!user@host
	nick    string
	channel string // empty for private messages
	cmd     string
	args    []string
}

// reply answers in the channel the request came from, or privately.
func (r *request) reply(text string) {
	if r.channel != "" {
		r.c.SendMessage(irc.Response(r.channel, r.nick, text))
		return
	}
	r.c.SendMessage(irc.Privmsg(r.nick, text))
}

// parseRequest picks a command out of a PRIVMSG. Private messages are
// commands as-is; in a channel the line must start with "<nick>:" or
// "<nick>,".
func (b *Bot) parseRequest(c *irc.Client, from, target, text string) (*request, bool) {
	req := &request{c: c, from: from, nick: irc.NormalizeNick(from)}

	if c.Environment().IsChannel(target) {
		me := c.Nick()
		if len(text) <= len(me) || !irc.Equal(text[:len(me)], me) {
			return nil, false
		}
		if sep := text[len(me)]; sep != ':' && sep != ',' {
			return nil, false
		}
		text = text[len(me)+1:]
		req.channel = target
	} else if !c.IsSelf(target) {
		return nil, false
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, false
	}
	req.cmd = strings.ToLower(strings.TrimPrefix(fields[0], "!"))
	req.args = fields[1:]
	return req, true
}

func (b *Bot) handleCommand(req *request) {
	switch req.cmd {
	case "help":
		b.cmdHelp(req)
	case "version":
		b.cmdVersion(req)
	case "channels":
		b.cmdChannels(req)
	case "stats":
		b.cmdStats(req)
	case "join":
		b.owner(req, b.cmdJoin)
	case "part":
		b.owner(req, b.cmdPart)
	case "nick":
		b.owner(req, b.cmdNick)
	case "quit":
		b.owner(req, b.cmdQuit)
	}
}

// owner runs fn only for configured owners, auditing every attempt.
func (b *Bot) owner(req *request, fn func(*request)) {
	line := strings.TrimSpace(req.cmd + " " + strings.Join(req.args, " "))
	if !b.isOwner(req.from) {
		req.reply("Sorry, only my owners can use " + req.cmd)
		b.recordAudit(req.from, "DENIED - "+line)
		b.log.Warn().Str("from", req.from).Str("command", line).Msg("owner command refused")
		return
	}
	b.recordAudit(req.from, line)
	b.log.Info().Str("from", req.from).Str("command", line).Msg("owner command")
	fn(req)
}

func (b *Bot) cmdHelp(req *request) {
	req.reply("Commands: help, version, channels, stats")
	if b.isOwner(req.from) {
		req.reply("Owner commands: join <#channel> [key], part <#channel> [reason], nick <newnick>, quit [reason]")
	}
}

func (b *Bot) cmdVersion(req *request) {
	req.reply(fmt.Sprintf("luna version %s, built %s, commit %s", Version, BuildDate, GitCommit))
}

func (b *Bot) cmdChannels(req *request) {
	channels := req.c.Environment().Channels()
	if len(channels) == 0 {
		req.reply("I'm not in any channels")
		return
	}
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, fmt.Sprintf("%s (%d)", ch.Name(), len(ch.Users())))
	}
	req.reply("I'm in " + strings.Join(names, ", "))
}

func (b *Bot) cmdStats(req *request) {
	s := req.c.Stats()
	uptime := time.Since(b.started).Truncate(time.Second)
	req.reply(fmt.Sprintf("Up %s, %d connects, %d lines in, %d lines out (%d bytes), %d protocol faults",
		uptime, s.Connects, s.LinesReceived, s.LinesSent, s.BytesSent, s.ProtocolFaults))
	if len(b.history) > 0 {
		req.reply("Last event: " + b.history[0])
	}
}

func (b *Bot) cmdJoin(req *request) {
	if len(req.args) < 1 || !req.c.Environment().IsChannel(req.args[0]) {
		req.reply("Usage: join <#channel> [key]")
		return
	}
	key := ""
	if len(req.args) > 1 {
		key = req.args[1]
	}
	b.joinChannel(req.c, req.from, req.args[0], key)
	req.reply("Joining " + req.args[0])
}

// joinChannel joins and remembers the channel for the next connection.
func (b *Bot) joinChannel(c *irc.Client, by, name, key string) {
	c.SendMessage(irc.Join(name, key))
	b.log.Info().Str("channel", name).Str("by", by).Msg("joining")

	if b.isAutoJoin(name) {
		return
	}
	for i, ch := range b.channels {
		if irc.Equal(ch.Name, name) {
			b.channels[i].Key = key
			b.saveChannels()
			return
		}
	}
	b.channels = append(b.channels, storage.Channel{Name: name, Key: key})
	b.saveChannels()
}

func (b *Bot) cmdPart(req *request) {
	if len(req.args) < 1 {
		req.reply("Usage: part <#channel> [reason]")
		return
	}
	name := req.args[0]
	reason := strings.Join(req.args[1:], " ")
	req.c.SendMessage(irc.Part(name, reason))

	for i, ch := range b.channels {
		if irc.Equal(ch.Name, name) {
			b.channels = append(b.channels[:i], b.channels[i+1:]...)
			b.saveChannels()
			break
		}
	}
	if req.channel == "" || !irc.Equal(req.channel, name) {
		req.reply("Leaving " + name)
	}
}

func (b *Bot) cmdNick(req *request) {
	if len(req.args) < 1 {
		req.reply("Usage: nick <newnick>")
		return
	}
	req.c.ChangeNick(req.args[0])
	req.reply("Changing nick to " + req.args[0])
}

func (b *Bot) cmdQuit(req *request) {
	reason := strings.Join(req.args, " ")
	if reason == "" {
		reason = "Shutting down"
	}
	b.log.Info().Str("by", req.from).Msg("quit requested")
	req.c.Stop()
	req.c.Disconnect(reason)
}
