// Package bot is a small IRC bot built on the irc session engine. It
// identifies to NickServ, joins its channels, answers CTCP queries and
// runs public and owner-only commands.
package bot

import (
	"fmt"
	"time"

	"github.com/ergochat/irc-go/ircfmt"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dalnet/luna/internal/config"
	"github.com/dalnet/luna/internal/irc"
	"github.com/dalnet/luna/internal/storage"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

const timeFormat = "Mon Jan 02, 2006 at 15:04:05 GMT"

// Bot holds the bot's persistent state. Its callbacks run on the session
// loop goroutine and must not be called from anywhere else.
type Bot struct {
	cfg *config.Config
	log zerolog.Logger

	// ctcp throttles CTCP replies so a flood can't drain the send queue
	ctcp    *rate.Limiter
	started time.Time

	audit    []string
	history  []string
	channels []storage.Channel
}

// New loads the bot's saved state from cfg.DataDir. Unreadable files are
// logged and treated as empty.
func New(cfg *config.Config, logger zerolog.Logger) (*Bot, error) {
	if err := storage.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	b := &Bot{
		cfg:     cfg,
		log:     logger,
		ctcp:    rate.NewLimiter(rate.Every(2*time.Second), 3),
		started: time.Now(),
	}

	var err error
	if b.audit, err = storage.LoadAudit(cfg.DataDir); err != nil {
		b.log.Warn().Err(err).Msg("could not load audit log")
	}
	if b.history, err = storage.LoadHistory(cfg.DataDir); err != nil {
		b.log.Warn().Err(err).Msg("could not load connection history")
	}
	if b.channels, err = storage.LoadChannels(cfg.DataDir); err != nil {
		b.log.Warn().Err(err).Msg("could not load channel list")
	}
	return b, nil
}

// Events returns the session handler that drives the bot.
func (b *Bot) Events() *irc.Events {
	return &irc.Events{
		Connect:     b.onConnect,
		Disconnect:  b.onDisconnect,
		Invite:      b.onInvite,
		Kick:        b.onKick,
		Privmsg:     b.onPrivmsg,
		CTCPRequest: b.onCTCPRequest,
	}
}

func (b *Bot) onConnect(c *irc.Client) {
	b.log.Info().Str("server", c.ServerHost()).Str("nick", c.Nick()).Msg("connected to IRC server")
	b.recordHistory(fmt.Sprintf("connected to %s as %s", c.ServerHost(), c.Nick()))

	if b.cfg.NickPass != "" {
		c.SendMessage(irc.Privmsg("NickServ", fmt.Sprintf("IDENTIFY %s %s", b.cfg.Nick, b.cfg.NickPass)))
	}

	for _, name := range b.cfg.AutoJoin {
		c.SendMessage(irc.Join(name))
	}
	for _, ch := range b.channels {
		if b.isAutoJoin(ch.Name) {
			continue
		}
		c.SendMessage(irc.Join(ch.Name, ch.Key))
	}
}

func (b *Bot) onDisconnect(c *irc.Client) {
	b.log.Info().Msg("disconnected from IRC server")
	b.recordHistory("disconnected from " + c.ServerHost())
}

func (b *Bot) onInvite(c *irc.Client, from, channel string) error {
	if !b.isOwner(from) {
		b.log.Info().Str("from", from).Str("channel", channel).Msg("ignoring invite")
		return nil
	}
	b.joinChannel(c, from, channel, "")
	return nil
}

func (b *Bot) onKick(c *irc.Client, ch *irc.Channel, kicker string, kicked *irc.ChannelUser, reason string) error {
	if !c.IsSelf(kicked.Nick()) {
		return nil
	}
	b.log.Warn().Str("channel", ch.Name()).Str("by", kicker).Str("reason", reason).Msg("kicked")
	b.recordAudit(kicker, "kicked me from "+ch.Name())
	return nil
}

func (b *Bot) onPrivmsg(c *irc.Client, from, target, text string) error {
	text = ircfmt.Strip(text)
	b.log.Debug().Str("from", from).Str("target", target).Str("text", text).Msg("privmsg")

	if !irc.IsUserPrefix(from) {
		return nil
	}
	req, ok := b.parseRequest(c, from, target, text)
	if !ok {
		return nil
	}
	b.handleCommand(req)
	return nil
}

func (b *Bot) onCTCPRequest(c *irc.Client, from, target, command, args string) error {
	nick := irc.NormalizeNick(from)
	if !b.ctcp.Allow() {
		b.log.Debug().Str("from", from).Str("ctcp", command).Msg("dropping CTCP, rate limited")
		return nil
	}

	switch command {
	case "VERSION":
		c.SendMessage(irc.CTCPResponse(nick, "VERSION", b.versionReply()))
	case "PING":
		if args == "" {
			c.SendMessage(irc.CTCPResponse(nick, "PING"))
		} else {
			c.SendMessage(irc.CTCPResponse(nick, "PING", args))
		}
	case "TIME":
		c.SendMessage(irc.CTCPResponse(nick, "TIME", time.Now().Format(time.RFC1123)))
	default:
		return nil
	}
	b.log.Info().Str("from", from).Str("ctcp", command).Msg("answered CTCP")
	return nil
}

func (b *Bot) versionReply() string {
	if b.cfg.VersionReply != "" {
		return b.cfg.VersionReply
	}
	return fmt.Sprintf("luna %s (built %s, commit %s)", Version, BuildDate, GitCommit)
}

func (b *Bot) isAutoJoin(name string) bool {
	for _, ch := range b.cfg.AutoJoin {
		if irc.Equal(ch, name) {
			return true
		}
	}
	return false
}

func (b *Bot) isOwner(prefix string) bool {
	for _, mask := range b.cfg.Owners {
		if matchMask(mask, prefix) {
			return true
		}
	}
	return false
}

func (b *Bot) recordHistory(event string) {
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(timeFormat), event)
	b.history = storage.AddHistory(b.history, entry)
	if err := storage.SaveHistory(b.cfg.DataDir, b.history); err != nil {
		b.log.Error().Err(err).Msg("error saving history")
	}
}

func (b *Bot) recordAudit(hostmask, command string) {
	entry := fmt.Sprintf("%s: %s -> %s", time.Now().UTC().Format(timeFormat), hostmask, command)
	b.audit = storage.AddAudit(b.audit, entry)
	if err := storage.SaveAudit(b.cfg.DataDir, b.audit); err != nil {
		b.log.Error().Err(err).Msg("error saving audit log")
	}
}

func (b *Bot) saveChannels() {
	if err := storage.SaveChannels(b.cfg.DataDir, b.channels); err != nil {
		b.log.Error().Err(err).Msg("error saving channel list")
	}
}
