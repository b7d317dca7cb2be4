package irc

import "strings"

// Pass sends the connection password before registration.
func Pass(password string) Message { return NewMessage("PASS", password) }

// Nick requests a nick.
func Nick(nick string) Message { return NewMessage("NICK", nick) }

// User builds the USER registration line.
func User(user, realname string) Message {
	return NewMessage("USER", user, "0", "*", realname)
}

// Join optionally takes a channel key.
func Join(channel string, key ...string) Message {
	if len(key) > 0 && key[0] != "" {
		return NewMessage("JOIN", channel, key[0])
	}
	return NewMessage("JOIN", channel)
}

// Part leaves a channel, with an optional reason.
func Part(channel, reason string) Message {
	if reason == "" {
		return NewMessage("PART", channel)
	}
	return NewMessage("PART", channel, reason)
}

// SetTopic sets a channel topic; an empty text clears it.
func SetTopic(channel, text string) Message {
	return NewMessage("TOPIC", channel, text)
}

// Mode queries modes when called with just a target.
func Mode(target string, modes ...string) Message {
	return NewMessage("MODE", append([]string{target}, modes...)...)
}

// Kick removes nick from channel, with an optional reason.
func Kick(channel, nick, reason string) Message {
	if reason == "" {
		return NewMessage("KICK", channel, nick)
	}
	return NewMessage("KICK", channel, nick, reason)
}

// Who lists users matching mask.
func Who(mask string) Message { return NewMessage("WHO", mask) }

// Privmsg sends text to a nick or channel.
func Privmsg(target, text string) Message { return NewMessage("PRIVMSG", target, text) }

// Notice is a Privmsg that must never be answered automatically.
func Notice(target, text string) Message { return NewMessage("NOTICE", target, text) }

// Response addresses nick by name in target, the usual channel reply.
func Response(target, nick, text string) Message {
	if Equal(target, nick) {
		return Privmsg(target, text)
	}
	return Privmsg(target, nick+": "+text)
}

// CTCPRequest wraps a CTCP query in a PRIVMSG.
func CTCPRequest(target, command string, args ...string) Message {
	return Privmsg(target, ctcpBody(command, args))
}

// CTCPResponse wraps a CTCP reply in a NOTICE.
func CTCPResponse(target, command string, args ...string) Message {
	return Notice(target, ctcpBody(command, args))
}

// Pong answers a server PING with its token.
func Pong(token string) Message { return NewMessage("PONG", token) }

// Quit ends the session.
func Quit(reason string) Message { return NewMessage("QUIT", reason) }

func ctcpBody(command string, args []string) string {
	body := strings.ToUpper(command)
	if len(args) > 0 {
		body += " " + strings.Join(args, " ")
	}
	return "\x01" + body + "\x01"
}

// SplitCTCP unwraps "\x01CMD args\x01". The closing \x01 is optional.
func SplitCTCP(text string) (command, args string, ok bool) {
	if !strings.HasPrefix(text, "\x01") {
		return "", "", false
	}
	body := strings.TrimSuffix(text[1:], "\x01")
	command, args, _ = strings.Cut(body, " ")
	return strings.ToUpper(command), args, command != ""
}
