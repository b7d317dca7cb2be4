package irc

import (
	"strings"
)

// Message is a single protocol line without the CRLF terminator
type Message struct {
	Prefix  string
	Command string
	Args    []string
}

// NewMessage builds an outgoing message with no prefix.
func NewMessage(command string, args ...string) Message {
	return Message{Command: command, Args: args}
}

// ParseMessage decodes one line. The line must not carry its line ending.
//
// Everything after the first " :" is the trailing argument and is kept
// verbatim, even when empty. The rest is split on spaces. The trailing
// argument joins the token list before the prefix and command are taken,
// so ":srv :PING" is a PING from srv.
func ParseMessage(line string) (Message, error) {
	var msg Message

	head := line
	trailing, hasTrailing := "", false
	if i := strings.Index(line, " :"); i != -1 {
		head = line[:i]
		trailing = line[i+2:]
		hasTrailing = true
	}

	tokens := strings.FieldsFunc(head, func(r rune) bool { return r == ' ' })
	if hasTrailing {
		tokens = append(tokens, trailing)
	}
	if len(tokens) > 0 && strings.HasPrefix(tokens[0], ":") {
		msg.Prefix = tokens[0][1:]
		tokens = tokens[1:]
	}
	if len(tokens) == 0 || tokens[0] == "" {
		return Message{}, protocolError(InvalidMessage, line)
	}
	if !validCommand(tokens[0]) {
		return Message{}, protocolError(InvalidCommand, tokens[0])
	}

	msg.Command = tokens[0]
	if len(tokens) > 1 {
		msg.Args = append(msg.Args, tokens[1:]...)
	}
	return msg, nil
}

// String encodes the message for the wire, without CRLF.
func (m Message) String() string {
	var b strings.Builder
	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)

	for i, arg := range m.Args {
		arg = stripLineBreaks(arg)
		b.WriteByte(' ')
		if i == len(m.Args)-1 && needsTrailing(arg) {
			b.WriteByte(':')
		}
		b.WriteString(arg)
	}
	return b.String()
}

// Nick returns the sender's nick, or the whole prefix for servers.
func (m Message) Nick() string {
	return NormalizeNick(m.Prefix)
}

// Arg returns the i-th argument or "" when it is missing.
func (m Message) Arg(i int) string {
	if i < 0 || i >= len(m.Args) {
		return ""
	}
	return m.Args[i]
}

// IsNumeric reports whether a command is a three digit reply code.
func IsNumeric(cmd string) bool {
	if len(cmd) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if cmd[i] < '0' || cmd[i] > '9' {
			return false
		}
	}
	return true
}

// validCommand accepts a word of ASCII letters or a three digit numeric.
func validCommand(cmd string) bool {
	if IsNumeric(cmd) {
		return true
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return cmd != ""
}

func needsTrailing(arg string) bool {
	return arg == "" || strings.HasPrefix(arg, ":") || strings.Contains(arg, " ")
}

// stripLineBreaks drops whitespace control characters and NUL, which would
// break framing. CTCP and formatting bytes pass through.
func stripLineBreaks(s string) string {
	if strings.IndexFunc(s, isFramingByte) == -1 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isFramingByte(r) {
			return -1
		}
		return r
	}, s)
}

func isFramingByte(r rune) bool {
	switch r {
	case 0, '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
