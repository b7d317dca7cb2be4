package irc

import (
	"strings"

	"github.com/pkg/errors"
)

// ProtocolErrorKind classifies recoverable protocol violations
type ProtocolErrorKind int

const (
	InvalidMessage ProtocolErrorKind = iota
	InvalidCommand
	InvalidPrefix
	LoginError
	NoSuchChannel
	NoSuchUser
	NoSuchMode
	NotEnoughArguments
)

var protocolErrorText = map[ProtocolErrorKind]string{
	InvalidMessage:     "invalid message",
	InvalidCommand:     "invalid command",
	InvalidPrefix:      "invalid prefix",
	LoginError:         "login error",
	NoSuchChannel:      "no such channel",
	NoSuchUser:         "no such user",
	NoSuchMode:         "no such mode",
	NotEnoughArguments: "not enough parameters",
}

func (k ProtocolErrorKind) String() string {
	if s, ok := protocolErrorText[k]; ok {
		return s
	}
	return "protocol error"
}

// ProtocolError is raised when the server sends something we can't make
// sense of. The session reports it and keeps going.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

func protocolError(kind ProtocolErrorKind, detail string) error {
	return &ProtocolError{Kind: kind, Detail: detail}
}

// ConnectionErrorKind classifies transport failures
type ConnectionErrorKind int

const (
	ConnectFailed ConnectionErrorKind = iota
	LookupFailed
	StreamFailed
	IOFailed
	CannotChangeSecurity
	NotConnected
)

var connectionErrorText = map[ConnectionErrorKind]string{
	ConnectFailed:        "connection error",
	LookupFailed:         "hostname lookup error",
	StreamFailed:         "stream I/O error",
	IOFailed:             "I/O error",
	CannotChangeSecurity: "can not change security",
	NotConnected:         "not connected",
}

func (k ConnectionErrorKind) String() string {
	if s, ok := connectionErrorText[k]; ok {
		return s
	}
	return "connection error"
}

// ConnectionError ends the current connection attempt
type ConnectionError struct {
	Kind   ConnectionErrorKind
	Detail string
	Err    error
}

func (e *ConnectionError) Error() string {
	s := e.Kind.String()
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func connectionError(kind ConnectionErrorKind, detail string, err error) error {
	return &ConnectionError{Kind: kind, Detail: detail, Err: err}
}

// IsProtocolError reports whether err is recoverable. A connection error
// anywhere in the chain makes it fatal.
func IsProtocolError(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return false
	}
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsConnectionError reports whether err carries a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsKind reports whether err carries a ProtocolError of the given kind.
func IsKind(err error, kind ProtocolErrorKind) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Kind == kind
}

func errorClass(err error) string {
	switch {
	case IsConnectionError(err):
		return "[Connection error]"
	case IsProtocolError(err):
		return "[Protocol error]"
	}
	return "[Error]"
}

// FormatError renders an error chain outermost first. Every nested cause
// goes on its own line prefixed with " `- ".
func FormatError(err error) string {
	var b strings.Builder
	for lvl := 0; err != nil; {
		inner := errors.Unwrap(err)
		text := err.Error()
		if inner != nil {
			// stack-only wrappers add no text of their own
			if text == inner.Error() {
				err = inner
				continue
			}
			text = strings.TrimSuffix(text, ": "+inner.Error())
		}
		if lvl > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat(" ", lvl))
			b.WriteString("`- ")
		}
		b.WriteString(errorClass(err))
		b.WriteString(" ")
		b.WriteString(text)
		err = inner
		lvl++
	}
	return b.String()
}
