package irc

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ModeArgument says whether a channel mode flag takes an argument
type ModeArgument int

const (
	NoArgument ModeArgument = iota
	// RequiredUserList is a list mode such as +b
	RequiredUserList
	// RequiredUser targets a member, +o and friends
	RequiredUser
	// Required takes an argument both ways, like +k
	Required
	// RequiredWhenSetting takes an argument only when set, like +l
	RequiredWhenSetting
)

// ModeChange is one decoded element of a mode string
type ModeChange struct {
	Adding   bool
	Flag     byte
	Argument string
}

// Environment holds what the server told us about itself during the current
// connection, along with every channel we are in.
type Environment struct {
	capabilities map[string]string

	// CHANMODES groups A, B, C and D
	listModes    string
	argModes     string
	setArgModes  string
	simpleModes  string
	prefixModes  string
	prefixToMode map[byte]byte
	chanTypes    string

	channels map[string]*Channel
}

// NewEnvironment returns an environment with the usual defaults until the
// server sends RPL_ISUPPORT.
func NewEnvironment() *Environment {
	e := &Environment{
		capabilities: make(map[string]string),
		prefixModes:  "ohv",
		prefixToMode: map[byte]byte{'@': 'o', '%': 'h', '+': 'v'},
		chanTypes:    "#&",
		channels:     make(map[string]*Channel),
	}
	e.setChanModes("beI", "k", "l", "imnpstaqr")
	return e
}

func (e *Environment) setChanModes(a, b, c, d string) {
	e.listModes = a
	e.argModes = b + e.prefixModes
	e.setArgModes = c
	e.simpleModes = d
}

// SetCapability records one RPL_ISUPPORT token. CHANMODES, PREFIX and
// CHANTYPES also reconfigure mode and channel handling.
func (e *Environment) SetCapability(name, value string) {
	key := FoldString(name)
	e.capabilities[key] = value

	switch key {
	case "chanmodes":
		groups := strings.Split(value, ",")
		if len(groups) != 4 {
			return
		}
		e.setChanModes(groups[0], groups[1], groups[2], groups[3])
	case "prefix":
		e.setPrefix(value)
	case "chantypes":
		e.chanTypes = value
	}
}

// setPrefix parses "(ohv)@%+". Malformed values are ignored.
func (e *Environment) setPrefix(value string) {
	if !strings.HasPrefix(value, "(") {
		return
	}
	end := strings.IndexByte(value, ')')
	if end == -1 {
		return
	}
	modes, prefixes := value[1:end], value[end+1:]
	if len(modes) != len(prefixes) {
		return
	}

	e.prefixToMode = make(map[byte]byte, len(modes))
	for i := 0; i < len(modes); i++ {
		e.prefixToMode[prefixes[i]] = modes[i]
	}
	e.prefixModes = modes
}

// RemoveCapability handles the "-KEY" form of RPL_ISUPPORT.
func (e *Environment) RemoveCapability(name string) {
	delete(e.capabilities, FoldString(name))
}

// Capability looks up an advertised capability.
func (e *Environment) Capability(name string) (string, bool) {
	v, ok := e.capabilities[FoldString(name)]
	return v, ok
}

// ChannelTypes returns the channel name prefixes the server uses.
func (e *Environment) ChannelTypes() string { return e.chanTypes }

// PrefixModes returns the mode flags that grant membership status.
func (e *Environment) PrefixModes() string { return e.prefixModes }

// ModeForPrefix maps a status prefix like '@' to its mode flag.
func (e *Environment) ModeForPrefix(prefix byte) (byte, bool) {
	m, ok := e.prefixToMode[prefix]
	return m, ok
}

// IsChannel reports whether name starts with a channel type prefix.
func (e *Environment) IsChannel(name string) bool {
	return name != "" && strings.IndexByte(e.chanTypes, name[0]) != -1
}

// ModeArgumentType classifies a channel mode flag.
func (e *Environment) ModeArgumentType(flag byte) ModeArgument {
	switch {
	case strings.IndexByte(e.prefixModes, flag) != -1:
		return RequiredUser
	case strings.IndexByte(e.listModes, flag) != -1:
		return RequiredUserList
	case strings.IndexByte(e.argModes, flag) != -1:
		return Required
	case strings.IndexByte(e.setArgModes, flag) != -1:
		return RequiredWhenSetting
	}
	return NoArgument
}

// PartitionModeChanges pairs every flag of a mode string with its sign and,
// where the flag takes one, the next argument.
func (e *Environment) PartitionModeChanges(modes string, args []string) ([]ModeChange, error) {
	var changes []ModeChange
	adding := true

	for i := 0; i < len(modes); i++ {
		flag := modes[i]
		switch flag {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		change := ModeChange{Adding: adding, Flag: flag}
		switch e.ModeArgumentType(flag) {
		case RequiredUserList, RequiredUser, Required:
			if len(args) == 0 {
				return nil, errors.WithMessagef(protocolError(NotEnoughArguments, modes),
					"mode %c", flag)
			}
			change.Argument, args = args[0], args[1:]
		case RequiredWhenSetting:
			if adding {
				if len(args) == 0 {
					return nil, errors.WithMessagef(protocolError(NotEnoughArguments, modes),
						"mode %c", flag)
				}
				change.Argument, args = args[0], args[1:]
			}
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// FindChannel looks up a channel we are in.
func (e *Environment) FindChannel(name string) (*Channel, error) {
	ch, ok := e.channels[FoldString(name)]
	if !ok {
		return nil, protocolError(NoSuchChannel, name)
	}
	return ch, nil
}

// HasChannel reports whether we are in a channel.
func (e *Environment) HasChannel(name string) bool {
	_, ok := e.channels[FoldString(name)]
	return ok
}

// Channels returns the channels we are in, sorted by name.
func (e *Environment) Channels() []*Channel {
	out := make([]*Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		return FoldString(out[i].Name()) < FoldString(out[j].Name())
	})
	return out
}

func (e *Environment) createChannel(name string) (*Channel, error) {
	key := FoldString(name)
	if _, ok := e.channels[key]; ok {
		return nil, protocolError(NoSuchChannel, "already tracking "+name)
	}
	ch := newChannel(name)
	e.channels[key] = ch
	return ch, nil
}

func (e *Environment) removeChannel(name string) error {
	key := FoldString(name)
	if _, ok := e.channels[key]; !ok {
		return protocolError(NoSuchChannel, name)
	}
	delete(e.channels, key)
	return nil
}
