package irc

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ergochat/irc-go/ircreader"
	"github.com/pkg/errors"
)

// ConnState is the lifecycle of a single connection attempt
type ConnState int32

const (
	StateIdle ConnState = iota
	StateResolving
	StateConnecting
	StateHandshaking
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Dialer opens the TCP stream. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver does forward and reverse lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Conn is one line-oriented connection to a server. Reads and writes may
// happen from different goroutines, but only one write may be in flight.
type Conn struct {
	useTLS    bool
	tlsConfig *tls.Config
	dialer    Dialer
	resolver  Resolver

	state atomic.Int32
	nc    net.Conn
	lines *ircreader.Reader

	host string
	addr string
	port int

	closeOnce sync.Once
}

// NewConn prepares a connection. A nil tlsConfig means default verification.
func NewConn(useTLS bool, tlsConfig *tls.Config, dialer Dialer, resolver Resolver) *Conn {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Conn{
		useTLS:    useTLS,
		tlsConfig: tlsConfig,
		dialer:    dialer,
		resolver:  resolver,
	}
}

// State returns where the connection is in its lifecycle.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(s ConnState) {
	c.state.Store(int32(s))
}

// Connect resolves host, dials every address in turn until one answers and
// runs the TLS handshake if enabled. It returns once lines can flow.
func (c *Conn) Connect(ctx context.Context, host string, port int) error {
	if c.State() != StateIdle {
		return connectionError(ConnectFailed, "connection already used", nil)
	}

	c.setState(StateResolving)
	addrs, err := c.resolver.LookupHost(ctx, host)
	if err == nil && len(addrs) == 0 {
		err = errors.New("no addresses")
	}
	if err != nil {
		c.setState(StateClosed)
		return connectionError(LookupFailed, host, err)
	}

	c.setState(StateConnecting)
	var nc net.Conn
	for _, a := range addrs {
		nc, err = c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(a, strconv.Itoa(port)))
		if err == nil {
			break
		}
	}
	if err != nil {
		c.setState(StateClosed)
		return connectionError(ConnectFailed, net.JoinHostPort(host, strconv.Itoa(port)), err)
	}

	if c.useTLS {
		c.setState(StateHandshaking)
		cfg := &tls.Config{}
		if c.tlsConfig != nil {
			cfg = c.tlsConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			c.setState(StateClosed)
			return connectionError(ConnectFailed, "TLS handshake", err)
		}
		nc = tc
	}

	c.attach(ctx, nc, port)
	return nil
}

func (c *Conn) attach(ctx context.Context, nc net.Conn, port int) {
	c.nc = nc
	c.lines = ircreader.NewIRCReader(nc)
	c.port = port

	switch ra := nc.RemoteAddr().(type) {
	case *net.TCPAddr:
		c.addr = ra.IP.String()
		c.port = ra.Port
	default:
		c.addr = ra.String()
	}

	// reverse lookup once so callers never block on it
	c.host = c.addr
	if names, err := c.resolver.LookupAddr(ctx, c.addr); err == nil && len(names) > 0 {
		c.host = strings.TrimSuffix(names[0], ".")
	}

	c.setState(StateOpen)
}

// ReadMessage blocks for the next non-empty line and decodes it. Decode
// failures come back as a ProtocolError and the connection stays usable.
func (c *Conn) ReadMessage() (Message, error) {
	if c.State() != StateOpen {
		return Message{}, connectionError(NotConnected, "read", nil)
	}
	for {
		line, err := c.lines.ReadLine()
		if err != nil {
			return Message{}, connectionError(StreamFailed, "", errors.Wrap(err, "error reading"))
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		return ParseMessage(string(line))
	}
}

// WriteMessage sends one message with CRLF and returns the bytes written.
func (c *Conn) WriteMessage(msg Message) (int, error) {
	if c.State() != StateOpen {
		return 0, connectionError(NotConnected, "write", nil)
	}
	n, err := c.nc.Write([]byte(msg.String() + "\r\n"))
	if err != nil {
		return n, connectionError(StreamFailed, "", errors.Wrap(err, "error writing"))
	}
	return n, nil
}

// Close shuts the socket. Calling it more than once is harmless.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		if c.nc != nil {
			err = c.nc.Close()
		}
	})
	return err
}

// Connected reports whether lines can currently be exchanged.
func (c *Conn) Connected() bool { return c.State() == StateOpen }

// ServerHost returns the reverse-resolved peer name, or its address.
func (c *Conn) ServerHost() string { return c.host }

// ServerAddr returns the peer IP, bracketed for IPv6.
func (c *Conn) ServerAddr() string {
	if strings.Contains(c.addr, ":") {
		return "[" + c.addr + "]"
	}
	return c.addr
}

// ServerPort returns the peer port.
func (c *Conn) ServerPort() int { return c.port }
