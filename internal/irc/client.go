package irc

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dalnet/luna/internal/ratelimit"
)

// Phase is where a session is in the login sequence
type Phase int

const (
	PhaseStart Phase = iota
	PhaseLoginSent
	PhaseLoggedIn
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseLoginSent:
		return "login sent"
	case PhaseLoggedIn:
		return "logged in"
	case PhaseStopped:
		return "stopped"
	}
	return "unknown"
}

// Handler receives session events. All methods run on the session's loop
// goroutine, so they may call any Client method.
type Handler interface {
	OnConnect(c *Client)
	OnDisconnect(c *Client)
	OnIdle(c *Client)
	// OnMessage sees every message once the session is logged in. A
	// ConnectionError return ends the connection; anything else is reported.
	OnMessage(c *Client, msg Message) error
}

// Transport is a connected message stream. *Conn is the real one.
type Transport interface {
	ReadMessage() (Message, error)
	WriteMessage(msg Message) (int, error)
	Close() error
	Connected() bool
	ServerHost() string
	ServerAddr() string
	ServerPort() int
}

// Connector opens a Transport to host:port.
type Connector func(ctx context.Context, host string, port int) (Transport, error)

// Stats are traffic counters kept across reconnects
type Stats struct {
	Connects       int
	LinesReceived  int
	LinesSent      int
	BytesSent      int
	ProtocolFaults int
}

type readResult struct {
	msg Message
	err error
}

type writeResult struct {
	msg Message
	n   int
	err error
}

// Default outgoing rate: a 512 byte burst refilling 64 bytes per second,
// with each line costing at least 128.
const (
	DefaultBucketCapacity = 512
	DefaultBucketRate     = 64
	DefaultBucketFloor    = 128
	DefaultIdleInterval   = 125 * time.Millisecond
	DefaultRetryDelay     = time.Second
)

// Client is one IRC session. Run drives it; everything else is meant to be
// called from Handler callbacks or through Post.
type Client struct {
	wantNick string
	nick     string
	user     string
	real     string
	pass     string

	useTLS    bool
	tlsConfig *tls.Config
	dialer    Dialer
	resolver  Resolver
	connect   Connector

	idleInterval time.Duration
	retryDelay   time.Duration

	handler Handler
	baseLog zerolog.Logger
	log     zerolog.Logger
	report  func(error)
	bucket  *ratelimit.Bucket
	core    map[string]coreHandler

	phase   Phase
	stopped atomic.Bool

	// per connection attempt
	conn     Transport
	env      *Environment
	pending  []Message
	writing  bool
	quitting bool
	ticker   *time.Ticker
	arm      chan struct{}
	writes   chan writeResult
	done     chan struct{}

	calls  chan func(*Client)
	exited chan struct{}
	stats  Stats
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.baseLog = l }
}

// WithErrorReporter replaces the function that reports non-fatal and
// per-attempt errors.
func WithErrorReporter(fn func(error)) Option {
	return func(c *Client) { c.report = fn }
}

// WithPassword sets the server password sent as PASS.
func WithPassword(pass string) Option {
	return func(c *Client) { c.pass = pass }
}

// WithTLS enables TLS with the given config; nil uses defaults.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) {
		c.useTLS = true
		c.tlsConfig = cfg
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// WithConnector replaces how transports are opened altogether.
func WithConnector(fn Connector) Option {
	return func(c *Client) { c.connect = fn }
}

// WithRateLimit sets the outgoing token bucket.
func WithRateLimit(capacity, rate, floor int) Option {
	return func(c *Client) { c.bucket = ratelimit.New(capacity, rate, floor) }
}

// WithBucket installs a prepared token bucket.
func WithBucket(b *ratelimit.Bucket) Option {
	return func(c *Client) { c.bucket = b }
}

// WithRetryDelay sets the pause between connection attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithIdleInterval sets the idle tick period. Non-positive values keep
// the default.
func WithIdleInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.idleInterval = d
		}
	}
}

// NewClient creates a session. A nil handler ignores all events.
func NewClient(nick, user, realname string, handler Handler, opts ...Option) *Client {
	if handler == nil {
		handler = &Events{}
	}
	c := &Client{
		wantNick:     nick,
		nick:         nick,
		user:         user,
		real:         realname,
		handler:      handler,
		baseLog:      zerolog.Nop(),
		idleInterval: DefaultIdleInterval,
		retryDelay:   DefaultRetryDelay,
		calls:        make(chan func(*Client), 16),
		exited:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bucket == nil {
		c.bucket = ratelimit.New(DefaultBucketCapacity, DefaultBucketRate, DefaultBucketFloor)
	}
	if c.report == nil {
		c.report = c.logError
	}
	if c.connect == nil {
		c.connect = c.dial
	}
	c.log = c.baseLog
	c.core = newCoreHandlers()
	c.env = NewEnvironment()
	return c
}

func (c *Client) dial(ctx context.Context, host string, port int) (Transport, error) {
	var cfg *tls.Config
	if c.tlsConfig != nil {
		cfg = c.tlsConfig.Clone()
	}
	conn := NewConn(c.useTLS, cfg, c.dialer, c.resolver)
	if err := conn.Connect(ctx, host, port); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) logError(err error) {
	c.log.Error().Msg(FormatError(err))
}

// Run connects and serves until Stop is called or ctx ends, reconnecting
// after every lost connection.
func (c *Client) Run(ctx context.Context, host string, port int) error {
	defer close(c.exited)
	for !c.stopped.Load() {
		if err := c.runOnce(ctx, host, port); err != nil {
			c.report(err)
		}
		if c.stopped.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		c.log.Info().Dur("delay", c.retryDelay).Msg("reconnecting")
		if err := c.pause(ctx, c.retryDelay); err != nil {
			return err
		}
	}
	return nil
}

// pause waits between attempts while still serving Post.
func (c *Client) pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.calls:
			fn(c)
			if c.stopped.Load() {
				return nil
			}
		case <-timer.C:
			return nil
		}
	}
}

func (c *Client) runOnce(ctx context.Context, host string, port int) error {
	c.log = c.baseLog.With().Str("conn", uuid.NewString()).Logger()
	c.phase = PhaseStart
	c.nick = c.wantNick
	c.env = NewEnvironment()
	c.pending = nil
	c.writing = false
	c.quitting = false

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c.log.Info().Str("server", addr).Bool("tls", c.useTLS).Msg("connecting")

	conn, err := c.connect(ctx, host, port)
	if err != nil {
		return errors.WithMessagef(err, "connecting to %s", addr)
	}
	c.conn = conn
	c.stats.Connects++
	c.log.Info().Str("host", conn.ServerHost()).Str("addr", conn.ServerAddr()).Msg("connected")

	reads := make(chan readResult)
	c.arm = make(chan struct{}, 1)
	c.writes = make(chan writeResult, 1)
	c.done = make(chan struct{})
	defer close(c.done)

	c.ticker = time.NewTicker(c.idleInterval)
	defer func() {
		c.ticker.Stop()
		c.ticker = nil
	}()

	go c.readLoop(conn, reads, c.arm, c.done)
	c.login()
	c.arm <- struct{}{}

	for c.conn != nil {
		select {
		case <-ctx.Done():
			c.doDisconnect()
			return nil

		case r := <-reads:
			if err := c.handleRead(r); err != nil {
				c.doDisconnect()
				return err
			}
			if c.conn != nil {
				c.arm <- struct{}{}
			}

		case w := <-c.writes:
			if err := c.handleWrite(w); err != nil {
				c.doDisconnect()
				return err
			}

		case fn := <-c.calls:
			fn(c)

		case <-c.ticker.C:
			c.handler.OnIdle(c)
			c.flush()
		}
	}
	return nil
}

// readLoop reads exactly one message per arm signal, so nothing is read
// from a connection the session has already given up on.
func (c *Client) readLoop(conn Transport, out chan<- readResult, arm <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-arm:
		}
		msg, err := conn.ReadMessage()
		select {
		case out <- readResult{msg: msg, err: err}:
		case <-done:
			return
		}
		if err != nil && !IsProtocolError(err) {
			return
		}
	}
}

func (c *Client) handleRead(r readResult) error {
	if r.err != nil {
		if IsProtocolError(r.err) {
			c.stats.ProtocolFaults++
			c.report(errors.WithMessage(r.err, "discarding line"))
			return nil
		}
		return r.err
	}

	c.stats.LinesReceived++
	c.log.Debug().Str("line", r.msg.String()).Msg("<<")

	var err error
	if c.phase == PhaseLoggedIn {
		err = c.handleLoggedIn(r.msg)
	} else {
		err = c.handleLogin(r.msg)
	}
	if err != nil && IsProtocolError(err) {
		c.stats.ProtocolFaults++
		c.report(err)
		return nil
	}
	return err
}

func (c *Client) handleLogin(msg Message) error {
	switch strings.ToUpper(msg.Command) {
	case ErrNicknameInUse:
		c.nick += "_"
		c.log.Info().Str("nick", c.nick).Msg("nick in use, trying another")
		c.SendMessage(Nick(c.nick))
	case RplWelcome:
		if nick := msg.Arg(0); nick != "" {
			c.nick = nick
		}
		c.phase = PhaseLoggedIn
		c.log.Info().Str("nick", c.nick).Msg("logged in")
		return c.handleLoggedIn(msg)
	case "PING":
		if len(msg.Args) < 1 {
			return protocolError(NotEnoughArguments, "PING")
		}
		c.SendMessage(Pong(msg.Args[0]))
	case "ERROR":
		c.log.Warn().Str("reason", msg.Arg(0)).Msg("server closed the link")
		c.doDisconnect()
	case ErrPasswdMismatch, ErrYoureBannedCreep:
		return protocolError(LoginError, msg.Arg(len(msg.Args)-1))
	}
	return nil
}

func (c *Client) handleLoggedIn(msg Message) error {
	h, known := c.core[FoldString(msg.Command)]

	if known && !h.after {
		if err := c.runCore(h, msg); err != nil {
			if !IsProtocolError(err) {
				return err
			}
			c.stats.ProtocolFaults++
			c.report(err)
		}
	}

	if err := c.handler.OnMessage(c, msg); err != nil {
		if IsConnectionError(err) {
			return errors.WithMessagef(err, "handler for %s", msg.Command)
		}
		c.report(errors.WithMessagef(err, "handler for %s", msg.Command))
	}

	if known && h.after && c.conn != nil {
		return c.runCore(h, msg)
	}
	return nil
}

func (c *Client) runCore(h coreHandler, msg Message) error {
	if h.needsUser && (msg.Prefix == "" || !IsUserPrefix(msg.Prefix)) {
		return nil
	}
	if len(msg.Args) < h.minArgs {
		return errors.WithMessagef(protocolError(NotEnoughArguments, msg.String()),
			"%s needs %d arguments", msg.Command, h.minArgs)
	}
	if err := h.fn(c, msg); err != nil {
		if IsProtocolError(err) {
			return errors.WithMessagef(err, "handling %s", msg.Command)
		}
		return errors.WithMessagef(err, "error in core handler for %s", msg.Command)
	}
	return nil
}

func (c *Client) handleWrite(w writeResult) error {
	c.writing = false
	if w.err != nil {
		return errors.WithMessagef(w.err, "sending %s", w.msg.Command)
	}
	c.stats.LinesSent++
	c.stats.BytesSent += w.n

	if c.quitting && len(c.pending) == 0 {
		c.doDisconnect()
		return nil
	}
	c.flush()
	return nil
}

func (c *Client) login() {
	if c.pass != "" {
		c.SendMessage(Pass(c.pass))
	}
	c.SendMessage(Nick(c.nick))
	c.SendMessage(User(c.user, c.real))
	c.phase = PhaseLoginSent
}

func (c *Client) doDisconnect() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
	c.pending = nil
	c.log.Info().Msg("disconnected")

	if c.phase == PhaseLoggedIn {
		c.handler.OnDisconnect(c)
	}
	c.phase = PhaseStart
}

// SendMessage queues a message. Lines leave as fast as the token bucket
// allows, one write at a time. Messages sent while disconnected are dropped.
func (c *Client) SendMessage(msg Message) {
	if c.conn == nil {
		c.log.Debug().Str("line", msg.String()).Msg("not connected, dropping")
		return
	}
	if c.quitting {
		return
	}
	c.pending = append(c.pending, msg)
	c.flush()
}

func (c *Client) flush() {
	if c.conn == nil || c.writing || len(c.pending) == 0 {
		return
	}

	msg := c.pending[0]
	if !c.quitting {
		cost := len(msg.String()) + 2
		if cost > c.bucket.Capacity() {
			cost = c.bucket.Capacity()
		}
		if c.bucket.Consume(cost) == 0 {
			return
		}
	}
	c.pending = c.pending[1:]
	c.writing = true
	c.log.Debug().Str("line", msg.String()).Msg(">>")

	conn, out, done := c.conn, c.writes, c.done
	go func() {
		n, err := conn.WriteMessage(msg)
		select {
		case out <- writeResult{msg: msg, n: n, err: err}:
		case <-done:
		}
	}()
}

// Post runs fn on the session's loop goroutine. It is the only safe way
// to touch the session from elsewhere. It returns false once Run has
// returned.
func (c *Client) Post(fn func(*Client)) bool {
	select {
	case <-c.exited:
		return false
	default:
	}
	select {
	case c.calls <- fn:
		return true
	case <-c.exited:
		return false
	}
}

// Stop makes Run return after the current connection ends. Safe from any
// goroutine.
func (c *Client) Stop() {
	c.stopped.Store(true)
}

// Disconnect sends QUIT, bypassing the rate limit and anything still
// queued, then closes the connection.
func (c *Client) Disconnect(reason string) {
	if c.conn == nil || c.quitting {
		return
	}
	c.pending = []Message{Quit(reason)}
	c.quitting = true
	c.flush()
}

// ChangeNick asks the server for a new nick. Once logged in the session
// adopts it when the server confirms; before that it becomes the nick the
// login sequence works from.
func (c *Client) ChangeNick(nick string) {
	c.wantNick = nick
	if c.phase != PhaseLoggedIn {
		c.nick = nick
	}
	if c.conn == nil {
		return
	}
	c.SendMessage(Nick(nick))
}

// UseTLS toggles TLS for the next connection attempt.
func (c *Client) UseTLS(on bool) error {
	if c.Connected() {
		return connectionError(CannotChangeSecurity, "still connected", nil)
	}
	c.useTLS = on
	return nil
}

// SetIdleInterval changes the idle tick period, taking effect immediately.
// Non-positive periods are ignored.
func (c *Client) SetIdleInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.idleInterval = d
	if c.ticker != nil {
		c.ticker.Reset(d)
	}
}

func (c *Client) isSelf(nickOrMask string) bool {
	return Equal(NormalizeNick(nickOrMask), c.nick)
}

// IsSelf reports whether a nick or mask refers to this session.
func (c *Client) IsSelf(nickOrMask string) bool { return c.isSelf(nickOrMask) }

func (c *Client) Environment() *Environment { return c.env }
func (c *Client) Nick() string              { return c.nick }
func (c *Client) User() string              { return c.user }
func (c *Client) Realname() string          { return c.real }
func (c *Client) Password() string          { return c.pass }
func (c *Client) Stats() Stats              { return c.stats }
func (c *Client) Logger() *zerolog.Logger   { return &c.log }

// Phase reports the login phase, or PhaseStopped after Stop.
func (c *Client) Phase() Phase {
	if c.stopped.Load() {
		return PhaseStopped
	}
	return c.phase
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.Connected()
}

func (c *Client) ServerHost() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.ServerHost()
}

func (c *Client) ServerAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.ServerAddr()
}

func (c *Client) ServerPort() int {
	if c.conn == nil {
		return 0
	}
	return c.conn.ServerPort()
}
