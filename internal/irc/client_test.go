package irc

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/luna/internal/ratelimit"
)

// fakeTransport feeds scripted lines to the session and records writes.
type fakeTransport struct {
	in      chan string
	closed  chan struct{}
	once    sync.Once
	onWrite func(line string)

	mu   sync.Mutex
	sent []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (Message, error) {
	select {
	case line := <-f.in:
		return ParseMessage(line)
	case <-f.closed:
		return Message{}, connectionError(StreamFailed, "", io.EOF)
	}
}

func (f *fakeTransport) WriteMessage(msg Message) (int, error) {
	select {
	case <-f.closed:
		return 0, connectionError(NotConnected, "write", nil)
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg.String())
	f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite(msg.String())
	}
	return len(msg.String()) + 2, nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Connected() bool {
	select {
	case <-f.closed:
		return false
	default:
		return true
	}
}

func (f *fakeTransport) ServerHost() string { return "irc.example.net" }
func (f *fakeTransport) ServerAddr() string { return "192.0.2.1" }
func (f *fakeTransport) ServerPort() int    { return 6667 }

func (f *fakeTransport) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// harness drives a client's dispatch directly, without Run.
type harness struct {
	t        *testing.T
	c        *Client
	tr       *fakeTransport
	reported []error
}

func newHarness(t *testing.T, handler Handler) *harness {
	t.Helper()
	h := &harness{t: t, tr: newFakeTransport()}
	h.c = NewClient("Nick", "luna", "Luna Bot", handler,
		WithRateLimit(1<<20, 1<<20, 0),
		WithErrorReporter(func(err error) { h.reported = append(h.reported, err) }))
	h.c.conn = h.tr
	h.c.writes = make(chan writeResult, 1)
	h.c.done = make(chan struct{})
	t.Cleanup(func() { close(h.c.done) })
	return h
}

// loggedIn performs the registration handshake.
func (h *harness) loggedIn() *harness {
	h.c.login()
	h.feed(":irc.example.net 001 Nick :Welcome")
	require.Equal(h.t, PhaseLoggedIn, h.c.phase)
	h.sent()
	return h
}

func (h *harness) feed(lines ...string) {
	h.t.Helper()
	for _, line := range lines {
		msg, err := ParseMessage(line)
		err = h.c.handleRead(readResult{msg: msg, err: err})
		require.NoError(h.t, err, line)
	}
}

// sent waits for queued writes and returns everything written since the
// previous call.
func (h *harness) sent() []string {
	for h.c.writing {
		require.NoError(h.t, h.c.handleWrite(<-h.c.writes))
	}
	lines := h.tr.lines()
	h.tr.mu.Lock()
	h.tr.sent = nil
	h.tr.mu.Unlock()
	return lines
}

func TestLoginSequence(t *testing.T) {
	connected := 0
	h := newHarness(t, &Events{Connect: func(*Client) { connected++ }})
	h.c.pass = "hunter2"

	h.c.login()
	assert.Equal(t, PhaseLoginSent, h.c.Phase())
	assert.Equal(t, []string{"PASS hunter2", "NICK Nick", "USER luna 0 * :Luna Bot"}, h.sent())

	h.feed(":irc.example.net 433 * Nick :Nickname is already in use")
	assert.Equal(t, []string{"NICK Nick_"}, h.sent())

	h.feed("PING :irc.example.net")
	assert.Equal(t, []string{"PONG irc.example.net"}, h.sent())

	h.feed(":irc.example.net 001 Nick_ :Welcome to the network")
	assert.Equal(t, PhaseLoggedIn, h.c.Phase())
	assert.Equal(t, "Nick_", h.c.Nick())
	assert.Equal(t, 1, connected)
}

func TestChangeNickDuringLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.c.login()
	h.sent()

	h.c.ChangeNick("Other")
	assert.Equal(t, []string{"NICK Other"}, h.sent())
	assert.Equal(t, "Other", h.c.Nick())

	// a collision retries from the nick we asked for last
	h.feed(":irc.example.net 433 * Other :Nickname is already in use")
	assert.Equal(t, []string{"NICK Other_"}, h.sent())
	assert.Equal(t, "Other_", h.c.Nick())
}

func TestChangeNickWaitsForServerWhenLoggedIn(t *testing.T) {
	h := newHarness(t, nil).loggedIn()

	h.c.ChangeNick("Other")
	assert.Equal(t, []string{"NICK Other"}, h.sent())
	assert.Equal(t, "Nick", h.c.Nick())

	h.feed(":Nick!u@h NICK Other")
	assert.Equal(t, "Other", h.c.Nick())
}

func TestLoginErrorDisconnects(t *testing.T) {
	disconnected := 0
	h := newHarness(t, &Events{Disconnect: func(*Client) { disconnected++ }})
	h.c.login()
	h.sent()

	h.feed("ERROR :Closing Link: banned")
	assert.Nil(t, h.c.conn)
	assert.False(t, h.tr.Connected())
	// never logged in, so no disconnect event
	assert.Equal(t, 0, disconnected)
}

func TestSelfJoinCreatesChannel(t *testing.T) {
	h := newHarness(t, nil).loggedIn()

	h.feed(":Nick!u@h JOIN #chan")

	ch, err := h.c.Environment().FindChannel("#chan")
	require.NoError(t, err)
	assert.True(t, ch.HasUser("Nick"))
	assert.Equal(t, []string{"WHO #chan", "MODE #chan", "MODE #chan +b"}, h.sent())
}

func TestISupportReconfiguresModes(t *testing.T) {
	h := newHarness(t, nil).loggedIn()

	h.feed(":irc.example.net 005 Nick CHANTYPES=# CHANMODES=b,k,l,imnpst NETWORK=Test :are supported by this server")

	env := h.c.Environment()
	assert.Equal(t, RequiredUserList, env.ModeArgumentType('b'))
	assert.Equal(t, Required, env.ModeArgumentType('k'))
	assert.Equal(t, RequiredWhenSetting, env.ModeArgumentType('l'))
	assert.Equal(t, NoArgument, env.ModeArgumentType('m'))
	network, _ := env.Capability("network")
	assert.Equal(t, "Test", network)
	_, ok := env.Capability("are supported by this server")
	assert.False(t, ok)

	h.feed(":irc.example.net 005 Nick -NETWORK :are supported by this server")
	_, ok = env.Capability("NETWORK")
	assert.False(t, ok)
}

func TestChannelStateTracking(t *testing.T) {
	h := newHarness(t, nil).loggedIn()
	h.feed(":Nick!u@h JOIN #chan")
	h.sent()

	h.feed(
		":srv 352 Nick #chan ~al alice.host srv alice H@ :0 Alice",
		":srv 353 Nick = #chan :@Nick +bob carol",
		":srv 332 Nick #chan :the topic",
		":srv 333 Nick #chan op!o@host 1700000000",
		":srv 324 Nick #chan +ntl 25",
		":srv 329 Nick #chan 1600000000",
		":srv 367 Nick #chan *!*@spam op 1700000000",
	)

	ch, err := h.c.Environment().FindChannel("#chan")
	require.NoError(t, err)

	alice, err := ch.FindUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "~al", alice.User())
	assert.True(t, alice.HasMode('o'))

	bob, err := ch.FindUser("bob")
	require.NoError(t, err)
	assert.True(t, bob.HasMode('v'))
	assert.True(t, ch.HasUser("carol"))

	me, err := ch.FindUser("Nick")
	require.NoError(t, err)
	assert.True(t, me.HasMode('o'))

	assert.Equal(t, "the topic", ch.Topic().Text)
	assert.Equal(t, "op", ch.Topic().SetBy)
	assert.Equal(t, int64(1700000000), ch.Topic().SetAt.Unix())
	limit, err := ch.SimpleMode('l')
	require.NoError(t, err)
	assert.Equal(t, "25", limit)
	assert.Equal(t, int64(1600000000), ch.Created().Unix())
	assert.Equal(t, []string{"*!*@spam"}, ch.Mode('b'))

	h.feed(":op!o@host MODE #chan +o-v carol bob")
	carol, _ := ch.FindUser("carol")
	assert.True(t, carol.HasMode('o'))
	assert.False(t, bob.HasMode('v'))

	h.feed(":op!o@host TOPIC #chan :new topic")
	assert.Equal(t, "new topic", ch.Topic().Text)
	assert.Equal(t, "op", ch.Topic().SetBy)
	assert.Empty(t, h.reported)
}

func TestMembershipChanges(t *testing.T) {
	h := newHarness(t, nil).loggedIn()
	h.feed(":Nick!u@h JOIN #a", ":Nick!u@h JOIN #b")
	h.sent()

	h.feed(":bob!b@host JOIN #a", ":bob!b@host JOIN #b", ":carol!c@host JOIN #a")
	a, _ := h.c.Environment().FindChannel("#a")
	b, _ := h.c.Environment().FindChannel("#b")
	uid := a.users[nickKey("bob")].UID()

	h.feed(":bob!b@host NICK robert")
	assert.False(t, a.HasUser("bob"))
	robert, err := a.FindUser("robert")
	require.NoError(t, err)
	assert.Equal(t, uid, robert.UID())
	assert.True(t, b.HasUser("robert"))

	h.feed(":carol!c@host PART #a :bye")
	assert.False(t, a.HasUser("carol"))

	h.feed(":robert!b@host QUIT :gone")
	assert.False(t, a.HasUser("robert"))
	assert.False(t, b.HasUser("robert"))

	h.feed(":op!o@host KICK #b Nick :out")
	assert.False(t, h.c.Environment().HasChannel("#b"))

	h.feed(":Nick!u@h PART #a")
	assert.Empty(t, h.c.Environment().Channels())
}

func TestSelfNickChange(t *testing.T) {
	h := newHarness(t, nil).loggedIn()
	h.feed(":Nick!u@h JOIN #a")
	h.sent()

	h.feed(":Nick!u@h NICK Luna")
	assert.Equal(t, "Luna", h.c.Nick())
	a, _ := h.c.Environment().FindChannel("#a")
	assert.True(t, a.HasUser("luna"))
}

func TestServerPrefixSkipsUserHandlers(t *testing.T) {
	h := newHarness(t, nil).loggedIn()

	// a server can't join a channel; the built-in is skipped silently
	h.feed(":irc.example.net JOIN #chan")
	assert.False(t, h.c.Environment().HasChannel("#chan"))
	assert.Empty(t, h.reported)
}

func TestNotEnoughArgumentsIsReported(t *testing.T) {
	h := newHarness(t, nil).loggedIn()

	h.feed(":srv 332 Nick #chan")
	require.Len(t, h.reported, 1)
	assert.True(t, IsKind(h.reported[0], NotEnoughArguments))
	assert.NotNil(t, h.c.conn, "connection survives")
}

func TestUnknownChannelIsReported(t *testing.T) {
	h := newHarness(t, nil).loggedIn()

	h.feed(":srv 332 Nick #nowhere :topic")
	require.Len(t, h.reported, 1)
	assert.True(t, IsKind(h.reported[0], NoSuchChannel))
}

func TestHandlerOrdering(t *testing.T) {
	var sawUser, sawChannel bool
	h := newHarness(t, &Events{
		Part: func(c *Client, ch *Channel, u *ChannelUser, reason string) error {
			sawUser = ch.HasUser(u.Nick())
			return nil
		},
		Kick: func(c *Client, ch *Channel, kicker string, kicked *ChannelUser, reason string) error {
			sawChannel = c.Environment().HasChannel(ch.Name())
			return nil
		},
	}).loggedIn()
	h.feed(":Nick!u@h JOIN #a", ":bob!b@h JOIN #a")
	h.sent()

	h.feed(":bob!b@h PART #a")
	assert.True(t, sawUser, "PART handler sees the departing user")
	h.feed(":op!o@h KICK #a Nick")
	assert.True(t, sawChannel, "KICK handler sees the channel")
	assert.False(t, h.c.Environment().HasChannel("#a"))
}

func TestHandlerConnectionErrorIsFatal(t *testing.T) {
	h := newHarness(t, &Events{
		Raw: func(c *Client, msg Message) error {
			if msg.Command != "PRIVMSG" {
				return nil
			}
			return connectionError(IOFailed, "handler gave up", nil)
		},
	}).loggedIn()

	msg, _ := ParseMessage(":a!b@c PRIVMSG #x :hi")
	err := h.c.handleRead(readResult{msg: msg})
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}

func TestHandlerOtherErrorIsReported(t *testing.T) {
	h := newHarness(t, &Events{
		Privmsg: func(c *Client, from, target, text string) error {
			return io.ErrUnexpectedEOF
		},
	}).loggedIn()

	h.feed(":a!b@c PRIVMSG #x :hi")
	require.Len(t, h.reported, 1)
	assert.Contains(t, h.reported[0].Error(), "handler for PRIVMSG")
}

func TestSelfQuitDisconnects(t *testing.T) {
	disconnected := 0
	h := newHarness(t, &Events{Disconnect: func(*Client) { disconnected++ }}).loggedIn()

	h.feed(":Nick!u@h QUIT :bye")
	assert.Nil(t, h.c.conn)
	assert.Equal(t, 1, disconnected)
	assert.False(t, h.c.Connected())
}

func TestDisconnectSendsQuitFirst(t *testing.T) {
	h := newHarness(t, nil).loggedIn()

	h.c.SendMessage(Privmsg("#a", "one"))
	h.c.Disconnect("see you")
	h.c.SendMessage(Privmsg("#a", "dropped"))

	assert.Equal(t, []string{"PRIVMSG #a one", "QUIT :see you"}, h.sent())
	assert.Nil(t, h.c.conn)
}

func TestRateLimitedQueue(t *testing.T) {
	h := newHarness(t, nil)
	// room for exactly two floor-cost lines
	h.c.bucket = ratelimit.New(256, 1, 128)

	h.c.SendMessage(Privmsg("#a", "one"))
	h.c.SendMessage(Privmsg("#a", "two"))
	h.c.SendMessage(Privmsg("#a", "three"))

	assert.Equal(t, []string{"PRIVMSG #a one", "PRIVMSG #a two"}, h.sent())
	assert.Len(t, h.c.pending, 1)
}

func TestOversizedLineDrainsFullBucket(t *testing.T) {
	h := newHarness(t, nil)
	h.c.bucket = ratelimit.New(256, 1, 128)

	long := Privmsg("#a", strings.Repeat("x", 300))
	h.c.SendMessage(long)
	h.c.SendMessage(Privmsg("#a", "next"))

	// charged at capacity, not refused forever
	assert.Equal(t, []string{long.String()}, h.sent())
	assert.Len(t, h.c.pending, 1)
}

func TestUseTLSWhileConnected(t *testing.T) {
	h := newHarness(t, nil)
	err := h.c.UseTLS(true)
	require.Error(t, err)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CannotChangeSecurity, ce.Kind)

	h.c.conn = nil
	assert.NoError(t, h.c.UseTLS(true))
}

func TestStopReportsStoppedPhase(t *testing.T) {
	c := NewClient("n", "u", "r", nil)
	assert.Equal(t, PhaseStart, c.Phase())
	c.Stop()
	assert.Equal(t, PhaseStopped, c.Phase())
}

// The full loop against scripted transports, including a reconnect.
func TestRunReconnectsUntilStopped(t *testing.T) {
	transports := make(chan *fakeTransport, 2)
	attempts := 0

	var joins int
	events := &Events{
		Connect: func(c *Client) { c.SendMessage(Join("#luna")) },
		Join: func(c *Client, ch *Channel, u *ChannelUser) error {
			joins++
			if joins == 2 {
				c.Stop()
				c.Disconnect("done")
			}
			return nil
		},
	}

	c := NewClient("Nick", "luna", "Luna", events,
		WithRateLimit(1<<20, 1<<20, 0),
		WithRetryDelay(10*time.Millisecond),
		WithIdleInterval(5*time.Millisecond),
		WithConnector(func(ctx context.Context, host string, port int) (Transport, error) {
			attempts++
			first := attempts == 1
			tr := newFakeTransport()
			tr.in <- ":srv 001 Nick :Welcome"
			// echo the join like a server would
			tr.onWrite = func(line string) {
				if line != "JOIN #luna" {
					return
				}
				tr.in <- ":Nick!u@h JOIN #luna"
				if first {
					tr.in <- "ERROR :Closing link"
				}
			}
			transports <- tr
			return tr, nil
		}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Run(ctx, "irc.example.net", 6667))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, joins)
	assert.Equal(t, 2, c.Stats().Connects)

	first := <-transports
	assert.Contains(t, first.lines(), "NICK Nick")
	assert.Contains(t, first.lines(), "JOIN #luna")
	second := <-transports
	assert.Contains(t, second.lines(), "QUIT done")
	assert.False(t, c.Post(func(*Client) {}), "Post fails once Run has returned")
}

func TestNonPositiveIdleIntervalIsIgnored(t *testing.T) {
	c := NewClient("Nick", "luna", "Luna", nil,
		WithIdleInterval(0),
		WithConnector(func(ctx context.Context, host string, port int) (Transport, error) {
			return newFakeTransport(), nil
		}))
	assert.Equal(t, DefaultIdleInterval, c.idleInterval)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, "irc.example.net", 6667) }()

	got := make(chan time.Duration, 1)
	require.True(t, c.Post(func(c *Client) {
		c.SetIdleInterval(0)
		c.SetIdleInterval(-time.Second)
		got <- c.idleInterval
	}))
	assert.Equal(t, DefaultIdleInterval, <-got)

	require.True(t, c.Post(func(c *Client) {
		c.SetIdleInterval(time.Millisecond)
		got <- c.idleInterval
	}))
	assert.Equal(t, time.Millisecond, <-got)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	c := NewClient("Nick", "luna", "Luna", nil,
		WithConnector(func(ctx context.Context, host string, port int) (Transport, error) {
			return newFakeTransport(), nil
		}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, "irc.example.net", 6667) }()

	// Post is served by the loop
	phase := make(chan Phase, 1)
	require.True(t, c.Post(func(c *Client) { phase <- c.Phase() }))
	assert.Equal(t, PhaseLoginSent, <-phase)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
