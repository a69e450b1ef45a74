package bancho

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrClientClosed is returned by send operations after Close.
	ErrClientClosed = errors.New("bancho: client closed")
)

const (
	// DefaultPacing is the minimum gap between two outbound lines.
	// Bancho silently drops clients that flood faster than this, so the
	// gap must hold no matter how eagerly sessions emit commands.
	DefaultPacing = 500 * time.Millisecond

	// DefaultDialTimeout bounds a single connect attempt.
	DefaultDialTimeout = 5 * time.Second

	reconnectBackoffMin = time.Second
	reconnectBackoffMax = 30 * time.Second
)

// Client maintains the single duplex IRC connection to Bancho. Inbound
// lines are framed, classified and delivered in arrival order on
// Messages; read failures surface on Errors so the owner can decide
// when to Reconnect. All outbound lines pass one FIFO queue drained by
// a pacing writer, so emission order is preserved.
type Client struct {
	addr        string
	username    string
	password    string
	dialer      Dialer
	dialTimeout time.Duration
	pacing      time.Duration

	limiter *rate.Limiter
	log     zerolog.Logger

	runCtx  context.Context
	stop    context.CancelFunc
	msgs    chan Message
	errs    chan error
	out     chan string
	writeWG sync.WaitGroup

	mu   sync.Mutex
	conn net.Conn
}

// Dialer opens the raw byte stream to the IRC server. net.Dialer
// satisfies it; tests swap in scripted connections.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// ClientOption configures a Client on construction.
type ClientOption func(c *Client) error

// WithClientLogger replaces the default logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) error {
		c.log = logger
		return nil
	}
}

// WithClientAddr points the client at a non-default IRC endpoint.
func WithClientAddr(addr string) ClientOption {
	return func(c *Client) error {
		c.addr = addr
		return nil
	}
}

// WithClientDialer injects the transport dialer.
func WithClientDialer(d Dialer) ClientOption {
	return func(c *Client) error {
		c.dialer = d
		return nil
	}
}

// WithClientPacing overrides the outbound pacing gap. Anything below
// DefaultPacing risks Bancho's flood policy; only tests should shrink
// it.
func WithClientPacing(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("pacing must be positive, got %v", d)
		}
		c.pacing = d
		return nil
	}
}

// WithClientDialTimeout overrides the per-attempt connect timeout.
func WithClientDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.dialTimeout = d
		return nil
	}
}

// NewClient creates the IRC client handle. Connect must be called
// before any messages flow.
func NewClient(username, password string, options ...ClientOption) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		addr:        DefaultAddr,
		username:    NormalizeUsername(username),
		password:    password,
		dialer:      &net.Dialer{},
		dialTimeout: DefaultDialTimeout,
		pacing:      DefaultPacing,
		log:         log.Logger.With().Str("caller", "Client").Logger(),
		runCtx:      ctx,
		stop:        cancel,
		msgs:        make(chan Message, 128),
		errs:        make(chan error, 1),
		out:         make(chan string, 64),
	}

	for _, o := range options {
		if err := o(c); err != nil {
			cancel()
			return nil, err
		}
	}

	c.limiter = rate.NewLimiter(rate.Every(c.pacing), 1)

	c.writeWG.Add(1)
	go c.writeLoop()
	return c, nil
}

// Messages delivers classified inbound lines in arrival order.
func (c *Client) Messages() <-chan Message {
	return c.msgs
}

// Errors delivers transport faults (one notice per disconnect).
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Connect performs a single dial attempt and logs in with PASS/NICK.
// It does not retry; startup treats failure as fatal while Reconnect
// handles mid-run drops.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		c.logDialFailure(err)
		return fmt.Errorf("dial %s err=%w", c.addr, err)
	}

	c.install(conn)

	if err := c.Send(PASS + " " + c.password); err != nil {
		return err
	}
	if err := c.Send(NICK + " " + c.username); err != nil {
		return err
	}
	return nil
}

// Reconnect drops the current connection and redials with capped
// backoff until it succeeds or ctx is cancelled.
func (c *Client) Reconnect(ctx context.Context) error {
	c.dropConn()

	backoff := reconnectBackoffMin
	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("reconnect attempt failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.runCtx.Done():
			return ErrClientClosed
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > reconnectBackoffMax {
			backoff = reconnectBackoffMax
		}
	}
}

// Close stops the writer and closes the connection. Safe to call more
// than once.
func (c *Client) Close() error {
	c.stop()
	c.dropConn()
	c.writeWG.Wait()
	return nil
}

// Send queues one raw line behind the pacing gate.
func (c *Client) Send(line string) error {
	if c.runCtx.Err() != nil {
		return ErrClientClosed
	}
	select {
	case c.out <- line:
		return nil
	case <-c.runCtx.Done():
		return ErrClientClosed
	}
}

// Privmsg queues a chat message to a user or room channel.
func (c *Client) Privmsg(target, body string) error {
	return c.Send(fmt.Sprintf("%s %s : %s", PRIVMSG, target, body))
}

// Join queues a channel join.
func (c *Client) Join(channel string) error {
	return c.Send(JOIN + " " + channel)
}

// Pacing reports the gap the writer keeps between outbound lines.
// Owners draining the queue before Close size their wait from this.
func (c *Client) Pacing() time.Duration {
	return c.pacing
}

// install swaps in a fresh connection and starts its read loop.
func (c *Client) install(conn net.Conn) {
	connID := uuid.NewString()

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Info().
		Str("addr", c.addr).
		Str("username", c.username).
		Str("conn_id", connID).
		Msg("connected")

	go c.readLoop(conn, c.log.With().Str("conn_id", connID).Logger())
}

// dropConn closes the current connection, leaving the client ready for
// a future install.
func (c *Client) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// current returns the connection lines are written to, nil when down.
func (c *Client) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// readLoop frames the byte stream into lines and delivers classified
// messages. A partial trailing fragment is kept as the prefix of the
// next read. PING is answered here and never surfaces.
func (c *Client) readLoop(conn net.Conn, rlog zerolog.Logger) {
	buf := make([]byte, ReadBufferSize)
	var pending []byte

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				nl := bytes.IndexByte(pending, '\n')
				if nl < 0 {
					break
				}
				line := string(bytes.TrimRight(pending[:nl], "\r"))
				pending = pending[nl+1:]
				if line == "" {
					continue
				}
				c.handleLine(line, rlog)
			}
		}
		if err != nil {
			c.reportReadFailure(conn, err, rlog)
			return
		}
	}
}

func (c *Client) handleLine(line string, rlog zerolog.Logger) {
	if token, ok := cutPing(line); ok {
		rlog.Debug().Msg("ping answered")
		if err := c.Send(PONG + " " + token); err != nil {
			rlog.Warn().Err(err).Msg("pong not queued")
		}
		return
	}

	select {
	case c.msgs <- ParseMessage(line):
	case <-c.runCtx.Done():
	}
}

// reportReadFailure surfaces a disconnect exactly once per live
// connection; loops reading an already-replaced conn exit silently.
func (c *Client) reportReadFailure(conn net.Conn, err error, rlog zerolog.Logger) {
	c.mu.Lock()
	stale := c.conn != conn
	c.mu.Unlock()

	if stale || (errors.Is(err, net.ErrClosed) && c.runCtx.Err() != nil) {
		rlog.Debug().Err(err).Msg("connection closed")
		return
	}

	if errors.Is(err, io.EOF) {
		err = errors.New("peer closed connection")
	}
	rlog.Error().Err(err).Msg("read failed")

	select {
	case c.errs <- err:
	default:
	}
}

// writeLoop drains the outbound queue through the pacing gate. Write
// failures drop the line; the session state resyncs once the owner
// reconnects and the reconciler re-joins rooms.
func (c *Client) writeLoop() {
	defer c.writeWG.Done()

	for {
		select {
		case <-c.runCtx.Done():
			return
		case line := <-c.out:
			if err := c.limiter.Wait(c.runCtx); err != nil {
				return
			}
			conn := c.current()
			if conn == nil {
				c.log.Warn().Str("line", line).Msg("dropped line, not connected")
				continue
			}
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				c.log.Warn().Err(err).Str("line", line).Msg("write failed, line dropped")
			}
		}
	}
}

func (c *Client) logDialFailure(err error) {
	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		c.log.Error().Err(err).Msg("name resolution failed")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.log.Error().Err(err).Msg("connect timed out")
	default:
		c.log.Error().Err(err).Msg("connect refused or failed")
	}
}

// cutPing matches transport-level PING lines, returning the token to
// echo back.
func cutPing(line string) (token string, ok bool) {
	if line == PING {
		return "", true
	}
	return strings.CutPrefix(line, PING+" ")
}
