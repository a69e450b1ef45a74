package fakes

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// IRCConn is a scripted in-memory connection. Tests feed inbound bytes
// with Feed/FeedRaw and observe outbound lines on Sent. Read blocks
// like a real socket and unblocks with an error on Close or Break.
type IRCConn struct {
	net.Conn
	LAddr net.TCPAddr
	RAddr net.TCPAddr

	inR *io.PipeReader
	inW *io.PipeWriter

	sent chan string

	mu   sync.Mutex
	wbuf []byte

	closeOnce sync.Once
}

func NewIRCConn() *IRCConn {
	r, w := io.Pipe()
	return &IRCConn{
		inR:  r,
		inW:  w,
		sent: make(chan string, 64),
	}
}

func (c *IRCConn) LocalAddr() net.Addr  { return &c.LAddr }
func (c *IRCConn) RemoteAddr() net.Addr { return &c.RAddr }

func (c *IRCConn) SetDeadline(t time.Time) error      { return nil }
func (c *IRCConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *IRCConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *IRCConn) Read(p []byte) (int, error) {
	return c.inR.Read(p)
}

// Write collects outbound bytes and publishes each complete line on
// Sent, with line endings stripped.
func (c *IRCConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wbuf = append(c.wbuf, p...)
	for {
		nl := bytes.IndexByte(c.wbuf, '\n')
		if nl < 0 {
			break
		}
		line := strings.TrimRight(string(c.wbuf[:nl]), "\r")
		c.wbuf = append(c.wbuf[:0], c.wbuf[nl+1:]...)
		c.sent <- line
	}
	return len(p), nil
}

func (c *IRCConn) Close() error {
	c.closeOnce.Do(func() {
		c.inW.CloseWithError(net.ErrClosed)
		c.inR.CloseWithError(net.ErrClosed)
	})
	return nil
}

// Feed delivers one inbound line terminated the way Bancho terminates
// them.
func (c *IRCConn) Feed(t testing.TB, line string) {
	c.FeedRaw(t, line+"\r\n")
}

// FeedRaw delivers an arbitrary chunk, allowing tests to split lines
// across reads.
func (c *IRCConn) FeedRaw(t testing.TB, chunk string) {
	if _, err := c.inW.Write([]byte(chunk)); err != nil {
		t.Fatalf("feed: %v", err)
	}
}

// Break simulates the peer dropping the connection mid-stream.
func (c *IRCConn) Break(err error) {
	c.inW.CloseWithError(err)
}

// Sent exposes outbound lines in write order.
func (c *IRCConn) Sent() <-chan string {
	return c.sent
}

// ExpectSent waits for the next outbound line and fails the test when
// none arrives in time.
func (c *IRCConn) ExpectSent(t testing.TB, timeout time.Duration) string {
	t.Helper()
	select {
	case line := <-c.sent:
		return line
	case <-time.After(timeout):
		t.Fatal("no line written in time")
		return ""
	}
}

// IRCDialer hands out scripted connections in order, one per dial.
type IRCDialer struct {
	Conns chan *IRCConn
}

func NewIRCDialer(conns ...*IRCConn) *IRCDialer {
	d := &IRCDialer{Conns: make(chan *IRCConn, len(conns)+4)}
	for _, c := range conns {
		d.Conns <- c
	}
	return d
}

func (d *IRCDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	select {
	case conn := <-d.Conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
