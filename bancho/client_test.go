package bancho

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiyoru/mphost/fakes"
)

const waitFor = 2 * time.Second

func testClient(t *testing.T, conns ...*fakes.IRCConn) *Client {
	t.Helper()
	client, err := NewClient("mp host", "secret",
		WithClientDialer(fakes.NewIRCDialer(conns...)),
		WithClientPacing(time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func recvMessage(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case m := <-client.Messages():
		return m
	case <-time.After(waitFor):
		t.Fatal("no message delivered in time")
		return Message{}
	}
}

func TestClientLogin(t *testing.T) {
	conn := fakes.NewIRCConn()
	client := testClient(t, conn)

	require.NoError(t, client.Connect(context.TODO()))

	assert.Equal(t, "PASS secret", conn.ExpectSent(t, waitFor))
	assert.Equal(t, "NICK mp_host", conn.ExpectSent(t, waitFor))
}

func TestClientConnectFails(t *testing.T) {
	client, err := NewClient("mphost", "secret",
		WithClientDialer(fakes.NewIRCDialer()),
		WithClientDialTimeout(10*time.Millisecond),
	)
	require.NoError(t, err)
	defer client.Close()

	err = client.Connect(context.TODO())
	require.Error(t, err)
}

func TestClientFraming(t *testing.T) {
	conn := fakes.NewIRCConn()
	client := testClient(t, conn)
	require.NoError(t, client.Connect(context.TODO()))

	// One line split across reads, then two lines in one chunk.
	conn.FeedRaw(t, ":BanchoBot!cho@ppy.sh PRIVMSG mp")
	conn.FeedRaw(t, "_host :hello\r\n:cho.ppy.sh 001 mp_host :Welcome\r\n:BanchoBot!cho@ppy.sh PRIVMSG #mp_42 :Some Player joined in slot 1.\r\n")

	first := recvMessage(t, client)
	assert.Equal(t, KindPrivate, first.Kind)
	assert.Equal(t, "BanchoBot", first.Sender)
	assert.Equal(t, "hello", first.Body)

	second := recvMessage(t, client)
	assert.Equal(t, KindServer, second.Kind)

	third := recvMessage(t, client)
	assert.Equal(t, KindRoom, third.Kind)
	assert.Equal(t, "#mp_42", third.Room)
}

func TestClientAnswersPing(t *testing.T) {
	conn := fakes.NewIRCConn()
	client := testClient(t, conn)
	require.NoError(t, client.Connect(context.TODO()))

	conn.ExpectSent(t, waitFor) // PASS
	conn.ExpectSent(t, waitFor) // NICK

	conn.Feed(t, "PING cho.ppy.sh")
	assert.Equal(t, "PONG cho.ppy.sh", conn.ExpectSent(t, waitFor))

	// The ping never reaches the consumer.
	select {
	case m := <-client.Messages():
		t.Fatalf("unexpected message %q", m.Raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientSendOrderAndPacing(t *testing.T) {
	pacing := 40 * time.Millisecond
	conn := fakes.NewIRCConn()
	client, err := NewClient("mphost", "secret",
		WithClientDialer(fakes.NewIRCDialer(conn)),
		WithClientPacing(pacing),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.TODO()))
	conn.ExpectSent(t, waitFor) // PASS
	conn.ExpectSent(t, waitFor) // NICK

	require.NoError(t, client.Privmsg("#mp_42", "first"))
	require.NoError(t, client.Privmsg("#mp_42", "second"))
	require.NoError(t, client.Join("#mp_43"))

	start := time.Now()
	assert.Equal(t, "PRIVMSG #mp_42 : first", conn.ExpectSent(t, waitFor))
	assert.Equal(t, "PRIVMSG #mp_42 : second", conn.ExpectSent(t, waitFor))
	assert.Equal(t, "JOIN #mp_43", conn.ExpectSent(t, waitFor))

	// The third line cannot arrive within one pacing gap of the first.
	assert.GreaterOrEqual(t, time.Since(start), pacing)
}

func TestClientReadErrorAndReconnect(t *testing.T) {
	conn1 := fakes.NewIRCConn()
	conn2 := fakes.NewIRCConn()
	client := testClient(t, conn1, conn2)
	require.NoError(t, client.Connect(context.TODO()))

	conn1.Break(io.ErrUnexpectedEOF)

	select {
	case err := <-client.Errors():
		require.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("read error not surfaced")
	}

	require.NoError(t, client.Reconnect(context.TODO()))

	// Login replays on the fresh connection.
	assert.Equal(t, "PASS secret", conn2.ExpectSent(t, waitFor))
	assert.Equal(t, "NICK mp_host", conn2.ExpectSent(t, waitFor))

	conn2.Feed(t, ":cho.ppy.sh 001 mphost :Welcome back")
	assert.Equal(t, KindServer, recvMessage(t, client).Kind)
}

func TestClientSendAfterClose(t *testing.T) {
	client := testClient(t, fakes.NewIRCConn())
	client.Close()
	require.True(t, errors.Is(client.Send("NICK mphost"), ErrClientClosed))
}
