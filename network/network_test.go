package network

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	connected chan *Conn
	lines     chan string
	closed    chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected: make(chan *Conn, 4),
		lines:     make(chan string, 16),
		closed:    make(chan error, 4),
	}
}

func (h *recordingHandler) HandleConnected(c *Conn)         { h.connected <- c }
func (h *recordingHandler) HandleLine(c *Conn, line string) { h.lines <- line }
func (h *recordingHandler) HandleClosed(c *Conn, err error) { h.closed <- err }

func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop := NewLoop()
	go loop.Run()
	t.Cleanup(loop.Stop)
	return loop
}

func TestLoopPostRunsTasks(t *testing.T) {
	loop := startLoop(t)

	done := make(chan struct{})
	loop.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestTimerStopPreventsCallback(t *testing.T) {
	loop := startLoop(t)

	fired := make(chan struct{}, 1)
	tm := loop.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	tm.Stop()

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(80 * time.Millisecond):
	}

	tm = loop.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	tm.Stop()
}

func TestConnDeliversSeparatedLines(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()

	client, server := net.Pipe()
	c := Accept(loop, client, '|', h)
	c.Start()
	defer c.Close()

	go func() {
		io.WriteString(server, "$Hello alice|$Qu")
		io.WriteString(server, "it bob|partial without terminator")
		server.Close()
	}()

	require.Equal(t, "$Hello alice", <-h.lines)
	require.Equal(t, "$Quit bob", <-h.lines)

	select {
	case err := <-h.closed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("close event never fired")
	}
	select {
	case line := <-h.lines:
		t.Fatalf("unterminated data delivered as line %q", line)
	default:
	}
}

func TestConnWriteOrderingAndFileAccounting(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()

	client, server := net.Pipe()
	c := Accept(loop, client, '\n', h)
	c.Start()
	defer c.Close()

	payload := bytes.Repeat([]byte{0x42}, 300)
	sent := make(chan error, 1)
	c.SendLine("first")
	c.SendFile(bytes.NewReader(payload), int64(len(payload)), func(err error) { sent <- err })
	c.SendLine("second")

	want := "first\n" + string(payload) + "second\n"
	got := make([]byte, len(want))
	_, err := io.ReadFull(server, got)
	require.NoError(t, err)
	require.Equal(t, want, string(got))

	select {
	case err = <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
	require.Eventually(t, func() bool {
		return c.FileBytesLeft() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConnFileBytesLeftWhileBlocked(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()

	client, server := net.Pipe()
	c := Accept(loop, client, '\n', h)
	c.Start()

	// A pipe has no buffer, so nothing drains until the far side reads.
	payload := strings.Repeat("x", 1000)
	aborted := make(chan error, 1)
	c.SendFile(strings.NewReader(payload), int64(len(payload)), func(err error) { aborted <- err })
	require.Eventually(t, func() bool {
		return c.FileBytesLeft() > 0
	}, time.Second, time.Millisecond)

	c.Close()
	server.Close()

	select {
	case err := <-aborted:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("abort callback never fired")
	}
	require.Eventually(t, func() bool {
		return c.FileBytesLeft() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConnLocalClose(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()

	client, server := net.Pipe()
	defer server.Close()
	c := Accept(loop, client, '|', h)
	c.Start()
	c.Close()

	select {
	case err := <-h.closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close event never fired")
	}
}

func TestListenerDeliversConnections(t *testing.T) {
	loop := startLoop(t)

	accepted := make(chan net.Conn, 1)
	l, err := Listen(loop, "127.0.0.1:0", func(nc net.Conn) { accepted <- nc })
	require.NoError(t, err)
	defer l.Close()

	nc, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	select {
	case got := <-accepted:
		got.Close()
	case <-time.After(time.Second):
		t.Fatal("accepted connection never delivered")
	}
}

func TestUDPRoundTrip(t *testing.T) {
	loop := startLoop(t)

	got := make(chan []byte, 1)
	u, err := ListenUDP(loop, "127.0.0.1:0", func(payload []byte, _ net.Addr) { got <- payload })
	require.NoError(t, err)
	defer u.Close()

	SendUDP(u.Addr().String(), []byte("$SR nick result"))

	select {
	case payload := <-got:
		require.Equal(t, "$SR nick result", string(payload))
	case <-time.After(time.Second):
		t.Fatal("datagram never delivered")
	}
}
