package hub

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dcnet/config"
	"dcnet/filelist"
	"dcnet/network"
	"dcnet/peer"
	"dcnet/protocol"
)

func testTTH(seed byte) protocol.TTH {
	var h protocol.TTH
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

type recEvents struct {
	chats   chan [2]string
	pms     chan [2]string
	results chan string
}

func newRecEvents() *recEvents {
	return &recEvents{
		chats:   make(chan [2]string, 8),
		pms:     make(chan [2]string, 8),
		results: make(chan string, 8),
	}
}

func (e *recEvents) StateChanged(*Hub, State) {}

func (e *recEvents) Chat(_ *Hub, from, text string) { e.chats <- [2]string{from, text} }

func (e *recEvents) PrivateChat(_ *Hub, from, text string) { e.pms <- [2]string{from, text} }

func (e *recEvents) SearchResult(_ *Hub, raw string) { e.results <- raw }

type hubHarness struct {
	loop   *network.Loop
	mgr    *Manager
	hub    *Hub
	events *recEvents
}

func newHubHarness(t *testing.T, dialect string) *hubHarness {
	t.Helper()
	loop := network.NewLoop()
	go loop.Run()
	t.Cleanup(loop.Stop)

	list := filelist.NewList()
	music := filelist.NewDir("Music")
	list.Insert(list.Root, music)
	list.Insert(music, filelist.NewFile("red.mp3", 1000, testTTH(1)))
	share := peer.NewShare(list, nil, "", "")

	cfg := &config.Config{
		Nick:        "tester",
		Description: "just testing",
		Connection:  "0.01",
		Slots:       3,
		TCPPort:     4112,
		UDPPort:     4112,
		ActiveIP:    "192.0.2.9",
		Hubs: map[string]config.HubConfig{
			"testhub": {Addr: "hub.example.net:411", Dialect: dialect, Nick: "tester"},
		},
	}
	events := newRecEvents()

	var mgr *Manager
	var err error
	done := make(chan struct{})
	loop.Post(func() {
		mgr, err = NewManager(loop, cfg, share, "0.1", events)
		close(done)
	})
	<-done
	require.NoError(t, err)

	h, ok := mgr.ByName("testhub")
	require.True(t, ok)
	return &hubHarness{loop: loop, mgr: mgr, hub: h, events: events}
}

func (hh *hubHarness) onLoop(fn func()) {
	done := make(chan struct{})
	hh.loop.Post(func() { fn(); close(done) })
	<-done
}

// attach wires a pipe in place of a dialed hub connection and returns the
// hub-side end.
func (hh *hubHarness) attach(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	sep := byte('|')
	if hh.hub.cfg.Dialect == "adc" {
		sep = '\n'
	}
	hh.onLoop(func() {
		h := hh.hub
		h.wantConnect = true
		h.setState(StateConnecting)
		h.nc = network.Accept(hh.loop, client, sep, h)
		h.nc.Start()
		h.HandleConnected(h.nc)
	})
	return server, bufio.NewReader(server)
}

func (hh *hubHarness) sep() byte {
	if hh.hub.cfg.Dialect == "adc" {
		return '\n'
	}
	return '|'
}

func (hh *hubHarness) read(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	line, err := br.ReadString(hh.sep())
	require.NoError(t, err)
	return strings.TrimSuffix(line, string(hh.sep()))
}

func (hh *hubHarness) send(t *testing.T, w io.Writer, line string) {
	t.Helper()
	_, err := io.WriteString(w, line+string(hh.sep()))
	require.NoError(t, err)
}

func TestManagerCloseHub(t *testing.T) {
	hh := newHubHarness(t, "nmdc")

	var closed, again bool
	hh.onLoop(func() {
		closed = hh.mgr.CloseHub("testhub")
		again = hh.mgr.CloseHub("testhub")
	})
	require.True(t, closed)
	require.False(t, again, "a closed tab does not resolve twice")

	var ok bool
	var left int
	hh.onLoop(func() {
		_, ok = hh.mgr.ByName("testhub")
		left = len(hh.mgr.Hubs())
	})
	require.False(t, ok)
	require.Zero(t, left)
}
