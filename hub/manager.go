// Package hub implements hub sessions for both dialects on top of the
// shared event loop: connection lifecycle, login, the user directory,
// profile announcements and search dispatch.
package hub

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"

	"dcnet/config"
	"dcnet/network"
	"dcnet/peer"
	"dcnet/protocol"
	"dcnet/search"
)

const clientName = "dcnet"

// Manager owns every hub session plus the shared peer registry and search
// dispatcher. It is the lookup point connections use instead of holding hub
// pointers, so a closed hub simply stops resolving. All methods run on the
// loop goroutine.
type Manager struct {
	loop    *network.Loop
	global  config.Config
	version string
	pid     protocol.TTH
	cid     protocol.TTH

	share      *peer.Share
	peers      *peer.Registry
	dispatcher *search.Dispatcher
	events     Events

	hubs   map[uint64]*Hub
	byName map[string]*Hub
	nextID uint64

	log *slog.Logger
}

// NewManager wires the manager, the client-client registry and the search
// dispatcher around one share.
func NewManager(loop *network.Loop, cfg *config.Config, share *peer.Share, version string, events Events) (*Manager, error) {
	if events == nil {
		events = NopEvents{}
	}
	m := &Manager{
		loop:    loop,
		share:   share,
		global:  *cfg,
		version: version,
		events:  events,
		hubs:    make(map[uint64]*Hub),
		byName:  make(map[string]*Hub),
		log:     slog.With("component", "hub"),
	}
	if cfg.PID != "" {
		pid, err := protocol.ParseTTH(cfg.PID)
		if err != nil {
			return nil, fmt.Errorf("hub: %w", err)
		}
		m.pid = pid
	} else {
		pid, _, err := protocol.GenerateIdentity()
		if err != nil {
			return nil, fmt.Errorf("hub: %w", err)
		}
		m.pid = pid
	}
	m.cid = protocol.DeriveCID(m.pid)

	m.peers = peer.NewRegistry(loop, m, share, cfg.Slots, version)
	m.dispatcher = search.NewDispatcher(share.List, m.peers)

	for name, hc := range cfg.Hubs {
		h, err := newHub(m.allocID(), name, hc, m)
		if err != nil {
			return nil, fmt.Errorf("hub: %s: %w", name, err)
		}
		m.hubs[h.id] = h
		m.byName[name] = h
	}
	return m, nil
}

func (m *Manager) allocID() uint64 {
	m.nextID++
	return m.nextID
}

// Peers exposes the client-client registry for the listener.
func (m *Manager) Peers() *peer.Registry { return m.peers }

// Hub implements peer.Resolver.
func (m *Manager) Hub(id uint64) (peer.HubSession, bool) {
	h, ok := m.hubs[id]
	if !ok || h.state < StateLoggedIn {
		return nil, false
	}
	return h, true
}

// HubForUser implements peer.Resolver: it finds an open hub with the nick
// online.
func (m *Manager) HubForUser(nick string) (peer.HubSession, bool) {
	for _, h := range m.sorted() {
		if h.state >= StateLoggedIn && h.UserOnline(nick) {
			return h, true
		}
	}
	return nil, false
}

// ByName looks a hub up by configuration entry name.
func (m *Manager) ByName(name string) (*Hub, bool) {
	h, ok := m.byName[name]
	return h, ok
}

// Hubs returns all hubs ordered by name.
func (m *Manager) Hubs() []*Hub { return m.sorted() }

func (m *Manager) sorted() []*Hub {
	out := make([]*Hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// HubCounts reports how many open hubs we occupy as a regular user, a
// registered user and an operator. Every hub announces these figures for
// the whole client, not per session.
func (m *Manager) HubCounts() (norm, reg, op int) {
	for _, h := range m.hubs {
		if h.state < StateLoggedIn {
			continue
		}
		switch {
		case h.selfOp:
			op++
		case h.cfg.Password != "":
			reg++
		default:
			norm++
		}
	}
	return norm, reg, op
}

// ShareSize is the local share size announced to hubs.
func (m *Manager) ShareSize() uint64 {
	return m.share.List().Root.Size
}

// activeAddr is the ip:port peers should dial for client connections.
func (m *Manager) activeAddr() string {
	return net.JoinHostPort(m.global.ActiveIP, strconv.Itoa(m.global.TCPPort))
}

// udpAddr is the ip:port search results should be sent to.
func (m *Manager) udpAddr() string {
	return net.JoinHostPort(m.global.ActiveIP, strconv.Itoa(m.global.UDPPort))
}

// ConnectAll opens every hub marked for automatic connection.
func (m *Manager) ConnectAll() {
	for _, h := range m.sorted() {
		if h.cfg.AutoConnect {
			h.Connect()
		}
	}
}

// CloseHub destroys a hub tab. Peer connections that validated against it
// lose their back-reference but keep serving; only the resolver entry goes
// away.
func (m *Manager) CloseHub(name string) bool {
	h, ok := m.byName[name]
	if !ok {
		return false
	}
	h.Disconnect()
	m.peers.DetachHub(h.id)
	delete(m.byName, name)
	delete(m.hubs, h.id)
	return true
}

// Close disconnects every hub and drains peer connections.
func (m *Manager) Close() {
	for _, h := range m.hubs {
		h.Disconnect()
	}
	m.peers.Close()
}

// SearchAll broadcasts a search on every joined hub.
func (m *Manager) SearchAll(terms []string, kind int) {
	for _, h := range m.sorted() {
		h.SendSearch(terms, kind)
	}
}

// HandleDatagram routes one UDP payload: search results for our own
// queries arrive here on active setups.
func (m *Manager) HandleDatagram(payload []byte, from net.Addr) {
	text := strings.TrimSuffix(string(payload), "|")
	switch {
	case strings.HasPrefix(text, "$SR "):
		if cmd, ok := protocol.ParseNMDC(text).(protocol.SearchResult); ok {
			if h, found := m.HubForUser(cmd.Nick); found {
				m.events.SearchResult(h.(*Hub), text)
				return
			}
			m.log.Debug("search result from unknown user", "nick", cmd.Nick)
		}
	case strings.HasPrefix(text, "URES "):
		m.log.Debug("ignoring unsolicited tokenized result", "from", from.String())
	default:
		m.log.Debug("unrecognized datagram", "from", from.String())
	}
}
