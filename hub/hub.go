package hub

import (
	"fmt"
	"log/slog"
	"time"

	"dcnet/config"
	"dcnet/network"
	"dcnet/protocol"
)

const (
	reconnectDelay = 30 * time.Second
	infoInterval   = 5 * time.Minute
)

// State is the lifecycle of a hub session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshake
	StateLoggedIn
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateLoggedIn:
		return "logged-in"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// Events receives hub activity. Implementations run on the loop goroutine
// and must not block.
type Events interface {
	StateChanged(h *Hub, s State)
	Chat(h *Hub, from, text string)
	PrivateChat(h *Hub, from, text string)
	SearchResult(h *Hub, raw string)
}

// NopEvents discards everything.
type NopEvents struct{}

func (NopEvents) StateChanged(*Hub, State)         {}
func (NopEvents) Chat(*Hub, string, string)        {}
func (NopEvents) PrivateChat(*Hub, string, string) {}
func (NopEvents) SearchResult(*Hub, string)        {}

// session is the dialect half of a hub connection.
type session interface {
	dialect() string
	connected()
	handleLine(line string)
	sendInfo(force bool)
	sendChat(text string)
	sendPrivate(to, text string)
	sendSearch(terms []string, kind int)
	kick(nick string)
}

// selfInfo is the last announced profile, kept for change detection.
type selfInfo struct {
	valid  bool
	desc   string
	conn   string
	email  string
	share  uint64
	slots  int
	hNorm  int
	hReg   int
	hOp    int
	active bool
}

// Hub is one hub session: connection, dialect state machine and user
// directory. All methods run on the loop goroutine.
type Hub struct {
	id      uint64
	name    string
	cfg     config.HubConfig
	mgr     *Manager
	loop    *network.Loop
	log     *slog.Logger
	charset *protocol.Charset

	state   State
	nc      *network.Conn
	session session
	addr    string

	users     map[string]*User
	shareSize uint64
	shareUser int

	// granted survives reconnects; a slot grant lasts for the tab's
	// lifetime.
	granted map[string]bool

	receivedFirst bool
	joinComplete  bool
	hubName       string
	selfOp        bool

	lastInfo  selfInfo
	infoTimer *network.Timer
	reconnect *network.Timer

	// wantConnect distinguishes an intentional Disconnect from a dropped
	// connection that should be retried.
	wantConnect bool
	authFailed  bool

	metrics *hubMetrics
}

func newHub(id uint64, name string, hc config.HubConfig, mgr *Manager) (*Hub, error) {
	cs, err := protocol.NewCharset(hc.Encoding)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		id:      id,
		name:    name,
		cfg:     hc,
		mgr:     mgr,
		loop:    mgr.loop,
		charset: cs,
		addr:    hc.Addr,
		hubName: name,
		users:   make(map[string]*User),
		granted: make(map[string]bool),
		log:     slog.With("component", "hub", "hub", name, "dialect", hc.Dialect),
		metrics: newHubMetrics(),
	}
	if hc.Dialect == "adc" {
		h.session = &adcSession{hub: h}
	} else {
		h.session = &nmdcSession{hub: h}
	}
	return h, nil
}

// ID implements peer.HubSession.
func (h *Hub) ID() uint64 { return h.id }

// OwnNick implements peer.HubSession.
func (h *Hub) OwnNick() string { return h.cfg.Nick }

// UserOnline implements peer.HubSession.
func (h *Hub) UserOnline(nick string) bool {
	_, ok := h.users[nick]
	return ok
}

// SlotGranted implements peer.HubSession.
func (h *Hub) SlotGranted(nick string) bool { return h.granted[nick] }

// GrantSlot lets nick upload regardless of free slots until the hub tab
// closes.
func (h *Hub) GrantSlot(nick string) {
	h.granted[nick] = true
}

// Name is the configuration entry name.
func (h *Hub) Name() string { return h.name }

// HubName is the display name announced by the hub.
func (h *Hub) HubName() string { return h.hubName }

// State reports the session state.
func (h *Hub) State() State { return h.state }

// User looks up a directory entry by nick.
func (h *Hub) User(nick string) (*User, bool) {
	u, ok := h.users[nick]
	return u, ok
}

// UserCount reports the directory size.
func (h *Hub) UserCount() int { return len(h.users) }

// ShareSize is the summed share size over users with a complete profile.
func (h *Hub) ShareSize() uint64 { return h.shareSize }

// JoinComplete reports whether the initial user list and profiles are in.
func (h *Hub) JoinComplete() bool { return h.joinComplete }

func (h *Hub) setState(s State) {
	if h.state == s {
		return
	}
	h.log.Info("hub state changed", "state", s.String())
	h.state = s
	h.metrics.setState(h.name, s)
	h.mgr.events.StateChanged(h, s)
}

// Connect opens the hub connection. A session already connecting or open is
// left alone.
func (h *Hub) Connect() {
	if h.state != StateDisconnected {
		return
	}
	h.wantConnect = true
	h.authFailed = false
	h.stopReconnect()
	h.setState(StateConnecting)
	sep := byte('|')
	if h.cfg.Dialect == "adc" {
		sep = '\n'
	}
	h.nc = network.Dial(h.loop, h.addr, sep, h)
}

// Disconnect closes the session without scheduling a retry.
func (h *Hub) Disconnect() {
	h.wantConnect = false
	h.stopReconnect()
	h.teardown()
}

// SendChat sends a main-chat message.
func (h *Hub) SendChat(text string) {
	if h.state >= StateLoggedIn {
		h.session.sendChat(text)
	}
}

// SendPrivate sends a private message.
func (h *Hub) SendPrivate(to, text string) {
	if h.state >= StateLoggedIn {
		h.session.sendPrivate(to, text)
	}
}

// SendSearch broadcasts a search of ours on this hub.
func (h *Hub) SendSearch(terms []string, kind int) {
	if h.state == StateJoined {
		h.session.sendSearch(terms, kind)
	}
}

// Kick asks the hub to drop a user. Requires operator rights on most hubs.
func (h *Hub) Kick(nick string) {
	if h.state >= StateLoggedIn {
		h.session.kick(nick)
	}
}

// HandleConnected implements network.Handler.
func (h *Hub) HandleConnected(nc *network.Conn) {
	h.log.Info("hub connection established", "remote", nc.RemoteAddr().String())
	h.setState(StateHandshake)
	h.session.connected()
}

// HandleLine implements network.Handler.
func (h *Hub) HandleLine(nc *network.Conn, line string) {
	h.session.handleLine(line)
}

// HandleClosed implements network.Handler.
func (h *Hub) HandleClosed(nc *network.Conn, err error) {
	if err != nil {
		h.log.Warn("hub connection lost", "error", err)
	}
	h.teardown()
	if h.wantConnect && !h.authFailed {
		h.scheduleReconnect()
	}
}

func (h *Hub) teardown() {
	if h.nc != nil {
		nc := h.nc
		h.nc = nil
		nc.Close()
	}
	if h.infoTimer != nil {
		h.infoTimer.Stop()
		h.infoTimer = nil
	}
	h.users = make(map[string]*User)
	h.shareSize = 0
	h.shareUser = 0
	h.receivedFirst = false
	h.joinComplete = false
	h.selfOp = false
	h.lastInfo = selfInfo{}
	if sess, ok := h.session.(interface{ reset() }); ok {
		sess.reset()
	}
	// Peer connections outlive the hub session; a transient drop must not
	// cut running uploads.
	h.setState(StateDisconnected)
}

func (h *Hub) scheduleReconnect() {
	h.stopReconnect()
	h.log.Info("scheduling reconnect", "delay", reconnectDelay.String())
	h.metrics.reconnects.WithLabelValues(h.name).Inc()
	h.reconnect = h.loop.AfterFunc(reconnectDelay, func() {
		h.reconnect = nil
		h.Connect()
	})
}

func (h *Hub) stopReconnect() {
	if h.reconnect != nil {
		h.reconnect.Stop()
		h.reconnect = nil
	}
}

// loggedIn marks the session authenticated and starts the periodic profile
// announcement.
func (h *Hub) loggedIn() {
	h.setState(StateLoggedIn)
	if h.infoTimer == nil {
		h.infoTimer = h.loop.AfterFunc(infoInterval, h.periodicInfo)
	}
}

func (h *Hub) periodicInfo() {
	h.infoTimer = h.loop.AfterFunc(infoInterval, h.periodicInfo)
	if h.state >= StateLoggedIn {
		h.session.sendInfo(false)
	}
}

// currentInfo snapshots the profile we should be announcing right now.
func (h *Hub) currentInfo() selfInfo {
	norm, reg, op := h.mgr.HubCounts()
	g := h.mgr.global
	return selfInfo{
		valid:  true,
		desc:   g.Description,
		conn:   g.Connection,
		email:  g.Email,
		share:  h.mgr.ShareSize(),
		slots:  g.Slots,
		hNorm:  norm,
		hReg:   reg,
		hOp:    op,
		active: g.Active,
	}
}

// maybeJoinComplete flips joinComplete once the initial flood settled: the
// first user list arrived and, for the text dialect, every listed user has
// a profile.
func (h *Hub) maybeJoinComplete() {
	if h.joinComplete || !h.receivedFirst {
		return
	}
	if h.cfg.Dialect == "nmdc" && h.shareUser != len(h.users) {
		return
	}
	h.joinComplete = true
	h.setState(StateJoined)
	h.log.Info("join complete", "users", len(h.users), "share_bytes", h.shareSize)
}

// addUser creates a directory entry for a nick not seen before.
func (h *Hub) addUser(nick string) *User {
	if u, ok := h.users[nick]; ok {
		return u
	}
	u := &User{Nick: nick}
	h.users[nick] = u
	h.metrics.users.WithLabelValues(h.name).Set(float64(len(h.users)))
	return u
}

// removeUser drops a directory entry and its share contribution.
func (h *Hub) removeUser(nick string) {
	u, ok := h.users[nick]
	if !ok {
		return
	}
	if u.HasInfo {
		h.shareSize -= u.ShareSize
		h.shareUser--
	}
	delete(h.users, nick)
	h.metrics.users.WithLabelValues(h.name).Set(float64(len(h.users)))
	h.metrics.share.WithLabelValues(h.name).Set(float64(h.shareSize))
}

// accountInfo applies a share delta after a profile update. firstInfo is
// true when this was the user's first complete profile.
func (h *Hub) accountInfo(delta int64, firstInfo bool) {
	h.shareSize = uint64(int64(h.shareSize) + delta)
	if firstInfo {
		h.shareUser++
	}
	h.metrics.share.WithLabelValues(h.name).Set(float64(h.shareSize))
}

// applyOpList marks the listed nicks as operators and clears the flag on
// everyone else. Hubs send a full list, so absence means demotion.
func (h *Hub) applyOpList(nicks []string) {
	listed := make(map[string]bool, len(nicks))
	for _, n := range nicks {
		listed[n] = true
	}
	for nick, u := range h.users {
		u.IsOp = listed[nick]
	}
	h.selfOp = listed[h.cfg.Nick]
}

func (h *Hub) String() string {
	return fmt.Sprintf("hub %s (%s)", h.name, h.addr)
}
