package peer

import (
	"log/slog"
	"net"
	"time"

	"dcnet/network"
)

const expectTTL = 60 * time.Second

// HubSession is the view a peer connection needs of an open hub.
type HubSession interface {
	ID() uint64
	OwnNick() string
	UserOnline(nick string) bool
	SlotGranted(nick string) bool
}

// Resolver finds open hubs by identifier or by online user. Connections
// hold hub identifiers rather than hub objects, so a hub that closes mid
// handshake simply stops resolving.
type Resolver interface {
	Hub(id uint64) (HubSession, bool)
	HubForUser(nick string) (HubSession, bool)
}

type connKey struct {
	hubID uint64
	nick  string
}

type expectEntry struct {
	hubID uint64
	timer *network.Timer
}

// Registry owns all client-client connections, the table of nicks expected
// to connect, and upload slot accounting. All methods run on the loop
// goroutine unless noted.
type Registry struct {
	loop    *network.Loop
	hubs    Resolver
	share   *Share
	slots   int
	version string

	expects map[string]*expectEntry
	conns   map[connKey]*Conn
	open    map[*Conn]struct{}

	metrics *peerMetrics
	log     *slog.Logger
}

// NewRegistry wires the registry. slots is the configured upload slot
// count.
func NewRegistry(loop *network.Loop, hubs Resolver, share *Share, slots int, version string) *Registry {
	return &Registry{
		loop:    loop,
		hubs:    hubs,
		share:   share,
		slots:   slots,
		version: version,
		expects: make(map[string]*expectEntry),
		conns:   make(map[connKey]*Conn),
		open:    make(map[*Conn]struct{}),
		metrics: newPeerMetrics(),
		log:     slog.With("component", "peer"),
	}
}

// Expect records that nick was asked to connect on behalf of the given hub.
// The entry expires if no connection arrives in time.
func (r *Registry) Expect(hubID uint64, nick string) {
	if old, ok := r.expects[nick]; ok {
		old.timer.Stop()
	}
	e := &expectEntry{hubID: hubID}
	e.timer = r.loop.AfterFunc(expectTTL, func() {
		delete(r.expects, nick)
	})
	r.expects[nick] = e
}

func (r *Registry) takeExpect(nick string) (HubSession, bool) {
	e, ok := r.expects[nick]
	if !ok {
		return nil, false
	}
	e.timer.Stop()
	delete(r.expects, nick)
	return r.hubs.Hub(e.hubID)
}

// Accept adopts an incoming connection from the listener.
func (r *Registry) Accept(raw net.Conn) {
	c := &Conn{
		reg:      r,
		incoming: true,
		state:    stateAwaitNick,
		log:      r.log.With("remote", raw.RemoteAddr().String()),
	}
	c.nc = network.Accept(r.loop, raw, '|', c)
	r.open[c] = struct{}{}
	r.metrics.connections.WithLabelValues("in").Inc()
	c.nc.Start()
}

// Dial connects out to an active peer in response to a connect request
// received on hub.
func (r *Registry) Dial(hub HubSession, addr string) {
	c := &Conn{
		reg:   r,
		hub:   hub,
		state: stateConnecting,
		log:   r.log.With("remote", addr),
	}
	c.nc = network.Dial(r.loop, addr, '|', c)
	r.open[c] = struct{}{}
	r.metrics.connections.WithLabelValues("out").Inc()
}

// register claims the hub+nick pair. A live second connection for the same
// pair is refused; a lingering one is released to make room, so a fresh
// attempt cancels the grace timer.
func (r *Registry) register(c *Conn) bool {
	key := connKey{hubID: c.hub.ID(), nick: c.nick}
	if old, dup := r.conns[key]; dup {
		if old.state != stateLingering {
			return false
		}
		old.closeNow()
	}
	r.conns[key] = c
	c.key = key
	return true
}

func (r *Registry) drop(c *Conn) {
	delete(r.open, c)
	if c.registered && r.conns[c.key] == c {
		delete(r.conns, c.key)
	}
	r.updateSlotGauge()
}

// SlotsInUse counts connections with queued upload bytes. The count is
// taken at admission time, so short races can push it past the configured
// total; it can never undercount an active upload.
func (r *Registry) SlotsInUse() int {
	n := 0
	for c := range r.open {
		if c.nc != nil && c.nc.FileBytesLeft() > 0 {
			n++
		}
	}
	return n
}

// SlotsTotal reports the configured slot count.
func (r *Registry) SlotsTotal() int { return r.slots }

func (r *Registry) admit() bool {
	return r.SlotsInUse() < r.slots
}

func (r *Registry) updateSlotGauge() {
	r.metrics.slotsInUse.Set(float64(r.SlotsInUse()))
}

// DetachHub severs a destroyed hub tab from its peer connections. Running
// transfers keep going without the back-reference; only pending connect
// expectations die with the tab.
func (r *Registry) DetachHub(hubID uint64) {
	for nick, e := range r.expects {
		if e.hubID == hubID {
			e.timer.Stop()
			delete(r.expects, nick)
		}
	}
	for c := range r.open {
		if c.hub != nil && c.hub.ID() == hubID {
			c.hub = nil
		}
	}
}

// Close shuts down every connection, draining in-flight uploads.
func (r *Registry) Close() {
	for c := range r.open {
		c.shutdown()
	}
}
