package peer

import (
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"dcnet/network"
	"dcnet/protocol"
)

// Supported extensions announced during the handshake.
const supportsLine = "$Supports MiniSlots XmlBZList ADCGet TTHL TTHF"

const (
	ourLock     = "EXTENDEDPROTOCOLABCABCABCABCABCABC"
	lingerGrace = 30 * time.Second
)

type connState int

const (
	stateConnecting connState = iota
	stateAwaitNick
	stateHandshake
	stateReady
	stateLingering
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAwaitNick:
		return "await-nick"
	case stateHandshake:
		return "handshake"
	case stateReady:
		return "ready"
	case stateLingering:
		return "lingering"
	default:
		return "closed"
	}
}

// Conn is one client-client connection. The local side only uploads; the
// remote drives the conversation with handshake commands and transfer
// requests. All methods run on the loop goroutine.
type Conn struct {
	reg      *Registry
	nc       *network.Conn
	log      *slog.Logger
	incoming bool

	state      connState
	nick       string
	hub        HubSession
	remoteExts []string
	registered bool
	key        connKey
	linger     *network.Timer
}

func (c *Conn) setState(s connState) {
	c.log.Debug("peer connection state", "state", s.String())
	c.state = s
}

// HandleConnected fires for outgoing dials. We introduce ourselves first
// and learn the remote nick from their reply.
func (c *Conn) HandleConnected(nc *network.Conn) {
	c.nc = nc
	c.sendIntro()
	c.setState(stateAwaitNick)
}

func (c *Conn) sendIntro() {
	c.nc.SendLine("$MyNick " + protocol.EscapeNMDC(c.hub.OwnNick()))
	c.nc.SendLine("$Lock " + ourLock + " Pk=dcnet" + c.reg.version)
}

func (c *Conn) HandleLine(nc *network.Conn, line string) {
	cmd := protocol.ParseNMDC(line)
	switch c.state {
	case stateAwaitNick:
		c.handleAwaitNick(cmd)
	case stateHandshake:
		c.handleHandshake(cmd)
	case stateReady:
		c.handleReady(cmd)
	case stateLingering, stateClosed:
		// Late traffic after shutdown is dropped.
	default:
		c.log.Debug("line before handshake", "state", c.state.String())
	}
}

func (c *Conn) handleAwaitNick(cmd protocol.NMDCCommand) {
	nick, ok := cmd.(protocol.MyNick)
	if !ok {
		c.reject("handshake out of order")
		return
	}
	c.nick = nick.Nick
	c.log = c.log.With("nick", c.nick)

	if c.hub == nil {
		if hub, ok := c.reg.takeExpect(c.nick); ok {
			c.hub = hub
		} else if hub, ok := c.reg.hubs.HubForUser(c.nick); ok {
			c.hub = hub
		}
	}
	if c.hub == nil || !c.hub.UserOnline(c.nick) {
		c.reject(errUserNotOnHub)
		return
	}
	if !c.reg.register(c) {
		c.reject(errTooManyConns)
		return
	}
	c.registered = true
	if c.incoming {
		c.sendIntro()
	}
	c.setState(stateHandshake)
}

func (c *Conn) handleHandshake(cmd protocol.NMDCCommand) {
	switch m := cmd.(type) {
	case protocol.MyNick:
		// The nick is immutable after the first announcement.
		c.log.Warn("ignoring repeated nick announcement", "nick", m.Nick)
	case protocol.Lock:
		if !strings.HasPrefix(m.Lock, "EXTENDEDPROTOCOL") {
			c.reject(errNoExtendedProt)
			return
		}
		c.nc.SendLine(supportsLine)
		c.nc.SendLine("$Direction Upload " + strconv.Itoa(1+rand.Intn(32766)))
		c.nc.SendLine("$Key " + protocol.LockToKey(m.Lock))
	case protocol.Supports:
		c.remoteExts = m.Extensions
		adcGet := false
		for _, ext := range m.Extensions {
			if ext == "ADCGet" {
				adcGet = true
			}
		}
		if !adcGet {
			c.reject(errNoExtendedProt)
			return
		}
	case protocol.Direction:
		// The local side never downloads, so any remote direction works.
	case protocol.Key:
		c.reg.metrics.handshakes.WithLabelValues("ok").Inc()
		c.log.Info("peer connection established", "dialect", "nmdc")
		c.setState(stateReady)
	case protocol.Invalid:
		c.log.Debug("dropping invalid line", "reason", m.Reason)
	default:
		c.reject("handshake out of order")
	}
}

func (c *Conn) handleReady(cmd protocol.NMDCCommand) {
	switch m := cmd.(type) {
	case protocol.ADCGet:
		c.serve(m)
	case protocol.PeerError:
		c.log.Debug("peer reported error", "reason", m.Text)
	case protocol.MaxedOut:
		c.log.Debug("peer has no free slots")
	case protocol.Invalid:
		c.log.Debug("dropping invalid line", "reason", m.Reason)
	default:
		// Download-side and legacy commands are ignored.
	}
}

func (c *Conn) serve(req protocol.ADCGet) {
	up, err := c.reg.share.Open(req.Type, req.Path, req.Start, req.Length)
	if err != nil {
		c.log.Debug("transfer request refused", "type", req.Type, "error", err)
		switch {
		case err == ErrInvalidRange:
			c.nc.SendLine("$Error Invalid range")
		default:
			c.nc.SendLine("$Error File Not Available")
		}
		return
	}
	granted := c.hub != nil && c.hub.SlotGranted(c.nick)
	if up.NeedSlot && !granted && !c.reg.admit() {
		up.Content.Close()
		c.nc.SendLine("$MaxedOut")
		return
	}
	c.nc.SendLine(protocol.FormatADCSend(up.Type, req.Path, up.Start, up.Length))
	c.reg.metrics.uploads.WithLabelValues(up.Type).Inc()
	c.reg.metrics.uploadBytes.Add(float64(up.Length))
	content := up.Content
	c.nc.SendFile(content, up.Length, func(err error) {
		content.Close()
		c.uploadDone(err)
	})
	c.reg.updateSlotGauge()
}

func (c *Conn) uploadDone(err error) {
	if err != nil {
		c.log.Debug("upload aborted", "error", err)
	}
	c.reg.updateSlotGauge()
}

func (c *Conn) reject(msg string) {
	c.reg.metrics.handshakes.WithLabelValues("rejected").Inc()
	c.log.Info("rejecting peer connection", "reason", msg)
	c.nc.SendLine("$Error " + msg)
	c.setState(stateLingering)
	c.nc.CloseAfterFlush()
}

// shutdown closes the connection once queued data drains, with a hard
// cutoff for stalled peers.
func (c *Conn) shutdown() {
	switch c.state {
	case stateClosed, stateLingering:
		return
	}
	if c.nc == nil {
		c.closeNow()
		return
	}
	c.setState(stateLingering)
	c.linger = c.reg.loop.AfterFunc(lingerGrace, c.closeNow)
	c.nc.CloseAfterFlush()
}

func (c *Conn) closeNow() {
	if c.state == stateClosed {
		return
	}
	c.setState(stateClosed)
	if c.linger != nil {
		c.linger.Stop()
		c.linger = nil
	}
	if c.nc != nil {
		c.nc.Close()
	}
	c.reg.drop(c)
}

// HandleClosed keeps the handle addressable through a grace period before
// the registry releases it. A fresh connection from the same peer cuts the
// period short through register.
func (c *Conn) HandleClosed(nc *network.Conn, err error) {
	if c.state == stateClosed {
		c.reg.drop(c)
		return
	}
	if err != nil {
		c.log.Debug("peer connection lost", "error", err)
	}
	c.setState(stateLingering)
	if c.linger == nil {
		c.linger = c.reg.loop.AfterFunc(lingerGrace, c.closeNow)
	}
}
