package hub

import (
	"fmt"
	"strings"

	"dcnet/config"
	"dcnet/protocol"
	"dcnet/search"
)

// nmdcSession speaks the text dialect with a hub. Lines cross the charset
// boundary here; everything beyond is UTF-8.
type nmdcSession struct {
	hub        *Hub
	extensions map[string]bool
}

func (s *nmdcSession) dialect() string { return "nmdc" }

func (s *nmdcSession) reset() {
	s.extensions = nil
}

func (s *nmdcSession) connected() {
	// The hub opens with $Lock.
}

func (s *nmdcSession) send(line string) {
	raw, err := s.hub.charset.FromUTF8(line)
	if err != nil {
		s.hub.log.Warn("dropping outgoing line", "error", err)
		return
	}
	s.hub.nc.SendLine(raw)
}

func (s *nmdcSession) handleLine(raw string) {
	line, err := s.hub.charset.ToUTF8(raw)
	if err != nil {
		s.hub.log.Debug("dropping undecodable line", "error", err)
		return
	}
	h := s.hub
	switch m := protocol.ParseNMDC(line).(type) {
	case protocol.Lock:
		if strings.HasPrefix(m.Lock, "EXTENDEDPROTOCOL") {
			s.send("$Supports NoGetINFO NoHello UserIP2")
		}
		s.send("$Key " + protocol.LockToKey(m.Lock))
		s.send("$ValidateNick " + protocol.EscapeNMDC(h.cfg.Nick))
	case protocol.Supports:
		s.extensions = make(map[string]bool, len(m.Extensions))
		for _, ext := range m.Extensions {
			s.extensions[ext] = true
		}
	case protocol.Hello:
		if m.Nick == h.cfg.Nick {
			h.loggedIn()
			s.send("$Version 1,0091")
			s.send("$GetNickList")
			s.sendInfo(true)
		} else {
			u := h.addUser(m.Nick)
			if !u.HasInfo && !s.extensions["NoGetINFO"] {
				s.send("$GetINFO " + protocol.EscapeNMDC(m.Nick) + " " + protocol.EscapeNMDC(h.cfg.Nick))
			}
		}
	case protocol.GetPass:
		if h.cfg.Password == "" {
			h.log.Error("hub requires a password but none is configured")
			h.authFailed = true
			h.nc.Close()
			return
		}
		s.send("$MyPass " + protocol.EscapeNMDC(h.cfg.Password))
	case protocol.BadPass:
		h.log.Error("hub rejected the configured password")
		h.authFailed = true
		h.nc.Close()
	case protocol.ValidateDenied:
		h.log.Error("hub rejected the nick", "nick", h.cfg.Nick)
		h.authFailed = true
		h.nc.Close()
	case protocol.HubIsFull:
		h.log.Warn("hub is full")
		h.wantConnect = false
		h.nc.Close()
	case protocol.ForceMove:
		h.log.Info("hub redirected the session", "address", m.Address)
		h.addr = config.NormalizeAddr(m.Address)
		h.nc.Close()
	case protocol.HubName:
		h.hubName = m.Name
	case protocol.NickList:
		for _, nick := range m.Nicks {
			u := h.addUser(nick)
			if !u.HasInfo && !s.extensions["NoGetINFO"] {
				s.send("$GetINFO " + protocol.EscapeNMDC(nick) + " " + protocol.EscapeNMDC(h.cfg.Nick))
			}
		}
		h.receivedFirst = true
		h.maybeJoinComplete()
	case protocol.OpList:
		for _, nick := range m.Nicks {
			h.addUser(nick)
		}
		h.applyOpList(m.Nicks)
		h.receivedFirst = true
		h.maybeJoinComplete()
	case protocol.MyINFO:
		u := h.addUser(m.Nick)
		first := !u.HasInfo
		if delta, ok := u.applyNMDCInfo(m.Info); ok {
			h.accountInfo(delta, first)
			h.maybeJoinComplete()
		} else {
			h.log.Debug("unparsable user info", "nick", m.Nick)
		}
	case protocol.Quit:
		if m.Nick == h.cfg.Nick {
			h.nc.Close()
			return
		}
		h.removeUser(m.Nick)
	case protocol.Chat:
		h.mgr.events.Chat(h, m.Nick, m.Text)
	case protocol.PrivateMessage:
		h.mgr.events.PrivateChat(h, m.From, m.Text)
	case protocol.ConnectToMe:
		if m.Target == h.cfg.Nick {
			h.mgr.peers.Dial(h, m.Address)
		}
	case protocol.RevConnectToMe:
		if m.Target != h.cfg.Nick {
			return
		}
		if !h.mgr.global.Active {
			h.log.Debug("cannot answer reverse connect while passive", "nick", m.From)
			return
		}
		h.mgr.peers.Expect(h.id, m.From)
		s.send("$ConnectToMe " + protocol.EscapeNMDC(m.From) + " " + h.mgr.activeAddr())
	case protocol.SearchRequest:
		h.mgr.dispatcher.HandleNMDC(m, search.HubContext{
			OwnNick: h.cfg.Nick,
			Name:    h.hubName,
			Addr:    h.addr,
			Send:    s.send,
		})
	case protocol.SearchResult:
		h.mgr.events.SearchResult(h, line)
	case protocol.Invalid:
		h.log.Debug("dropping unhandled line", "reason", m.Reason)
	}
}

// sendInfo announces the local profile. Without force, nothing is sent
// unless a field changed since the last announcement.
func (s *nmdcSession) sendInfo(force bool) {
	h := s.hub
	cur := h.currentInfo()
	if !force && h.lastInfo == cur {
		return
	}
	h.lastInfo = cur

	mode := byte('P')
	if cur.active {
		mode = 'A'
	}
	s.send(fmt.Sprintf("$MyINFO $ALL %s %s<%s V:%s,M:%c,H:%d/%d/%d,S:%d>$ $%s\x01$%s$%d$",
		protocol.EscapeNMDC(h.cfg.Nick),
		protocol.EscapeNMDC(cur.desc),
		clientName, h.mgr.version, mode,
		cur.hNorm, cur.hReg, cur.hOp, cur.slots,
		cur.conn,
		protocol.EscapeNMDC(cur.email),
		cur.share))
}

func (s *nmdcSession) sendChat(text string) {
	s.send("<" + protocol.EscapeNMDC(s.hub.cfg.Nick) + "> " + protocol.EscapeNMDC(text))
}

func (s *nmdcSession) sendPrivate(to, text string) {
	nick := protocol.EscapeNMDC(s.hub.cfg.Nick)
	s.send("$To: " + protocol.EscapeNMDC(to) + " From: " + nick + " $<" + nick + "> " + protocol.EscapeNMDC(text))
}

func (s *nmdcSession) kick(nick string) {
	s.send("$Kick " + protocol.EscapeNMDC(nick))
}

func (s *nmdcSession) sendSearch(terms []string, kind int) {
	h := s.hub
	origin := "Hub:" + protocol.EscapeNMDC(h.cfg.Nick)
	if h.mgr.global.Active {
		origin = h.mgr.udpAddr()
	}
	query := strings.Join(terms, "$")
	s.send(fmt.Sprintf("$Search %s F?F?0?%d?%s", origin, kind, protocol.EscapeNMDC(query)))
}
