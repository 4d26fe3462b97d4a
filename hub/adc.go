package hub

import (
	"strconv"

	"dcnet/config"
	"dcnet/protocol"
)

type adcStage int

const (
	adcProtocol adcStage = iota
	adcIdentify
	adcNormal
)

// adcSession speaks the tokenized dialect with a hub. The stream is UTF-8
// throughout, so no charset conversion applies.
type adcSession struct {
	hub   *Hub
	stage adcStage
	sid   protocol.SID
	bySID map[protocol.SID]*User
	token int
}

func (s *adcSession) dialect() string { return "adc" }

func (s *adcSession) reset() {
	s.stage = adcProtocol
	s.sid = ""
	s.bySID = nil
}

func (s *adcSession) connected() {
	s.bySID = make(map[protocol.SID]*User)
	s.hub.nc.SendLine("HSUP ADBASE ADTIGR")
}

func (s *adcSession) send(m *protocol.ADCMessage) {
	s.hub.nc.SendLine(m.String())
}

func (s *adcSession) handleLine(line string) {
	m, err := protocol.ParseADC(line)
	if err != nil {
		s.hub.log.Debug("dropping undecodable message", "error", err)
		return
	}
	if m == nil {
		return
	}
	h := s.hub
	switch m.Cmd {
	case "SUP":
		// Extension negotiation is implicit with BASE and TIGR.
	case "SID":
		sid, ok := m.Positional(0)
		if !ok || !protocol.ValidSID(sid) {
			h.log.Warn("hub assigned an invalid session id")
			h.nc.Close()
			return
		}
		s.sid = protocol.SID(sid)
		s.stage = adcIdentify
		s.sendInfo(true)
	case "INF":
		s.handleINF(m)
	case "QUI":
		s.handleQUI(m)
	case "STA":
		s.handleSTA(m)
	case "MSG":
		s.handleMSG(m)
	case "SCH":
		if m.Source == s.sid {
			return
		}
		h.mgr.dispatcher.HandleADC(m, func(params []string) {
			s.send(&protocol.ADCMessage{
				Type:   'D',
				Cmd:    "RES",
				Source: s.sid,
				Dest:   m.Source,
				Params: params,
			})
		})
	case "RES":
		h.mgr.events.SearchResult(h, line)
	case "GPA":
		// Password login on this dialect needs a Tiger digest of the
		// challenge, which is not implemented.
		h.log.Error("hub requires password login, which is unsupported on this dialect")
		h.authFailed = true
		h.nc.Close()
	case "CTM", "RCM":
		h.log.Debug("ignoring transfer request on tokenized dialect", "cmd", m.Cmd)
	default:
		h.log.Debug("dropping unhandled message", "cmd", m.Cmd)
	}
}

func (s *adcSession) handleINF(m *protocol.ADCMessage) {
	h := s.hub
	if m.Type == 'I' {
		if name, ok := m.Param("NM"); ok {
			h.hubName = name
		}
		// The hub introducing itself completes IDENTIFY and VERIFY; the
		// join itself still waits for our own info to come back.
		if s.stage != adcNormal {
			s.stage = adcNormal
			h.loggedIn()
		}
		return
	}
	if m.Type != 'B' || m.Source == "" {
		return
	}
	u, known := s.bySID[m.Source]
	if !known {
		ni, ok := m.Param("NI")
		if !ok || ni == "" {
			h.log.Debug("user info without a nick", "sid", string(m.Source))
			return
		}
		u = h.addUser(ni)
		u.SID = m.Source
		s.bySID[m.Source] = u
	}
	first := !u.HasInfo
	delta, renamed := u.applyADCInfo(m)
	if renamed != "" && known {
		delete(h.users, u.Nick)
		u.Nick = renamed
		h.users[renamed] = u
	}
	h.accountInfo(delta, first)
	if u.IsOp && u.SID == s.sid {
		h.selfOp = true
	}
	if m.Source == s.sid && !h.receivedFirst {
		// Our own info echoed back marks the initial flood as settled.
		// Hubs that never sent an IINF log us in here as well.
		if s.stage != adcNormal {
			s.stage = adcNormal
			h.loggedIn()
		}
		h.receivedFirst = true
		h.maybeJoinComplete()
	}
}

func (s *adcSession) handleQUI(m *protocol.ADCMessage) {
	h := s.hub
	sid, ok := m.Positional(0)
	if !ok || !protocol.ValidSID(sid) {
		return
	}
	if protocol.SID(sid) == s.sid {
		if rd, ok := m.Param("RD"); ok && rd != "" {
			h.log.Info("hub redirected the session", "address", rd)
			h.addr = config.NormalizeAddr(rd)
		}
		if msg, ok := m.Param("MS"); ok {
			h.log.Warn("hub closed the session", "reason", msg)
		}
		h.nc.Close()
		return
	}
	if u, ok := s.bySID[protocol.SID(sid)]; ok {
		delete(s.bySID, protocol.SID(sid))
		h.removeUser(u.Nick)
	}
}

func (s *adcSession) handleSTA(m *protocol.ADCMessage) {
	h := s.hub
	code, ok := m.Positional(0)
	if !ok || len(code) != 3 {
		return
	}
	text, _ := m.Positional(1)
	switch code[0] {
	case '0':
		h.log.Info("hub status", "code", code, "text", text)
	case '1':
		h.log.Warn("hub warning", "code", code, "text", text)
	default:
		h.log.Error("fatal hub status", "code", code, "text", text)
		h.wantConnect = false
		h.nc.Close()
	}
}

func (s *adcSession) handleMSG(m *protocol.ADCMessage) {
	h := s.hub
	text, ok := m.Positional(0)
	if !ok {
		return
	}
	from := string(m.Source)
	if u, known := s.bySID[m.Source]; known {
		from = u.Nick
	}
	if _, pm := m.Param("PM"); pm || m.Type == 'D' || m.Type == 'E' {
		h.mgr.events.PrivateChat(h, from, text)
		return
	}
	h.mgr.events.Chat(h, from, text)
}

// sendInfo announces the local profile. The first announcement after SID
// assignment carries the identity proof and the full field set; later ones
// carry only what changed.
func (s *adcSession) sendInfo(force bool) {
	h := s.hub
	if s.sid == "" {
		return
	}
	cur := h.currentInfo()
	last := h.lastInfo
	full := force || !last.valid
	if !full && cur == last {
		return
	}
	h.lastInfo = cur

	m := protocol.NewADCMessage('B', "INF", s.sid)
	if s.stage == adcIdentify {
		m.Add("ID", h.mgr.cid.String())
		m.Add("PD", h.mgr.pid.String())
		m.Add("NI", h.cfg.Nick)
		m.Add("VE", clientName+" "+h.mgr.version)
	}
	if full || cur.desc != last.desc {
		m.Add("DE", cur.desc)
	}
	if full || cur.email != last.email {
		m.Add("EM", cur.email)
	}
	if full || cur.slots != last.slots {
		m.Add("SL", strconv.Itoa(cur.slots))
	}
	if full || cur.share != last.share {
		m.Add("SS", strconv.FormatUint(cur.share, 10))
	}
	if full || cur.hNorm != last.hNorm {
		m.Add("HN", strconv.Itoa(cur.hNorm))
	}
	if full || cur.hReg != last.hReg {
		m.Add("HR", strconv.Itoa(cur.hReg))
	}
	if full || cur.hOp != last.hOp {
		m.Add("HO", strconv.Itoa(cur.hOp))
	}
	if full || cur.active != last.active {
		if cur.active {
			m.Add("SU", "TCP4,UDP4")
			if ip := h.mgr.global.ActiveIP; ip != "" {
				m.Add("I4", ip)
			}
			m.Add("U4", strconv.Itoa(h.mgr.global.UDPPort))
		} else {
			m.Add("SU", "")
		}
	}
	s.send(m)
}

func (s *adcSession) sendChat(text string) {
	m := protocol.NewADCMessage('B', "MSG", s.sid)
	m.Params = append(m.Params, text)
	s.send(m)
}

func (s *adcSession) sendPrivate(to, text string) {
	u, ok := s.hub.User(to)
	if !ok || u.SID == "" {
		s.hub.log.Warn("cannot message unknown user", "nick", to)
		return
	}
	m := &protocol.ADCMessage{Type: 'D', Cmd: "MSG", Source: s.sid, Dest: u.SID}
	m.Params = append(m.Params, text, "PM"+string(s.sid))
	s.send(m)
}

func (s *adcSession) kick(nick string) {
	s.hub.log.Warn("kick is not supported on the tokenized dialect", "nick", nick)
}

func (s *adcSession) sendSearch(terms []string, kind int) {
	s.token++
	m := protocol.NewADCMessage('B', "SCH", s.sid)
	for _, t := range terms {
		m.Add("AN", t)
	}
	if kind == 8 {
		m.Add("TY", "2")
	}
	m.Add("TO", "dc"+strconv.Itoa(s.token))
	s.send(m)
}
