package search

import (
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"dcnet/filelist"
	"dcnet/network"
	"dcnet/protocol"
)

// Slots reports upload slot usage for the free/total figures in replies.
type Slots interface {
	SlotsInUse() int
	SlotsTotal() int
}

// HubContext describes the hub a request arrived on and how to send a
// relayed reply back through it.
type HubContext struct {
	OwnNick string
	Name    string
	Addr    string
	Send    func(line string)
}

// Dispatcher answers incoming searches. One instance serves every hub;
// a token-bucket gate sheds load when the share is being hammered.
type Dispatcher struct {
	list  func() *filelist.List
	slots Slots
	gate  *rate.Limiter
	log   *slog.Logger
}

// NewDispatcher wires the dispatcher. list is called per request so share
// refreshes take effect immediately.
func NewDispatcher(list func() *filelist.List, slots Slots) *Dispatcher {
	return &Dispatcher{
		list:  list,
		slots: slots,
		gate:  rate.NewLimiter(rate.Limit(10), 30),
		log:   slog.With("component", "search"),
	}
}

func (d *Dispatcher) free() (free, total int) {
	total = d.slots.SlotsTotal()
	free = total - d.slots.SlotsInUse()
	if free < 0 {
		free = 0
	}
	return free, total
}

// HandleNMDC answers one text-dialect search. Passive requesters get their
// replies relayed through the hub; active ones get datagrams.
func (d *Dispatcher) HandleNMDC(req protocol.SearchRequest, hub HubContext) {
	requester, passive := strings.CutPrefix(req.Origin, "Hub:")
	if passive && requester == hub.OwnNick {
		return
	}
	if !d.gate.Allow() {
		d.log.Debug("search dropped by rate gate", "hub", hub.Name)
		return
	}
	max := MaxResultsDirect
	if passive {
		max = MaxResultsHub
	}
	parsed, ok := FromNMDC(req, max)
	if !ok {
		return
	}
	results := Execute(d.list(), parsed)
	if len(results) == 0 {
		return
	}
	free, total := d.free()
	for _, n := range results {
		line := FormatNMDCResult(hub.OwnNick, n, free, total, hub.Name, hub.Addr)
		if passive {
			hub.Send(line + "\x05" + protocol.EscapeNMDC(requester))
		} else {
			network.SendUDP(req.Origin, []byte(line+"|"))
		}
	}
}

// HandleADC answers one tokenized-dialect SCH. reply forwards the RES
// parameters back over the transport the request came in on.
func (d *Dispatcher) HandleADC(m *protocol.ADCMessage, reply func(params []string)) {
	if !d.gate.Allow() {
		d.log.Debug("search dropped by rate gate", "dialect", "adc")
		return
	}
	parsed, token, ok := FromADC(m, MaxResultsDirect)
	if !ok {
		return
	}
	results := Execute(d.list(), parsed)
	free, _ := d.free()
	for _, n := range results {
		reply(ADCResultParams(n, free, token))
	}
}
