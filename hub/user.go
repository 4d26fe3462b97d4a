package hub

import (
	"strconv"
	"strings"

	"dcnet/protocol"
)

// User is one entry of a hub's user directory. Fields are populated
// incrementally as info broadcasts arrive; HasInfo flips once the first
// complete profile is in.
type User struct {
	Nick    string
	SID     protocol.SID
	HasInfo bool
	IsOp    bool

	Description string
	Client      string
	Email       string
	Connection  string
	ShareSize   uint64
	Slots       int
	HubsNorm    int
	HubsReg     int
	HubsOp      int
	Active      bool
	CID         protocol.TTH
	HasCID      bool
}

// applyNMDCInfo parses a text-dialect info string into the user. The format
// is five '$'-separated fields with an optional client tag closing the
// description. A malformed string leaves the user exactly as it was.
// The returned delta is the share size change.
func (u *User) applyNMDCInfo(info string) (delta int64, ok bool) {
	fields := strings.Split(info, "$")
	if n := len(fields); n == 6 && fields[5] == "" {
		// Wire format closes the string with a '$'.
		fields = fields[:5]
	} else if n != 5 {
		return 0, false
	}
	desc := fields[0]
	connFlag := fields[2]
	email := fields[3]
	share, err := strconv.ParseUint(strings.TrimSpace(fields[4]), 10, 64)
	if err != nil {
		return 0, false
	}

	conn := connFlag
	if len(conn) > 0 {
		// The last byte is the away/status flag.
		conn = conn[:len(conn)-1]
	}

	client, slots, hn, hr, ho, active, hasTag := parseNMDCTag(&desc)

	delta = int64(share) - int64(u.ShareSize)
	u.Description = strings.TrimSpace(desc)
	u.Connection = conn
	u.Email = email
	u.ShareSize = share
	if hasTag {
		u.Client = client
		u.Slots = slots
		u.HubsNorm, u.HubsReg, u.HubsOp = hn, hr, ho
		u.Active = active
	}
	u.HasInfo = true
	return delta, true
}

// parseNMDCTag extracts a trailing "<client V:x,M:A,H:a/b/c,S:n>" tag from
// the description, removing it on success.
func parseNMDCTag(desc *string) (client string, slots, hn, hr, ho int, active, ok bool) {
	d := *desc
	if !strings.HasSuffix(d, ">") {
		return
	}
	open := strings.LastIndexByte(d, '<')
	if open < 0 {
		return
	}
	tag := d[open+1 : len(d)-1]
	parts := strings.Split(tag, ",")
	if len(parts) < 2 {
		return
	}
	name := parts[0]
	if i := strings.Index(name, " V:"); i >= 0 {
		name = name[:i] + " " + name[i+3:]
	}
	for _, p := range parts[1:] {
		key, val, found := strings.Cut(p, ":")
		if !found {
			continue
		}
		switch key {
		case "M":
			active = val == "A"
		case "H":
			hubs := strings.Split(val, "/")
			if len(hubs) == 3 {
				hn, _ = strconv.Atoi(hubs[0])
				hr, _ = strconv.Atoi(hubs[1])
				ho, _ = strconv.Atoi(hubs[2])
			}
		case "S":
			slots, _ = strconv.Atoi(val)
		}
	}
	client = name
	*desc = d[:open]
	ok = true
	return
}

// applyADCInfo folds an INF's named parameters into the user. Keys arrive
// incrementally; only present keys change state. The returned delta is the
// share size change; renamed reports a nick change through the NI key.
func (u *User) applyADCInfo(m *protocol.ADCMessage) (delta int64, renamed string) {
	for _, p := range m.Params {
		if len(p) < 2 {
			continue
		}
		key, val := p[:2], p[2:]
		switch key {
		case "NI":
			if val != "" && val != u.Nick {
				renamed = val
			}
		case "DE":
			u.Description = val
		case "VE":
			u.Client = val
		case "EM":
			u.Email = val
		case "ID":
			if cid, err := protocol.ParseTTH(val); err == nil {
				u.CID = cid
				u.HasCID = true
			}
		case "SS":
			if n, err := strconv.ParseUint(val, 10, 64); err == nil {
				delta += int64(n) - int64(u.ShareSize)
				u.ShareSize = n
			}
		case "SL":
			if n, err := strconv.Atoi(val); err == nil {
				u.Slots = n
			}
		case "HN":
			if n, err := strconv.Atoi(val); err == nil {
				u.HubsNorm = n
			}
		case "HR":
			if n, err := strconv.Atoi(val); err == nil {
				u.HubsReg = n
			}
		case "HO":
			if n, err := strconv.Atoi(val); err == nil {
				u.HubsOp = n
			}
		case "SU":
			u.Active = false
			for _, ext := range strings.Split(val, ",") {
				if ext == "TCP4" || ext == "TCP6" {
					u.Active = true
				}
			}
		case "CT":
			if n, err := strconv.Atoi(val); err == nil {
				u.IsOp = n >= 4
			}
		}
	}
	u.HasInfo = true
	return delta, renamed
}
