package search

import (
	"strconv"

	"dcnet/filelist"
	"dcnet/protocol"
)

// FromADC converts a tokenized-dialect SCH into a Request. The token is
// echoed back in every reply so the requester can pair them up.
func FromADC(m *protocol.ADCMessage, maxResults int) (req *Request, token string, ok bool) {
	out := &Request{Kind: KindAny, MaxResults: maxResults}
	token, _ = m.Param("TO")

	if root, found := m.Param("TR"); found {
		t, err := protocol.ParseTTH(root)
		if err != nil {
			return nil, "", false
		}
		out.Kind = KindHash
		out.Root = t
		if ty, found := m.Param("TY"); found && ty == "2" {
			out.DirOnly = true
		}
	} else {
		for i := 0; ; {
			term, next, found := m.ParamAfter("AN", i)
			if !found {
				break
			}
			if term != "" {
				out.Terms = append(out.Terms, term)
			}
			i = next
		}
		if len(out.Terms) == 0 {
			return nil, "", false
		}
		if ty, found := m.Param("TY"); found && ty == "2" {
			out.Kind = KindDirectory
		}
	}
	if v, found := m.Param("GE"); found {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			out.MinSize, out.HasMinSize = n, true
		}
	}
	if v, found := m.Param("LE"); found {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			out.MaxSize, out.HasMaxSize = n, true
		}
	}
	if v, found := m.Param("EQ"); found {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			out.MinSize, out.HasMinSize = n, true
			out.MaxSize, out.HasMaxSize = n, true
		}
	}
	return out, token, true
}

// ADCResultParams builds the named parameters of one RES reply. The caller
// wraps them with the message type and session identifiers of its
// transport.
func ADCResultParams(n *filelist.Node, free int, token string) []string {
	params := []string{
		"FN" + n.Path(),
		"SI" + strconv.FormatUint(n.Size, 10),
		"SL" + strconv.Itoa(free),
	}
	if !n.IsDir && n.HasTTH {
		params = append(params, "TR"+n.TTH.String())
	}
	if token != "" {
		params = append(params, "TO"+token)
	}
	return params
}
