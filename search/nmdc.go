package search

import (
	"fmt"
	"strings"

	"dcnet/filelist"
	"dcnet/protocol"
)

// FromNMDC converts a text-dialect search into a Request. The free-text
// query uses '$' as its space substitute. ok is false for queries that can
// never match anything here, such as hash searches for an unparsable root.
func FromNMDC(req protocol.SearchRequest, maxResults int) (*Request, bool) {
	out := &Request{Kind: req.Kind, MaxResults: maxResults}
	if req.SizeRestricted {
		if req.IsMaxSize {
			out.MaxSize, out.HasMaxSize = req.Size, true
		} else {
			out.MinSize, out.HasMinSize = req.Size, true
		}
	}
	if req.Kind == KindHash {
		rest, ok := strings.CutPrefix(req.Query, "TTH:")
		if !ok {
			return nil, false
		}
		root, err := protocol.ParseTTH(rest)
		if err != nil {
			return nil, false
		}
		out.Root = root
		return out, true
	}
	out.Terms = strings.Fields(strings.ReplaceAll(req.Query, "$", " "))
	if len(out.Terms) == 0 {
		return nil, false
	}
	return out, true
}

// nmdcPath renders a share path with the text dialect's backslash
// separators and no leading slash.
func nmdcPath(n *filelist.Node) string {
	p := strings.TrimPrefix(n.Path(), "/")
	p = strings.TrimSuffix(p, "/")
	return strings.ReplaceAll(p, "/", "\\")
}

// FormatNMDCResult renders one $SR line, without the requester suffix used
// for hub relay. Files report their hash; directories report the hub name.
func FormatNMDCResult(ownNick string, n *filelist.Node, free, total int, hubName, hubAddr string) string {
	if n.IsDir {
		return fmt.Sprintf("$SR %s %s %d/%d\x05%s (%s)",
			protocol.EscapeNMDC(ownNick), nmdcPath(n), free, total, hubName, hubAddr)
	}
	return fmt.Sprintf("$SR %s %s\x05%d %d/%d\x05TTH:%s (%s)",
		protocol.EscapeNMDC(ownNick), nmdcPath(n), n.Size, free, total, n.TTH.String(), hubAddr)
}
