// Package search answers other users' search requests against the local
// share for both hub dialects.
package search

import (
	"strings"

	"dcnet/filelist"
	"dcnet/protocol"
)

// Search kinds of the text dialect. Kinds 2 through 7 select an extension
// group, 8 matches directories only and 9 is a hash lookup.
const (
	KindAny        = 1
	KindAudio      = 2
	KindArchive    = 3
	KindDocument   = 4
	KindExecutable = 5
	KindPicture    = 6
	KindVideo      = 7
	KindDirectory  = 8
	KindHash       = 9
)

// Result caps. Hub-relayed replies are throttled harder than direct
// datagrams because every reply crosses the hub.
const (
	MaxResultsHub    = 5
	MaxResultsDirect = 10
)

var extGroups = map[int][]string{
	KindAudio:      {"mp3", "mp2", "wav", "au", "rm", "mid", "sm"},
	KindArchive:    {"zip", "arj", "rar", "lzh", "gz", "z", "arc", "pak"},
	KindDocument:   {"doc", "txt", "wri", "pdf", "ps", "tex"},
	KindExecutable: {"pm", "exe", "bat", "com"},
	KindPicture:    {"gif", "jpg", "jpeg", "bmp", "pcx", "png", "wmf", "psd"},
	KindVideo:      {"mpg", "mpeg", "avi", "asf", "mov"},
}

// Request is a dialect-independent search.
type Request struct {
	Kind       int
	Terms      []string
	Root       protocol.TTH
	MinSize    uint64
	MaxSize    uint64
	HasMinSize bool
	HasMaxSize bool
	MaxResults int

	// DirOnly carries a directory restriction alongside a hash lookup.
	// Hash candidates are always files, so the combination matches
	// nothing, but the filter must still be honored rather than dropped.
	DirOnly bool
}

// Match applies size, kind and extension restrictions to one candidate.
// Files are only ever reported with a known hash, since replies carry it.
func (r *Request) Match(n *filelist.Node) bool {
	if n.IsDir {
		if r.Kind != KindAny && r.Kind != KindDirectory {
			return false
		}
	} else {
		if r.Kind == KindDirectory || !n.HasTTH {
			return false
		}
		if exts, ok := extGroups[r.Kind]; ok && !matchExt(n.Name, exts) {
			return false
		}
	}
	if r.HasMinSize && n.Size < r.MinSize {
		return false
	}
	if r.HasMaxSize && n.Size > r.MaxSize {
		return false
	}
	return true
}

func matchExt(name string, exts []string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	ext := strings.ToLower(name[i+1:])
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Execute runs the request against the share. Hash lookups short-circuit
// through the index; the filters still apply afterwards so a size
// restriction cannot be bypassed by asking per hash.
func Execute(list *filelist.List, req *Request) []*filelist.Node {
	max := req.MaxResults
	if max <= 0 {
		max = MaxResultsHub
	}
	if req.Kind == KindHash {
		var out []*filelist.Node
		for _, n := range list.ByTTH(req.Root) {
			if req.matchHash(n) {
				out = append(out, n)
				if len(out) >= max {
					break
				}
			}
		}
		return out
	}
	if len(req.Terms) == 0 {
		return nil
	}
	return list.Search(req.Terms, func(n *filelist.Node) bool { return req.Match(n) }, max)
}

func (r *Request) matchHash(n *filelist.Node) bool {
	if r.DirOnly || n.IsDir || !n.HasTTH {
		return false
	}
	if r.HasMinSize && n.Size < r.MinSize {
		return false
	}
	if r.HasMaxSize && n.Size > r.MaxSize {
		return false
	}
	return true
}
