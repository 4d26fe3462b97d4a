package search

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dcnet/filelist"
	"dcnet/protocol"
)

func testTTH(seed byte) protocol.TTH {
	var h protocol.TTH
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

func buildShare(t *testing.T) *filelist.List {
	t.Helper()
	l := filelist.NewList()
	music := filelist.NewDir("Music")
	l.Insert(l.Root, music)
	l.Insert(music, filelist.NewFile("red album.mp3", 4_000_000, testTTH(1)))
	l.Insert(music, filelist.NewFile("red single.wav", 900_000, testTTH(2)))
	l.Insert(music, filelist.NewFile("liner notes.txt", 2_000, testTTH(3)))

	video := filelist.NewDir("Video")
	l.Insert(l.Root, video)
	l.Insert(video, filelist.NewFile("red movie.avi", 700_000_000, testTTH(4)))
	l.Insert(video, filelist.NewFile("unhashed.avi", 1_000, protocol.TTH{}))
	return l
}

func exec(t *testing.T, l *filelist.List, req *Request) []string {
	t.Helper()
	var names []string
	for _, n := range Execute(l, req) {
		names = append(names, n.Name)
	}
	return names
}

func TestExecuteFreeText(t *testing.T) {
	l := buildShare(t)

	names := exec(t, l, &Request{Kind: KindAny, Terms: []string{"red"}, MaxResults: 10})
	require.ElementsMatch(t, []string{"red album.mp3", "red single.wav", "red movie.avi"}, names)

	names = exec(t, l, &Request{Kind: KindAny, Terms: []string{"red", "album"}, MaxResults: 10})
	require.Equal(t, []string{"red album.mp3"}, names)

	// Directory names satisfy terms for their whole subtree.
	names = exec(t, l, &Request{Kind: KindAny, Terms: []string{"music", "notes"}, MaxResults: 10})
	require.Equal(t, []string{"liner notes.txt"}, names)
}

func TestExecuteKindFilters(t *testing.T) {
	l := buildShare(t)

	names := exec(t, l, &Request{Kind: KindAudio, Terms: []string{"red"}, MaxResults: 10})
	require.ElementsMatch(t, []string{"red album.mp3", "red single.wav"}, names)

	names = exec(t, l, &Request{Kind: KindVideo, Terms: []string{"red"}, MaxResults: 10})
	require.Equal(t, []string{"red movie.avi"}, names)

	names = exec(t, l, &Request{Kind: KindDirectory, Terms: []string{"music"}, MaxResults: 10})
	require.Equal(t, []string{"Music"}, names)

	// Unhashed files are never reported.
	names = exec(t, l, &Request{Kind: KindAny, Terms: []string{"unhashed"}, MaxResults: 10})
	require.Empty(t, names)
}

func TestExecuteSizeFilters(t *testing.T) {
	l := buildShare(t)

	names := exec(t, l, &Request{Kind: KindAny, Terms: []string{"red"}, MinSize: 1_000_000, HasMinSize: true, MaxResults: 10})
	require.ElementsMatch(t, []string{"red album.mp3", "red movie.avi"}, names)

	names = exec(t, l, &Request{Kind: KindAny, Terms: []string{"red"}, MaxSize: 1_000_000, HasMaxSize: true, MaxResults: 10})
	require.Equal(t, []string{"red single.wav"}, names)
}

func TestExecuteHashLookupRevalidates(t *testing.T) {
	l := buildShare(t)

	req := &Request{Kind: KindHash, Root: testTTH(1), MaxResults: 10}
	require.Equal(t, []string{"red album.mp3"}, exec(t, l, req))

	// The size restriction still applies on the index fast path.
	req.MaxSize, req.HasMaxSize = 1_000, true
	require.Empty(t, exec(t, l, req))

	// So does a directory restriction, even though the hash is indexed.
	req = &Request{Kind: KindHash, Root: testTTH(1), DirOnly: true, MaxResults: 10}
	require.Empty(t, exec(t, l, req))

	req = &Request{Kind: KindHash, Root: testTTH(42), MaxResults: 10}
	require.Empty(t, exec(t, l, req))
}

func TestExecuteRespectsCap(t *testing.T) {
	l := filelist.NewList()
	for i := byte(0); i < 20; i++ {
		l.Insert(l.Root, filelist.NewFile(fmt.Sprintf("common-%d.bin", i), 100, testTTH(i+1)))
	}
	names := exec(t, l, &Request{Kind: KindAny, Terms: []string{"common"}, MaxResults: MaxResultsHub})
	require.Len(t, names, MaxResultsHub)
}

func TestFromNMDC(t *testing.T) {
	req, ok := FromNMDC(protocol.SearchRequest{Kind: KindAny, Query: "red$album"}, 10)
	require.True(t, ok)
	require.Equal(t, []string{"red", "album"}, req.Terms)

	req, ok = FromNMDC(protocol.SearchRequest{
		Kind: KindHash, Query: "TTH:" + testTTH(1).String(),
		SizeRestricted: true, IsMaxSize: true, Size: 500,
	}, 10)
	require.True(t, ok)
	require.Equal(t, testTTH(1), req.Root)
	require.True(t, req.HasMaxSize)
	require.Equal(t, uint64(500), req.MaxSize)

	_, ok = FromNMDC(protocol.SearchRequest{Kind: KindHash, Query: "notahash"}, 10)
	require.False(t, ok)

	_, ok = FromNMDC(protocol.SearchRequest{Kind: KindAny, Query: "$$$"}, 10)
	require.False(t, ok)
}

func TestFormatNMDCResult(t *testing.T) {
	l := buildShare(t)
	file := l.Resolve("/Music/red album.mp3")
	dir := l.Resolve("/Music")

	line := FormatNMDCResult("me", file, 2, 3, "Some Hub", "hub.example.net:411")
	want := "$SR me Music\\red album.mp3\x054000000 2/3\x05TTH:" + testTTH(1).String() + " (hub.example.net:411)"
	require.Equal(t, want, line)

	line = FormatNMDCResult("me", dir, 2, 3, "Some Hub", "hub.example.net:411")
	require.Equal(t, "$SR me Music 2/3\x05Some Hub (hub.example.net:411)", line)
}

func TestFromADC(t *testing.T) {
	m, err := protocol.ParseADC("BSCH AB42 ANred ANalbum GE1000 TOtok1")
	require.NoError(t, err)
	req, token, ok := FromADC(m, 10)
	require.True(t, ok)
	require.Equal(t, "tok1", token)
	require.Equal(t, []string{"red", "album"}, req.Terms)
	require.True(t, req.HasMinSize)
	require.Equal(t, uint64(1000), req.MinSize)

	m, err = protocol.ParseADC("BSCH AB42 TR" + testTTH(1).String())
	require.NoError(t, err)
	req, _, ok = FromADC(m, 10)
	require.True(t, ok)
	require.Equal(t, KindHash, req.Kind)
	require.Equal(t, testTTH(1), req.Root)
	require.False(t, req.DirOnly)

	// A type selector rides along with the hash instead of being dropped.
	m, err = protocol.ParseADC("BSCH AB42 TR" + testTTH(1).String() + " TY2")
	require.NoError(t, err)
	req, _, ok = FromADC(m, 10)
	require.True(t, ok)
	require.Equal(t, KindHash, req.Kind)
	require.True(t, req.DirOnly)

	m, err = protocol.ParseADC("BSCH AB42 TOtok2")
	require.NoError(t, err)
	_, _, ok = FromADC(m, 10)
	require.False(t, ok)
}

func TestADCResultParams(t *testing.T) {
	l := buildShare(t)
	file := l.Resolve("/Music/red album.mp3")

	params := ADCResultParams(file, 3, "tok1")
	require.Equal(t, []string{
		"FN/Music/red album.mp3",
		"SI4000000",
		"SL3",
		"TR" + testTTH(1).String(),
		"TOtok1",
	}, params)
}

type fixedSlots struct{ used, total int }

func (s fixedSlots) SlotsInUse() int { return s.used }
func (s fixedSlots) SlotsTotal() int { return s.total }

func TestDispatcherPassiveReply(t *testing.T) {
	l := buildShare(t)
	d := NewDispatcher(func() *filelist.List { return l }, fixedSlots{used: 1, total: 3})

	var sent []string
	hub := HubContext{
		OwnNick: "me",
		Name:    "Some Hub",
		Addr:    "hub.example.net:411",
		Send:    func(line string) { sent = append(sent, line) },
	}

	d.HandleNMDC(protocol.SearchRequest{Origin: "Hub:alice", Kind: KindAudio, Query: "red"}, hub)
	require.Len(t, sent, 2)
	for _, line := range sent {
		require.True(t, strings.HasPrefix(line, "$SR me "))
		require.True(t, strings.HasSuffix(line, "\x05alice"))
		require.Contains(t, line, " 2/3\x05")
	}

	// Our own searches relayed back by the hub are ignored.
	sent = nil
	d.HandleNMDC(protocol.SearchRequest{Origin: "Hub:me", Kind: KindAny, Query: "red"}, hub)
	require.Empty(t, sent)
}

func TestDispatcherADCReply(t *testing.T) {
	l := buildShare(t)
	d := NewDispatcher(func() *filelist.List { return l }, fixedSlots{used: 0, total: 2})

	var replies [][]string
	m, err := protocol.ParseADC("BSCH AB42 ANred TOtok9")
	require.NoError(t, err)
	d.HandleADC(m, func(params []string) { replies = append(replies, params) })

	require.Len(t, replies, 3)
	for _, params := range replies {
		require.Contains(t, params, "SL2")
		require.Contains(t, params, "TOtok9")
	}

	// A directory-restricted hash lookup produces no reply at all.
	replies = nil
	m, err = protocol.ParseADC("BSCH AB42 TR" + testTTH(1).String() + " TY2")
	require.NoError(t, err)
	d.HandleADC(m, func(params []string) { replies = append(replies, params) })
	require.Empty(t, replies)
}
