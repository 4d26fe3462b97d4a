package filelist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dcnet/protocol"
)

func mustTTH(t *testing.T, seed byte) protocol.TTH {
	t.Helper()
	var h protocol.TTH
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

func buildSample(t *testing.T) *List {
	t.Helper()
	l := NewList()
	music := NewDir("Music")
	l.Insert(l.Root, music)
	l.Insert(music, NewFile("track one.mp3", 5000, mustTTH(t, 1)))
	l.Insert(music, NewFile("track two.mp3", 7000, mustTTH(t, 2)))

	docs := NewDir("Documents")
	l.Insert(l.Root, docs)
	l.Insert(docs, NewFile("notes.txt", 300, protocol.TTH{}))
	return l
}

func TestSizeAggregation(t *testing.T) {
	l := buildSample(t)
	require.Equal(t, uint64(12300), l.Root.Size)

	music := l.Root.Child("Music")
	require.NotNil(t, music)
	require.Equal(t, uint64(12000), music.Size)

	l.Delete(music, music.Child("track two.mp3"))
	require.Equal(t, uint64(5000), music.Size)
	require.Equal(t, uint64(5300), l.Root.Size)
}

func TestChildrenSortedByName(t *testing.T) {
	l := NewList()
	for _, name := range []string{"zeta", "Alpha", "beta", "Zebra"} {
		l.Insert(l.Root, NewDir(name))
	}
	var names []string
	for _, c := range l.Root.Children {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"Alpha", "Zebra", "beta", "zeta"}, names)
}

func TestResolveIsCaseSensitive(t *testing.T) {
	l := NewList()
	l.Insert(l.Root, NewFile("Readme.txt", 10, mustTTH(t, 1)))
	l.Insert(l.Root, NewFile("readme.txt", 20, mustTTH(t, 2)))

	upper := l.Resolve("/Readme.txt")
	require.NotNil(t, upper)
	require.Equal(t, uint64(10), upper.Size)

	lower := l.Resolve("/readme.txt")
	require.NotNil(t, lower)
	require.Equal(t, uint64(20), lower.Size)

	require.Nil(t, l.Resolve("/README.TXT"))
}

func TestPathReconstruction(t *testing.T) {
	l := buildSample(t)
	music := l.Root.Child("Music")
	file := music.Child("track one.mp3")

	require.Equal(t, "/", l.Root.Path())
	require.Equal(t, "/Music/", music.Path())
	require.Equal(t, "/Music/track one.mp3", file.Path())
	require.Equal(t, file, l.Resolve("/Music/track one.mp3"))
	require.Nil(t, l.Resolve("/Music/missing"))
}

func TestByTTHIndex(t *testing.T) {
	l := buildSample(t)
	nodes := l.ByTTH(mustTTH(t, 1))
	require.Len(t, nodes, 1)
	require.Equal(t, "track one.mp3", nodes[0].Name)

	// Unhashed files are not indexed.
	require.Empty(t, l.ByTTH(protocol.TTH{}))

	music := l.Root.Child("Music")
	l.Delete(music, nodes[0])
	require.Empty(t, l.ByTTH(mustTTH(t, 1)))
}

func TestSearchPrunesMatchedTerms(t *testing.T) {
	l := buildSample(t)
	all := func(*Node) bool { return true }

	// "music" is satisfied by the directory name, so files below it only
	// need to match "track".
	res := l.Search([]string{"music", "track"}, all, 10)
	require.Len(t, res, 2)

	res = l.Search([]string{"track", "one"}, all, 10)
	require.Len(t, res, 1)
	require.Equal(t, "track one.mp3", res[0].Name)

	res = l.Search([]string{"nosuch"}, all, 10)
	require.Empty(t, res)
}

func TestSearchRespectsLimitAndFilter(t *testing.T) {
	l := buildSample(t)
	all := func(*Node) bool { return true }

	res := l.Search([]string{"track"}, all, 1)
	require.Len(t, res, 1)

	onlyBig := func(n *Node) bool { return !n.IsDir && n.Size >= 6000 }
	res = l.Search([]string{"track"}, onlyBig, 10)
	require.Len(t, res, 1)
	require.Equal(t, "track two.mp3", res[0].Name)
}

func TestFileCount(t *testing.T) {
	l := buildSample(t)
	require.Equal(t, 3, l.FileCount())
}

func TestXMLRoundTrip(t *testing.T) {
	l := buildSample(t)
	cid := mustTTH(t, 9)

	path := filepath.Join(t.TempDir(), "files.xml")
	require.NoError(t, l.SaveFile(path, cid, "dcnet 0.1"))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, uint64(12300), got.Root.Size)
	require.Equal(t, 3, got.FileCount())

	file := got.Resolve("/Music/track one.mp3")
	require.NotNil(t, file)
	require.True(t, file.HasTTH)
	require.Equal(t, mustTTH(t, 1), file.TTH)

	// The unhashed file survives without a hash attribute.
	notes := got.Resolve("/Documents/notes.txt")
	require.NotNil(t, notes)
	require.False(t, notes.HasTTH)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `CID="`+cid.String()+`"`)
}

func TestArchiveRoundTrip(t *testing.T) {
	l := buildSample(t)
	path := filepath.Join(t.TempDir(), "files.xml.bz2")
	require.NoError(t, l.SaveArchive(path, mustTTH(t, 9), "dcnet 0.1"))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, got.FileCount())
	require.Equal(t, uint64(12300), got.Root.Size)
}

func TestScanShares(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "inner")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("12345"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.bin"), []byte("1234567890"), 0o644))

	hashed := mustTTH(t, 4)
	lookup := func(diskPath string, size uint64, lastMod int64) (protocol.TTH, bool) {
		if filepath.Base(diskPath) == "a.bin" {
			return hashed, true
		}
		return protocol.TTH{}, false
	}

	l, err := ScanShares(map[string]string{"stuff": dir}, lookup)
	require.NoError(t, err)
	require.Equal(t, uint64(15), l.Root.Size)
	require.Equal(t, 2, l.FileCount())

	a := l.Resolve("/stuff/a.bin")
	require.NotNil(t, a)
	require.True(t, a.HasTTH)
	require.Equal(t, hashed, a.TTH)
	require.Equal(t, filepath.Join(dir, "a.bin"), a.DiskPath)
	require.Len(t, l.ByTTH(hashed), 1)

	b := l.Resolve("/stuff/inner/b.bin")
	require.NotNil(t, b)
	require.False(t, b.HasTTH)

	require.Nil(t, l.Resolve("/stuff/.hidden"))

	_, err = ScanShares(map[string]string{"bad": filepath.Join(dir, "missing")}, nil)
	require.Error(t, err)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load(strings.NewReader("not xml at all"))
	require.Error(t, err)
}
