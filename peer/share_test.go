package peer

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dcnet/filelist"
	"dcnet/protocol"
	"dcnet/store"
)

var testLeaves = bytes.Repeat([]byte{0xAA}, 72)

func testTTH(seed byte) protocol.TTH {
	var h protocol.TTH
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

func newTestShare(t *testing.T) *Share {
	t.Helper()
	dir := t.TempDir()
	shareDir := filepath.Join(dir, "files")
	require.NoError(t, os.Mkdir(shareDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shareDir, "small.bin"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(shareDir, "big.bin"), bytes.Repeat([]byte{0x11}, 20000), 0o644))

	smallTTH := testTTH(1)
	lookup := func(diskPath string, size uint64, lastMod int64) (protocol.TTH, bool) {
		if filepath.Base(diskPath) == "small.bin" {
			return smallTTH, true
		}
		return protocol.TTH{}, false
	}
	list, err := filelist.ScanShares(map[string]string{"stuff": shareDir}, lookup)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(dir, "hash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	st.PutLeaves(smallTTH, testLeaves)
	st.Flush()

	listPath := filepath.Join(dir, "files.xml")
	archivePath := filepath.Join(dir, "files.xml.bz2")
	cid := testTTH(9)
	require.NoError(t, list.SaveFile(listPath, cid, "dcnet test"))
	require.NoError(t, list.SaveArchive(archivePath, cid, "dcnet test"))

	return NewShare(list, st, listPath, archivePath)
}

func readAll(t *testing.T, up *Upload) []byte {
	t.Helper()
	defer up.Content.Close()
	data, err := io.ReadAll(io.LimitReader(up.Content, up.Length))
	require.NoError(t, err)
	return data
}

func TestShareOpenByHash(t *testing.T) {
	s := newTestShare(t)

	up, err := s.Open("file", "TTH/"+testTTH(1).String(), 0, -1)
	require.NoError(t, err)
	require.Equal(t, int64(5), up.Length)
	require.False(t, up.NeedSlot)
	require.Equal(t, "hello", string(readAll(t, up)))

	_, err = s.Open("file", "TTH/"+testTTH(50).String(), 0, -1)
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestShareOpenByPathAndRange(t *testing.T) {
	s := newTestShare(t)

	up, err := s.Open("file", "/stuff/small.bin", 2, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), up.Start)
	require.Equal(t, int64(2), up.Length)
	require.Equal(t, "ll", string(readAll(t, up)))

	up, err = s.Open("file", "/stuff/small.bin", 3, -1)
	require.NoError(t, err)
	require.Equal(t, int64(2), up.Length)
	require.Equal(t, "lo", string(readAll(t, up)))

	// Oversized lengths clamp to the remainder; offsets past the end do not.
	up, err = s.Open("file", "/stuff/small.bin", 2, 10)
	require.NoError(t, err)
	require.Equal(t, int64(3), up.Length)
	require.Equal(t, "llo", string(readAll(t, up)))

	_, err = s.Open("file", "/stuff/small.bin", 99, -1)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = s.Open("file", "/stuff/missing.bin", 0, -1)
	require.ErrorIs(t, err, ErrNotAvailable)

	_, err = s.Open("file", "/stuff/", 0, -1)
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestShareSlotThreshold(t *testing.T) {
	s := newTestShare(t)

	up, err := s.Open("file", "/stuff/big.bin", 0, -1)
	require.NoError(t, err)
	up.Content.Close()
	require.True(t, up.NeedSlot)

	// A small range of a big file still takes a slot; the threshold is on
	// the file, not the request.
	up, err = s.Open("file", "/stuff/big.bin", 0, 100)
	require.NoError(t, err)
	up.Content.Close()
	require.True(t, up.NeedSlot)

	up, err = s.Open("file", "/stuff/small.bin", 0, -1)
	require.NoError(t, err)
	up.Content.Close()
	require.False(t, up.NeedSlot)
}

func TestShareOpenListings(t *testing.T) {
	s := newTestShare(t)

	for _, path := range []string{"files.xml", "/files.xml", "files.xml.bz2"} {
		up, err := s.Open("file", path, 0, -1)
		require.NoError(t, err, "path %s", path)
		require.False(t, up.NeedSlot, "path %s", path)
		require.NotEmpty(t, readAll(t, up), "path %s", path)
	}
}

func TestShareOpenLeaves(t *testing.T) {
	s := newTestShare(t)
	path := "TTH/" + testTTH(1).String()

	up, err := s.Open("tthl", path, 0, -1)
	require.NoError(t, err)
	require.Equal(t, int64(len(testLeaves)), up.Length)
	require.False(t, up.NeedSlot)
	require.Equal(t, testLeaves, readAll(t, up))

	_, err = s.Open("tthl", path, 24, -1)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = s.Open("tthl", "TTH/"+testTTH(77).String(), 0, -1)
	require.ErrorIs(t, err, ErrNotAvailable)

	// big.bin has no stored leaves.
	_, err = s.Open("tthl", "/stuff/big.bin", 0, -1)
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestShareUnsupportedType(t *testing.T) {
	s := newTestShare(t)
	_, err := s.Open("list", "/stuff/", 0, -1)
	require.ErrorIs(t, err, ErrUnsupportedType)
}
