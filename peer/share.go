package peer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"dcnet/filelist"
	"dcnet/protocol"
	"dcnet/store"
)

// MiniSlotSize is the file size below which no slot is required.
const MiniSlotSize = 16 * 1024

// Share is the upload side of the local file list: it resolves transfer
// requests against the shared tree, the hash store and the generated list
// files.
type Share struct {
	list        *filelist.List
	store       *store.Store
	listPath    string
	archivePath string
}

// NewShare wires the share. listPath and archivePath are where the plain
// and bzip2-compressed listings were saved.
func NewShare(list *filelist.List, st *store.Store, listPath, archivePath string) *Share {
	return &Share{list: list, store: st, listPath: listPath, archivePath: archivePath}
}

// SetList swaps in a refreshed tree. Called on the loop goroutine only.
func (s *Share) SetList(l *filelist.List) { s.list = l }

// List exposes the current tree for searching.
func (s *Share) List() *filelist.List { return s.list }

// Upload is an admitted transfer source. Content must be closed by the
// caller once fully written or abandoned.
type Upload struct {
	Type     string
	Start    uint64
	Length   int64
	Content  io.ReadCloser
	NeedSlot bool
}

// Open resolves one transfer request. typ and path come straight off the
// wire; length is -1 for "to end of file".
func (s *Share) Open(typ, path string, start uint64, length int64) (*Upload, error) {
	switch typ {
	case "tthl":
		return s.openLeaves(path, start, length)
	case "file":
		return s.openFile(path, start, length)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
}

func (s *Share) openLeaves(path string, start uint64, length int64) (*Upload, error) {
	root, ok := tthPath(path)
	if !ok {
		return nil, ErrNotAvailable
	}
	leaves, err := s.store.Leaves(root)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return nil, ErrNotAvailable
	}
	// Partial leaf data is never served. Clients ask for the whole block.
	if start != 0 || (length != -1 && length != int64(len(leaves))) {
		return nil, ErrInvalidRange
	}
	return &Upload{
		Type:    "tthl",
		Length:  int64(len(leaves)),
		Content: io.NopCloser(bytes.NewReader(leaves)),
	}, nil
}

func (s *Share) openFile(path string, start uint64, length int64) (*Upload, error) {
	name := strings.TrimPrefix(path, "/")
	if name == "files.xml" {
		return s.openList(s.listPath, start, length)
	}
	if name == "files.xml.bz2" {
		return s.openList(s.archivePath, start, length)
	}

	var node *filelist.Node
	if root, ok := tthPath(path); ok {
		for _, n := range s.list.ByTTH(root) {
			if n.DiskPath != "" {
				node = n
				break
			}
		}
	} else {
		node = s.list.Resolve(path)
	}
	if node == nil || node.IsDir || node.DiskPath == "" {
		return nil, ErrNotAvailable
	}
	return openDisk(node.DiskPath, start, length, false)
}

func (s *Share) openList(path string, start uint64, length int64) (*Upload, error) {
	if path == "" {
		return nil, ErrNotAvailable
	}
	up, err := openDisk(path, start, length, true)
	if err != nil {
		return nil, err
	}
	return up, nil
}

func openDisk(path string, start uint64, length int64, isList bool) (*Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ErrNotAvailable
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ErrNotAvailable
	}
	size := info.Size()
	if start > uint64(size) {
		f.Close()
		return nil, ErrInvalidRange
	}
	if length < 0 || int64(start)+length > size {
		// Negative and oversized lengths mean "to end of file".
		length = size - int64(start)
	}
	if start > 0 {
		if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
			f.Close()
			return nil, ErrInvalidRange
		}
	}
	// The exemption keys off the file, not the requested range, so a big
	// file cannot be streamed slot-free in small chunks.
	return &Upload{
		Type:     "file",
		Start:    start,
		Length:   length,
		Content:  f,
		NeedSlot: !isList && size >= MiniSlotSize,
	}, nil
}

func tthPath(path string) (protocol.TTH, bool) {
	rest, ok := strings.CutPrefix(path, "TTH/")
	if !ok {
		return protocol.TTH{}, false
	}
	root, err := protocol.ParseTTH(rest)
	if err != nil {
		return protocol.TTH{}, false
	}
	return root, true
}
