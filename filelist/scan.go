package filelist

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dcnet/protocol"
)

// HashLookup supplies the stored root hash for a disk file, if the file has
// been hashed and neither size nor modification time changed since.
type HashLookup func(diskPath string, size uint64, lastMod int64) (protocol.TTH, bool)

// ScanShares builds a list from the configured share directories. Keys are
// the virtual top-level directory names, values the disk paths. Hidden
// entries are skipped. Unreadable entries are logged and skipped so a
// single bad mount does not empty the share.
func ScanShares(shares map[string]string, lookup HashLookup) (*List, error) {
	l := NewList()
	names := make([]string, 0, len(shares))
	for name := range shares {
		names = append(names, name)
	}
	sort.Strings(names)
	log := slog.With("component", "filelist")
	for _, name := range names {
		disk := shares[name]
		info, err := os.Stat(disk)
		if err != nil {
			return nil, fmt.Errorf("filelist: share %q: %w", name, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("filelist: share %q: %s is not a directory", name, disk)
		}
		root := NewDir(name)
		l.Insert(l.Root, root)
		scanDir(l, root, disk, lookup, log)
	}
	return l, nil
}

func scanDir(l *List, parent *Node, disk string, lookup HashLookup, log *slog.Logger) {
	entries, err := os.ReadDir(disk)
	if err != nil {
		log.Warn("skipping unreadable directory", "path", disk, "error", err)
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		full := filepath.Join(disk, e.Name())
		if e.IsDir() {
			dir := NewDir(e.Name())
			l.Insert(parent, dir)
			scanDir(l, dir, full, lookup, log)
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		var tth protocol.TTH
		if lookup != nil {
			if h, ok := lookup(full, uint64(info.Size()), info.ModTime().Unix()); ok {
				tth = h
			}
		}
		file := NewFile(e.Name(), uint64(info.Size()), tth)
		file.DiskPath = full
		l.Insert(parent, file)
	}
}
