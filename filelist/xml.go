package filelist

import (
	"compress/bzip2"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	bzip2w "github.com/dsnet/compress/bzip2"

	"dcnet/protocol"
)

type xmlFile struct {
	Name string `xml:"Name,attr"`
	Size uint64 `xml:"Size,attr"`
	TTH  string `xml:"TTH,attr"`
}

type xmlDir struct {
	Name  string    `xml:"Name,attr"`
	Dirs  []xmlDir  `xml:"Directory"`
	Files []xmlFile `xml:"File"`
}

type xmlListing struct {
	XMLName   xml.Name  `xml:"FileListing"`
	Version   string    `xml:"Version,attr"`
	CID       string    `xml:"CID,attr"`
	Base      string    `xml:"Base,attr"`
	Generator string    `xml:"Generator,attr"`
	Dirs      []xmlDir  `xml:"Directory"`
	Files     []xmlFile `xml:"File"`
}

// Load parses a FileListing document from r. Entries with malformed hashes
// are kept without a hash rather than rejected, matching how clients in the
// wild treat each other's lists.
func Load(r io.Reader) (*List, error) {
	var doc xmlListing
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("filelist: parse listing: %w", err)
	}
	l := NewList()
	addDirs(l, l.Root, doc.Dirs, doc.Files)
	return l, nil
}

// LoadFile reads a listing from disk, transparently decompressing the
// conventional .bz2 wrapping.
func LoadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filelist: open listing: %w", err)
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".bz2") {
		r = bzip2.NewReader(f)
	}
	return Load(r)
}

func addDirs(l *List, parent *Node, dirs []xmlDir, files []xmlFile) {
	for _, d := range dirs {
		if d.Name == "" {
			continue
		}
		node := NewDir(d.Name)
		l.Insert(parent, node)
		addDirs(l, node, d.Dirs, d.Files)
	}
	for _, f := range files {
		if f.Name == "" {
			continue
		}
		var tth protocol.TTH
		if t, err := protocol.ParseTTH(f.TTH); err == nil {
			tth = t
		}
		l.Insert(parent, NewFile(f.Name, f.Size, tth))
	}
}

// Save writes the list as an uncompressed FileListing document. cid is the
// client identifier announced in the header.
func (l *List) Save(w io.Writer, cid protocol.TTH, generator string) error {
	doc := xmlListing{
		Version:   "1",
		CID:       cid.String(),
		Base:      "/",
		Generator: generator,
	}
	doc.Dirs, doc.Files = buildDirs(l.Root)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("filelist: write listing: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("filelist: write listing: %w", err)
	}
	return nil
}

// SaveArchive writes the bzip2-compressed form served to peers that request
// files.xml.bz2.
func (l *List) SaveArchive(path string, cid protocol.TTH, generator string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("filelist: save archive: %w", err)
	}
	zw, err := bzip2w.NewWriter(f, &bzip2w.WriterConfig{Level: bzip2w.DefaultCompression})
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("filelist: save archive: %w", err)
	}
	if err := l.Save(zw, cid, generator); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("filelist: save archive: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filelist: save archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filelist: save archive: %w", err)
	}
	return nil
}

// SaveFile writes the list atomically by renaming over path.
func (l *List) SaveFile(path string, cid protocol.TTH, generator string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("filelist: save listing: %w", err)
	}
	if err := l.Save(f, cid, generator); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filelist: save listing: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filelist: save listing: %w", err)
	}
	return nil
}

func buildDirs(n *Node) ([]xmlDir, []xmlFile) {
	var dirs []xmlDir
	var files []xmlFile
	for _, c := range n.Children {
		if c.IsDir {
			d := xmlDir{Name: c.Name}
			d.Dirs, d.Files = buildDirs(c)
			dirs = append(dirs, d)
			continue
		}
		f := xmlFile{Name: c.Name, Size: c.Size}
		if c.HasTTH {
			f.TTH = c.TTH.String()
		}
		files = append(files, f)
	}
	return dirs, files
}
