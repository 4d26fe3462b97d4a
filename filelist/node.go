// Package filelist models a shared file tree as exchanged between clients:
// an in-memory directory structure with per-file Tiger-tree hashes, loadable
// from and storable as a FileListing XML document.
package filelist

import (
	"sort"
	"strings"

	"dcnet/protocol"
)

// Node is one entry of a file list. Directory sizes aggregate their
// descendants and are maintained by Add and Remove.
type Node struct {
	Name     string
	Size     uint64
	TTH      protocol.TTH
	HasTTH   bool
	IsDir    bool
	Parent   *Node
	Children []*Node

	// DiskPath is the absolute filesystem location for files scanned from
	// a local share. Empty for lists parsed from XML.
	DiskPath string
}

// NewDir creates an empty directory node.
func NewDir(name string) *Node {
	return &Node{Name: name, IsDir: true}
}

// NewFile creates a file node. A zero tth means the file has no known hash
// and will not be announced for hash searches.
func NewFile(name string, size uint64, tth protocol.TTH) *Node {
	return &Node{Name: name, Size: size, TTH: tth, HasTTH: !tth.IsZero()}
}

func nameLess(a, b string) bool {
	return a < b
}

// Add inserts child in name order and propagates its size up the tree.
func (n *Node) Add(child *Node) {
	i := sort.Search(len(n.Children), func(i int) bool {
		return !nameLess(n.Children[i].Name, child.Name)
	})
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = child
	child.Parent = n
	for p := n; p != nil; p = p.Parent {
		p.Size += child.Size
	}
}

// Remove detaches child and subtracts its size from every ancestor.
func (n *Node) Remove(child *Node) {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			child.Parent = nil
			for p := n; p != nil; p = p.Parent {
				p.Size -= child.Size
			}
			return
		}
	}
}

// Child finds a direct child by exact name. Path segments are
// case-sensitive; only search terms compare case-insensitively.
func (n *Node) Child(name string) *Node {
	i := sort.Search(len(n.Children), func(i int) bool {
		return !nameLess(n.Children[i].Name, name)
	})
	if i < len(n.Children) && n.Children[i].Name == name {
		return n.Children[i]
	}
	return nil
}

// Path reconstructs the slash-separated path from the root. The root itself
// is "/".
func (n *Node) Path() string {
	if n.Parent == nil {
		return "/"
	}
	var parts []string
	for p := n; p.Parent != nil; p = p.Parent {
		parts = append(parts, p.Name)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	if n.IsDir {
		b.WriteByte('/')
	}
	return b.String()
}

// List is a complete file list with a hash index over its files.
type List struct {
	Root  *Node
	byTTH map[protocol.TTH][]*Node
}

// NewList creates an empty list with an unnamed root directory.
func NewList() *List {
	return &List{
		Root:  NewDir(""),
		byTTH: make(map[protocol.TTH][]*Node),
	}
}

// Insert adds child under parent and indexes hashed files in the subtree.
func (l *List) Insert(parent, child *Node) {
	parent.Add(child)
	l.index(child)
}

func (l *List) index(n *Node) {
	if n.HasTTH {
		l.byTTH[n.TTH] = append(l.byTTH[n.TTH], n)
	}
	for _, c := range n.Children {
		l.index(c)
	}
}

// Delete removes child from parent and drops the subtree from the index.
func (l *List) Delete(parent, child *Node) {
	parent.Remove(child)
	l.unindex(child)
}

func (l *List) unindex(n *Node) {
	if n.HasTTH {
		nodes := l.byTTH[n.TTH]
		for i, c := range nodes {
			if c == n {
				nodes = append(nodes[:i], nodes[i+1:]...)
				break
			}
		}
		if len(nodes) == 0 {
			delete(l.byTTH, n.TTH)
		} else {
			l.byTTH[n.TTH] = nodes
		}
	}
	for _, c := range n.Children {
		l.unindex(c)
	}
}

// ByTTH returns the files sharing the given root hash.
func (l *List) ByTTH(tth protocol.TTH) []*Node {
	return l.byTTH[tth]
}

// Resolve walks a slash-separated path from the root.
func (l *List) Resolve(path string) *Node {
	n := l.Root
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		n = n.Child(part)
		if n == nil {
			return nil
		}
	}
	return n
}

// FileCount reports the number of file nodes in the tree.
func (l *List) FileCount() int {
	return countFiles(l.Root)
}

func countFiles(n *Node) int {
	if !n.IsDir {
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += countFiles(c)
	}
	return total
}

// Search finds up to max nodes whose ancestry covers every term. A term
// matched by a directory name is considered matched for the whole subtree,
// which prunes the remaining term set on the way down. filter applies
// size and kind restrictions and decides whether directories qualify.
func (l *List) Search(terms []string, filter func(*Node) bool, max int) []*Node {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	var results []*Node
	searchRec(l.Root, lowered, filter, max, &results)
	return results
}

func searchRec(dir *Node, terms []string, filter func(*Node) bool, max int, results *[]*Node) {
	for _, c := range dir.Children {
		if len(*results) >= max {
			return
		}
		name := strings.ToLower(c.Name)
		remaining := terms[:0:0]
		for _, t := range terms {
			if !strings.Contains(name, t) {
				remaining = append(remaining, t)
			}
		}
		if len(remaining) == 0 && filter(c) {
			*results = append(*results, c)
			if len(*results) >= max {
				return
			}
		}
		if c.IsDir {
			searchRec(c, remaining, filter, max, results)
		}
	}
}
