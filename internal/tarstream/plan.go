// Package tarstream writes the upload container: a GNU tar stream holding
// the manifest followed by the dataset files. The size of the stream is
// known before the first byte is written so it can be declared as the
// request's content length.
package tarstream

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/studio1767/dsarchive/internal/manifest"
)

const (
	BlockSize  = 512
	RecordSize = 20 * BlockSize

	// longest name that fits the header's name field
	nameFieldSize = 100

	ManifestName = "metadata.txt"
	DataDir      = "data/"
)

// Entry is one member of the tar stream.
type Entry struct {
	Name    string
	Dir     bool
	Size    int64
	ModTime time.Time

	// Source is the file to copy, or for directories the directory whose
	// mode and time are used. Empty for the manifest and the data root.
	Source string

	data []byte
}

// Plan is the ordered entry sequence of one upload. The producer writes
// exactly these entries, so Size is the exact length of the stream.
type Plan struct {
	entries []Entry
	size    int64
}

// NewPlan lays out the manifest, the data root, and then each file preceded
// by its directory the first time the directory is seen.
func NewPlan(manifestJSON []byte, files []manifest.FileEntry) *Plan {
	now := time.Now().Truncate(time.Second)
	if manifestJSON == nil {
		manifestJSON = []byte{}
	}

	p := &Plan{}
	p.add(Entry{Name: ManifestName, Size: int64(len(manifestJSON)), ModTime: now, data: manifestJSON})
	p.add(Entry{Name: DataDir, Dir: true, ModTime: now})

	seen := map[string]bool{DataDir: true}
	for _, fe := range files {
		dir := strings.TrimSuffix(fe.Subdir, "/") + "/"
		if !seen[dir] {
			seen[dir] = true
			p.add(Entry{
				Name:    dir,
				Dir:     true,
				ModTime: now,
				Source:  filepath.Dir(fe.File.AbsolutePath),
			})
		}
		p.add(Entry{
			Name:    fe.ArchivePath(),
			Size:    fe.File.Size,
			ModTime: fe.File.MTime.Truncate(time.Second),
			Source:  fe.File.AbsolutePath,
		})
	}

	// end of archive marker, then pad to the record size
	p.size += 2 * BlockSize
	p.size = roundUp(p.size, RecordSize)

	return p
}

func (p *Plan) add(e Entry) {
	p.entries = append(p.entries, e)
	p.size += HeaderBlocks(e.Name)*BlockSize + roundUp(e.Size, BlockSize)
}

// Size is the number of bytes in the finished stream.
func (p *Plan) Size() int64 {
	return p.size
}

func (p *Plan) Entries() []Entry {
	return p.entries
}

// HeaderBlocks is the number of 512 byte blocks the header for name takes.
// Names longer than the header's name field are preceded by a GNU long name
// record: its own header plus the NUL terminated name.
func HeaderBlocks(name string) int64 {
	if len(name) <= nameFieldSize {
		return 1
	}
	return 1 + 1 + roundUp(int64(len(name)+1), BlockSize)/BlockSize
}

func roundUp(n, to int64) int64 {
	return (n + to - 1) / to * to
}
