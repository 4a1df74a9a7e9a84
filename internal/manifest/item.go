// Package manifest describes one upload: the identifying facts of a dataset
// or data package followed by the files it carries, in the order the files
// are written into the tar stream.
package manifest

import (
	"path"
	"strings"

	"github.com/studio1767/dsarchive/internal/ops"
)

// Item is one entry of the manifest. It is one of KeyValue,
// TransactionValue or FileEntry.
type Item interface {
	destinationTable() string
}

// KeyValue is a searchable metadata fact attached to the transaction.
type KeyValue struct {
	Key   string
	Value string
}

// TransactionValue sets one of the transaction's own columns, such as the
// instrument or the submitter.
type TransactionValue struct {
	Table string
	Value string
}

// FileEntry is a file in the upload and the archive directory it is stored
// under.
type FileEntry struct {
	File   ops.FileRecord
	Subdir string
}

func (KeyValue) destinationTable() string { return "TransactionKeyValue" }

func (tv TransactionValue) destinationTable() string { return "Transactions." + tv.Table }

func (FileEntry) destinationTable() string { return "Files" }

// ArchivePath is the path of the file inside the tar container.
func (fe FileEntry) ArchivePath() string {
	return path.Join(fe.Subdir, fe.File.FileName)
}

const dataDir = "data"

// Subdir maps a relative directory to the archive subdirectory. Files at
// the dataset root go under "data/"; everything else under "data/<dir>"
// without a trailing slash. The receiving service depends on exactly this
// form.
func Subdir(relDir string) string {
	relDir = ops.NormalizeRelDir(relDir)
	if relDir == "" {
		return dataDir + "/"
	}
	return dataDir + "/" + relDir
}

// relDirFromSubdir reverses Subdir.
func relDirFromSubdir(subdir string) string {
	subdir = ops.NormalizeRelDir(subdir)
	if subdir == dataDir {
		return ""
	}
	return strings.TrimPrefix(subdir, dataDir+"/")
}

// Files returns the file entries of the manifest in order.
func Files(items []Item) []FileEntry {
	var files []FileEntry
	for _, item := range items {
		if fe, ok := item.(FileEntry); ok {
			files = append(files, fe)
		}
	}
	return files
}
