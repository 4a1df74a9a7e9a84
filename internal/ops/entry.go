package ops

import (
	"path"
	"strings"
	"time"
)

// EntryStatus is the state of a local file compared to what the archive
// already holds for the same relative path.
type EntryStatus int

const (
	StatusOk EntryStatus = iota
	StatusNew
	StatusModified
)

func (s EntryStatus) String() string {
	switch s {
	case StatusOk:
		return "unchanged"
	case StatusNew:
		return "new"
	case StatusModified:
		return "updated"
	}
	return "unknown"
}

// OpAction records whether an operator failed on an entry.
type OpAction int

const (
	NoAction OpAction = iota
	Failed
)

// EntryInfo is passed between the scanning operators. It starts out as a
// directory listing entry and picks up its content hash on the way
// through the chain.
type EntryInfo struct {
	Status        EntryStatus
	AbsPath       string
	RelDir        string
	Name          string
	Hash          string
	Size          int64
	CTime         time.Time
	MTime         time.Time
	Action        OpAction
	ActionMessage string
}

func (ei *EntryInfo) RelPath() string {
	return JoinRelPath(ei.RelDir, ei.Name)
}

// FileRecord is a local file staged for upload. Records are created once by
// the inventory with their hash already computed and are not modified
// afterwards.
type FileRecord struct {
	AbsolutePath string
	RelativeDir  string
	FileName     string
	Hash         string
	Size         int64
	CTime        time.Time
	MTime        time.Time
}

// RelativePath is the archive path of the file relative to the dataset root.
func (fr FileRecord) RelativePath() string {
	return JoinRelPath(fr.RelativeDir, fr.FileName)
}

func (ei *EntryInfo) record() FileRecord {
	return FileRecord{
		AbsolutePath: ei.AbsPath,
		RelativeDir:  ei.RelDir,
		FileName:     ei.Name,
		Hash:         ei.Hash,
		Size:         ei.Size,
		CTime:        ei.CTime,
		MTime:        ei.MTime,
	}
}

// NormalizeRelDir converts a relative directory to the archive form:
// forward slashes, no leading or trailing slash, no empty segments. The
// dataset root is the empty string.
func NormalizeRelDir(dir string) string {
	dir = strings.ReplaceAll(dir, "\\", "/")
	var parts []string
	for _, p := range strings.Split(dir, "/") {
		if p == "" || p == "." {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "/")
}

// JoinRelPath joins a relative directory and a file name.
func JoinRelPath(dir, name string) string {
	dir = NormalizeRelDir(dir)
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
