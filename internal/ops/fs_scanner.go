package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ScanOptions controls which parts of a dataset directory are scanned.
type ScanOptions struct {
	Recursive bool

	IncludeTopDirs []string
	ExcludeTopDirs []string

	SkipDirs     []string
	SkipDirItems []string
}

// This operator walks the source directory in lexical order and emits an
// entry for each regular file. Unreadable directories and files are emitted
// as failed entries.
func NewFsScanner(ctx context.Context, source string, opts ScanOptions) <-chan *EntryInfo {
	out := make(chan *EntryInfo, 10)
	fs := fsScanner{
		ctx:              ctx,
		out:              out,
		source:           filepath.Clean(source),
		recursive:        opts.Recursive,
		include_top_dirs: toSet(opts.IncludeTopDirs),
		exclude_top_dirs: toSet(opts.ExcludeTopDirs),
		skip_dirs:        toSet(opts.SkipDirs),
		skip_dir_items:   opts.SkipDirItems,
	}
	go func() {
		defer close(fs.out)
		fs.run(fs.source, 0)
	}()

	return out
}

type fsScanner struct {
	ctx              context.Context
	out              chan<- *EntryInfo
	source           string
	recursive        bool
	include_top_dirs map[string]bool
	exclude_top_dirs map[string]bool
	skip_dirs        map[string]bool
	skip_dir_items   []string
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func (fs *fsScanner) send(info *EntryInfo) bool {
	select {
	case <-fs.ctx.Done():
		return false
	case fs.out <- info:
		return true
	}
}

func (fs *fsScanner) run(dir string, level int) bool {
	// a marker file in the directory excludes the whole subtree
	for _, item := range fs.skip_dir_items {
		if _, err := os.Lstat(filepath.Join(dir, item)); err == nil {
			return true
		}
	}

	rel, err := filepath.Rel(fs.source, dir)
	if err != nil {
		return fs.send(&EntryInfo{
			AbsPath:       dir,
			Action:        Failed,
			ActionMessage: fmt.Sprintf("unable to compute relative path for %s: %s", dir, err),
		})
	}
	reldir := NormalizeRelDir(filepath.ToSlash(rel))

	// read the directory contents
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fs.send(&EntryInfo{
			AbsPath:       dir,
			RelDir:        reldir,
			Action:        Failed,
			ActionMessage: fmt.Sprintf("failed to read directory %s: %s", dir, err),
		})
	}

	for _, entry := range entries {
		if fs.ctx.Err() != nil {
			return false
		}

		fpath := filepath.Join(dir, entry.Name())

		if entry.Type().IsRegular() {
			info, err := entry.Info()
			if err != nil {
				if !fs.send(&EntryInfo{
					AbsPath:       fpath,
					RelDir:        reldir,
					Name:          entry.Name(),
					Action:        Failed,
					ActionMessage: fmt.Sprintf("failed to stat %s: %s", fpath, err),
				}) {
					return false
				}
				continue
			}

			ok := fs.send(&EntryInfo{
				Status:  StatusNew,
				AbsPath: fpath,
				RelDir:  reldir,
				Name:    entry.Name(),
				Size:    info.Size(),
				CTime:   changeTime(info),
				MTime:   info.ModTime(),
				Action:  NoAction,
			})
			if !ok {
				return false
			}

		} else if entry.IsDir() && fs.recursive {
			if fs.skipDir(entry.Name(), level) {
				continue
			}
			if !fs.run(fpath, level+1) {
				return false
			}
		}
	}

	return true
}

// skipDir applies the top level include/exclude lists at level 0 and the
// skip list at every level.
func (fs *fsScanner) skipDir(name string, level int) bool {
	if level == 0 {
		if len(fs.include_top_dirs) > 0 && !fs.include_top_dirs[name] {
			return true
		}
		if fs.exclude_top_dirs[name] {
			return true
		}
	}
	return fs.skip_dirs[name]
}
