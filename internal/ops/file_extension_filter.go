package ops

import (
	"context"
	"strings"
)

// ExtensionSet matches file names by extension, ignoring case. Extensions
// may be compound (".tar.gz") and are given with or without the leading '.'.
type ExtensionSet []string

func NewExtensionSet(extensions []string) ExtensionSet {
	var set ExtensionSet
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set = append(set, ext)
	}
	return set
}

func (set ExtensionSet) Match(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range set {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// This operator drops files by extension. With a non-empty include list only
// matching files pass; anything matching the exclude list is dropped even if
// it was included. Failed entries always pass.
func NewFileExtensionFilter(ctx context.Context, in <-chan *EntryInfo, include, exclude []string) <-chan *EntryInfo {
	out := make(chan *EntryInfo, 10)
	filter := fileExtensionFilter{
		ctx:     ctx,
		in:      in,
		out:     out,
		include: NewExtensionSet(include),
		exclude: NewExtensionSet(exclude),
	}
	go filter.run()

	return out
}

type fileExtensionFilter struct {
	ctx     context.Context
	in      <-chan *EntryInfo
	out     chan<- *EntryInfo
	include ExtensionSet
	exclude ExtensionSet
}

func (filter *fileExtensionFilter) run() {
	defer close(filter.out)

	for info := range filter.in {
		if !filter.pass(info) {
			continue
		}
		select {
		case <-filter.ctx.Done():
			return
		case filter.out <- info:
		}
	}
}

func (filter *fileExtensionFilter) pass(info *EntryInfo) bool {
	if info.Action == Failed {
		return true
	}
	if len(filter.include) > 0 && !filter.include.Match(info.Name) {
		return false
	}
	return !filter.exclude.Match(info.Name)
}
