package ops

import (
	"context"
)

// RemoteIndex is the archive's view of a dataset: the content hashes of
// every version stored under each relative path. Count is the number of
// paths, however many versions each holds.
type RemoteIndex interface {
	Hashes(relpath string) ([]string, bool)
	Count() int
}

// Classify compares a local file with the versions the archive holds at
// the same relative path. A hash match on any version means the file is
// already archived.
func Classify(relpath, hash string, remote RemoteIndex) EntryStatus {
	hashes, ok := remote.Hashes(relpath)
	if !ok {
		return StatusNew
	}
	for _, h := range hashes {
		if h == hash {
			return StatusOk
		}
	}
	return StatusModified
}

// This operator sets the Status of each hashed entry from the remote index.
// Failed entries are passed through untouched.
func NewRemoteComparer(ctx context.Context, in <-chan *EntryInfo, remote RemoteIndex) <-chan *EntryInfo {
	out := make(chan *EntryInfo, 10)
	rc := remoteComparer{
		ctx:    ctx,
		in:     in,
		out:    out,
		remote: remote,
	}
	go rc.run()

	return out
}

type remoteComparer struct {
	ctx    context.Context
	in     <-chan *EntryInfo
	out    chan<- *EntryInfo
	remote RemoteIndex
}

func (rc *remoteComparer) run() {
	defer close(rc.out)

	for {
		select {
		case <-rc.ctx.Done():
			return
		case info, ok := <-rc.in:
			if !ok {
				return
			}
			if info.Action != Failed {
				info.Status = Classify(info.RelPath(), info.Hash, rc.remote)
			}
			select {
			case <-rc.ctx.Done():
				return
			case rc.out <- info:
			}
		}
	}
}
