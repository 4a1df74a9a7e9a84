package ops

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// HashFile returns the hex encoded sha1 of the file contents.
func HashFile(fpath string) (string, error) {
	in, err := os.Open(fpath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	h := sha1.New()
	if _, err := io.Copy(h, in); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// This operator generates the content hash for each file and inserts it into
// the EntryInfo object. Up to 'workers' files are hashed at the same time;
// entries leave the operator in the order they arrived.
func NewHashGenerator(ctx context.Context, in <-chan *EntryInfo, throttle Throttle, workers int) <-chan *EntryInfo {
	if throttle == nil {
		throttle = NoThrottle{}
	}
	if workers < 1 {
		workers = 1
	}

	out := make(chan *EntryInfo, 10)
	hg := hashGenerator{
		ctx:      ctx,
		in:       in,
		out:      out,
		throttle: throttle,
		workers:  workers,
	}
	go hg.run()

	return out
}

type hashGenerator struct {
	ctx      context.Context
	in       <-chan *EntryInfo
	out      chan<- *EntryInfo
	throttle Throttle
	workers  int
}

func (hg *hashGenerator) run() {
	defer close(hg.out)

	// each entry gets a result slot; slots are queued in arrival order
	pending := make(chan chan *EntryInfo, hg.workers)

	var g errgroup.Group
	g.SetLimit(hg.workers)

	go func() {
		defer close(pending)
		for {
			select {
			case <-hg.ctx.Done():
				return
			case info, ok := <-hg.in:
				if !ok {
					return
				}
				result := make(chan *EntryInfo, 1)
				pending <- result
				g.Go(func() error {
					hg.process(info)
					result <- info
					return nil
				})
			}
		}
	}()

	for result := range pending {
		info := <-result
		if hg.ctx.Err() != nil {
			continue
		}
		select {
		case <-hg.ctx.Done():
		case hg.out <- info:
		}
	}

	g.Wait()
}

func (hg *hashGenerator) process(info *EntryInfo) {
	// check the status first
	if info.Action == Failed || len(info.Hash) > 0 {
		return
	}

	release, err := hg.throttle.Acquire(hg.ctx, info.AbsPath)
	if err != nil {
		info.Action = Failed
		info.ActionMessage = fmt.Sprintf("failed to acquire read slot for %s: %s", info.AbsPath, err)
		return
	}
	defer release()

	hash, err := HashFile(info.AbsPath)
	if err != nil {
		info.Action = Failed
		info.ActionMessage = fmt.Sprintf("failed to generate hash for %s: %s", info.AbsPath, err)
		return
	}
	info.Hash = hash
}
