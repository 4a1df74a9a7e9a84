// Package retrieve downloads archived files back to local disk.
package retrieve

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/remote"
)

var chtimes = os.Chtimes

type ErrHashMismatch struct {
	path     string
	expected string
	actual   string
}

func (e *ErrHashMismatch) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", e.path, e.expected, e.actual)
}

type Options struct {
	FilesURL  string
	Timeout   time.Duration
	Overwrite bool
	CheckOnly bool
}

type Summary struct {
	Total      int
	TotalBytes int64

	Downloaded      int
	DownloadedBytes int64

	Skipped      int
	SkippedBytes int64

	Failed      int
	FailedBytes int64
}

type Downloader struct {
	cl   archiveio.Client
	opts Options
	obs  events.Observer
}

func NewDownloader(cl archiveio.Client, opts Options, obs events.Observer) *Downloader {
	opts.FilesURL = strings.TrimSuffix(opts.FilesURL, "/")
	return &Downloader{
		cl:   cl,
		opts: opts,
		obs:  events.Or(obs),
	}
}

// Run downloads each version to its relative path under root. Existing
// files are kept unless Overwrite is set. A failed file is reported and
// counted; the remaining files are still attempted.
func (d *Downloader) Run(ctx context.Context, versions []remote.FileVersion, root string) (*Summary, error) {
	summary := &Summary{}

	for _, fv := range versions {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Total += 1
		summary.TotalBytes += fv.Size

		if d.opts.CheckOnly {
			d.obs.Status(ctx, "found", "path", fv.RelativePath, "size", fv.Size)
			continue
		}

		fpath, err := localPath(root, fv.RelativePath)
		if err != nil {
			d.fail(ctx, summary, fv, err)
			continue
		}

		if !d.opts.Overwrite {
			if _, err := os.Stat(fpath); err == nil {
				d.obs.Status(ctx, "skipping existing file", "path", fv.RelativePath)
				summary.Skipped += 1
				summary.SkippedBytes += fv.Size
				continue
			}
		}

		d.obs.Status(ctx, "downloading", "path", fv.RelativePath, "size", fv.Size)
		if _, err := d.download(ctx, fv, fpath); err != nil {
			d.fail(ctx, summary, fv, err)
			continue
		}
		summary.Downloaded += 1
		summary.DownloadedBytes += fv.Size
	}

	return summary, nil
}

func (d *Downloader) fail(ctx context.Context, summary *Summary, fv remote.FileVersion, err error) {
	d.obs.Error(ctx, "Download failed", "path", fv.RelativePath, "error", err)
	summary.Failed += 1
	summary.FailedBytes += fv.Size
}

// localPath keeps downloads inside root.
func localPath(root, relpath string) (string, error) {
	rel := filepath.FromSlash(relpath)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("refusing to write outside the restore root: %s", relpath)
	}
	return filepath.Join(root, rel), nil
}

func (d *Downloader) download(ctx context.Context, fv remote.FileVersion, fpath string) (int64, error) {
	// create the directories to the file
	if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
		return 0, err
	}

	tmp := fpath + ".partial"
	sink, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	h := sha1.New()
	url := fmt.Sprintf("%s/files/%d", d.opts.FilesURL, fv.ID)
	size, err := d.cl.Download(ctx, url, io.MultiWriter(sink, h), d.opts.Timeout)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err == nil && fv.Hash != "" && strings.EqualFold(fv.HashType, "sha1") {
		if actual := hex.EncodeToString(h.Sum(nil)); actual != fv.Hash {
			err = &ErrHashMismatch{path: fv.RelativePath, expected: fv.Hash, actual: actual}
		}
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, fpath); err != nil {
		return 0, err
	}
	if !fv.Updated.IsZero() {
		if err := chtimes(fpath, fv.Updated, fv.Updated); err != nil {
			d.obs.Warning(ctx, "unable to set file times", "path", fv.RelativePath, "error", err)
		}
	}

	return size, nil
}
