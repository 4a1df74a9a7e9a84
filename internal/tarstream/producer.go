package tarstream

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/events"
)

const chunkSize = 64 * 1024

type ErrUnresolvableParent struct {
	dir string
	err error
}

func (e *ErrUnresolvableParent) Error() string {
	return fmt.Sprintf("unable to resolve parent directory %s: %s", e.dir, e.err)
}

type ErrSizeChanged struct {
	path     string
	expected int64
	actual   int64
}

func (e *ErrSizeChanged) Error() string {
	return fmt.Sprintf("size of %s changed since it was scanned: expected %d, now %d", e.path, e.expected, e.actual)
}

type ErrSizeMismatch struct {
	planned int64
	written int64
}

func (e *ErrSizeMismatch) Error() string {
	return fmt.Sprintf("tar stream size mismatch: planned %d, wrote %d", e.planned, e.written)
}

// Produce writes the planned tar stream to w and returns the number of
// bytes written. Any error leaves the stream truncated.
func Produce(ctx context.Context, w io.Writer, plan *Plan, obs events.Observer) (int64, error) {
	obs = events.Or(obs)

	wc := archiveio.NewWriteCounter(w)
	tw := tar.NewWriter(wc)
	buf := make([]byte, chunkSize)

	for _, e := range plan.entries {
		if err := ctx.Err(); err != nil {
			return wc.TotalBytes(), err
		}

		var err error
		switch {
		case e.Dir:
			err = writeDir(tw, e)
		case e.data != nil:
			err = writeData(tw, e, buf)
		default:
			err = writeFile(tw, e, buf)
		}
		if err != nil {
			return wc.TotalBytes(), err
		}
		obs.Debug(ctx, "added tar entry", "name", e.Name, "size", e.Size)
	}

	if err := tw.Close(); err != nil {
		return wc.TotalBytes(), err
	}

	// the writer only emits the two end blocks; fill the last record
	pad := plan.Size() - wc.TotalBytes()
	if pad < 0 {
		return wc.TotalBytes(), &ErrSizeMismatch{planned: plan.Size(), written: wc.TotalBytes()}
	}
	if _, err := io.CopyN(wc, zeroReader{}, pad); err != nil {
		return wc.TotalBytes(), err
	}

	return wc.TotalBytes(), nil
}

func header(e Entry) *tar.Header {
	hdr := &tar.Header{
		Name:    e.Name,
		Size:    e.Size,
		Mode:    0644,
		ModTime: e.ModTime.Truncate(time.Second),
		Format:  tar.FormatGNU,
	}
	if e.Dir {
		hdr.Typeflag = tar.TypeDir
		hdr.Mode = 0755
		hdr.Size = 0
	} else {
		hdr.Typeflag = tar.TypeReg
	}
	return hdr
}

func writeDir(tw *tar.Writer, e Entry) error {
	hdr := header(e)
	if e.Source != "" {
		info, err := os.Stat(e.Source)
		if err != nil {
			return &ErrUnresolvableParent{dir: e.Source, err: err}
		}
		if !info.IsDir() {
			return &ErrUnresolvableParent{dir: e.Source, err: fmt.Errorf("not a directory")}
		}
		hdr.Mode = int64(info.Mode().Perm())
		hdr.ModTime = info.ModTime().Truncate(time.Second)
	}
	return tw.WriteHeader(hdr)
}

func writeData(tw *tar.Writer, e Entry, buf []byte) error {
	if err := tw.WriteHeader(header(e)); err != nil {
		return err
	}
	_, err := io.CopyBuffer(tw, bytes.NewReader(e.data), buf)
	return err
}

func writeFile(tw *tar.Writer, e Entry, buf []byte) error {
	f, err := os.Open(e.Source)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() != e.Size {
		return &ErrSizeChanged{path: e.Source, expected: e.Size, actual: info.Size()}
	}

	if err := tw.WriteHeader(header(e)); err != nil {
		return err
	}

	// copy exactly the declared length, one chunk at a time
	n, err := io.CopyBuffer(tw, io.LimitReader(f, e.Size), buf)
	if err != nil {
		return err
	}
	if n != e.Size {
		return &ErrSizeChanged{path: e.Source, expected: e.Size, actual: n}
	}
	return nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
