package archiveio

import (
	"io"
	"sync/atomic"
)

// ReadCounter counts the reads and bytes that pass through it. The totals
// can be read from another goroutine while the stream is in use.
type ReadCounter struct {
	in    io.Reader
	reads atomic.Int64
	bytes atomic.Int64
}

func NewReadCounter(in io.Reader) *ReadCounter {
	return &ReadCounter{in: in}
}

func (rc *ReadCounter) Read(p []byte) (int, error) {
	size, err := rc.in.Read(p)

	rc.reads.Add(1)
	rc.bytes.Add(int64(size))

	return size, err
}

func (rc *ReadCounter) TotalReads() int {
	return int(rc.reads.Load())
}

func (rc *ReadCounter) TotalBytes() int64 {
	return rc.bytes.Load()
}

// WriteCounter is the write side equivalent of ReadCounter.
type WriteCounter struct {
	out    io.Writer
	writes atomic.Int64
	bytes  atomic.Int64
}

func NewWriteCounter(out io.Writer) *WriteCounter {
	return &WriteCounter{out: out}
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	size, err := wc.out.Write(p)

	wc.writes.Add(1)
	wc.bytes.Add(int64(size))

	return size, err
}

func (wc *WriteCounter) TotalWrites() int {
	return int(wc.writes.Load())
}

func (wc *WriteCounter) TotalBytes() int64 {
	return wc.bytes.Load()
}
