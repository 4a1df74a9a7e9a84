package tarstream

import (
	"context"
	"io"
	"time"

	"github.com/studio1767/dsarchive/internal/events"
)

const (
	minProgressInterval = 3 * time.Second
	maxProgressInterval = 90 * time.Second
)

// ProgressInterval is the time to wait before the next progress
// notification. It grows with the elapsed time, from 3s up to 90s.
func ProgressInterval(elapsed time.Duration) time.Duration {
	return min(max(minProgressInterval, elapsed/10), maxProgressInterval)
}

// ProgressWriter passes writes through and reports progress as they go.
type ProgressWriter struct {
	ctx       context.Context
	w         io.Writer
	obs       events.Observer
	operation string
	total     int64
	done      int64
	start     time.Time
	next      time.Time
	now       func() time.Time
}

func NewProgressWriter(ctx context.Context, w io.Writer, operation string, total int64, obs events.Observer) *ProgressWriter {
	start := time.Now()
	return &ProgressWriter{
		ctx:       ctx,
		w:         w,
		obs:       events.Or(obs),
		operation: operation,
		total:     total,
		start:     start,
		next:      start.Add(minProgressInterval),
		now:       time.Now,
	}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.done += int64(n)

	now := pw.now()
	if !now.Before(pw.next) {
		elapsed := now.Sub(pw.start)
		pw.report(elapsed)
		pw.next = now.Add(ProgressInterval(elapsed))
	}

	return n, err
}

// Finish sends a final notification.
func (pw *ProgressWriter) Finish() {
	pw.report(pw.now().Sub(pw.start))
}

func (pw *ProgressWriter) report(elapsed time.Duration) {
	pw.obs.Progress(pw.ctx, events.Progress{
		Operation: pw.operation,
		Done:      pw.done,
		Total:     pw.total,
		Elapsed:   elapsed,
	})
}
