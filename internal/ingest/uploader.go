// Package ingest pushes an upload container to the archive's ingest
// service and follows the resulting ingest job.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/manifest"
	"github.com/studio1767/dsarchive/internal/ops"
	"github.com/studio1767/dsarchive/internal/staging"
	"github.com/studio1767/dsarchive/internal/tarstream"
)

// Receipt describes a finished upload. JobID and StatusURL are only set
// when the container went to the ingest service.
type Receipt struct {
	JobID     int64
	StatusURL string
	Bytes     int64
	Location  string
}

type UploaderOptions struct {
	PolicyURL string
	IngestURL string

	// Timeout bounds the policy check, UploadTimeout the streamed upload.
	Timeout       time.Duration
	UploadTimeout time.Duration

	// Sink, when set, receives the container instead of the ingest
	// service and the policy check is skipped.
	Sink staging.Sink
}

// Uploader sends one upload at a time; it holds no state between calls.
type Uploader struct {
	cl   archiveio.Client
	opts UploaderOptions
	obs  events.Observer
}

func NewUploader(cl archiveio.Client, opts UploaderOptions, obs events.Observer) *Uploader {
	opts.PolicyURL = strings.TrimSuffix(opts.PolicyURL, "/")
	opts.IngestURL = strings.TrimSuffix(opts.IngestURL, "/")
	return &Uploader{
		cl:   cl,
		opts: opts,
		obs:  events.Or(obs),
	}
}

// Upload validates the manifest against the ingest policy, then streams the
// tar container built from it. Nothing is retried; a failed upload has to
// be started again from scratch.
func (u *Uploader) Upload(ctx context.Context, items []manifest.Item) (*Receipt, error) {
	receipt, err := u.upload(ctx, items)
	if err != nil {
		u.obs.Error(ctx, "Upload failed", "error", err)
		return nil, err
	}
	return receipt, nil
}

func (u *Uploader) upload(ctx context.Context, items []manifest.Item) (*Receipt, error) {
	data, err := manifest.Marshal(items)
	if err != nil {
		return nil, err
	}

	if u.opts.Sink == nil {
		if err := u.checkPolicy(ctx, data); err != nil {
			return nil, err
		}
	}

	plan := tarstream.NewPlan(data, manifest.Files(items))
	u.obs.Status(ctx, "uploading container",
		"files", len(manifest.Files(items)),
		"size", humanize.Bytes(uint64(plan.Size())),
	)

	if u.opts.Sink != nil {
		return u.stage(ctx, plan)
	}
	return u.send(ctx, plan)
}

// checkPolicy asks the policy service whether the manifest may be ingested.
// A rejection is critical; an unreachable service or a dropped connection
// is not.
func (u *Uploader) checkPolicy(ctx context.Context, data []byte) error {
	_, err := u.cl.PostJSON(ctx, u.opts.PolicyURL+"/ingest", json.RawMessage(data), u.opts.Timeout)
	if err == nil {
		return nil
	}

	// only an answer from the policy service is a rejection; a broken
	// exchange has no status
	var precondition *archiveio.ErrPreconditionFailed
	if errors.As(err, &precondition) {
		return ops.CriticalWrap(err, "ingest policy rejected the upload")
	}
	var failed *archiveio.ErrRequestFailed
	if errors.As(err, &failed) && failed.Status() != 0 {
		return ops.CriticalWrap(err, "ingest policy rejected the upload")
	}
	return err
}

// stream runs the producer on its own goroutine, writing into a pipe whose
// other end is consumed by the sender. The error returned is the one that
// happened first; the other side only fails because its pipe was closed.
func (u *Uploader) stream(ctx context.Context, plan *tarstream.Plan, sender func(ctx context.Context, body io.Reader) error) (int64, error) {
	pr, pw := io.Pipe()

	var once sync.Once
	var first error
	fail := func(err error) {
		once.Do(func() { first = err })
	}

	var written int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		progress := tarstream.NewProgressWriter(gctx, pw, "upload", plan.Size(), u.obs)

		var err error
		written, err = tarstream.Produce(gctx, progress, plan, u.obs)
		if err != nil {
			fail(err)
		} else {
			progress.Finish()
		}
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := sender(gctx, pr)
		if err != nil {
			fail(err)
		}
		pr.CloseWithError(err)
		return err
	})
	g.Wait()

	return written, first
}

func (u *Uploader) send(ctx context.Context, plan *tarstream.Plan) (*Receipt, error) {
	var resp *archiveio.Response
	written, err := u.stream(ctx, plan, func(ctx context.Context, body io.Reader) error {
		var err error
		resp, err = u.cl.PostStream(ctx, u.opts.IngestURL+"/upload", body, plan.Size(), u.opts.UploadTimeout)
		return err
	})
	if err != nil {
		return nil, err
	}

	var reply struct {
		JobID json.Number `json:"job_id"`
	}
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return nil, fmt.Errorf("unable to parse ingest response: %w", err)
	}
	jobID, err := reply.JobID.Int64()
	if err != nil {
		return nil, fmt.Errorf("ingest response has no job id: %s", resp.Body)
	}

	u.obs.Status(ctx, "upload complete", "job_id", jobID, "bytes", humanize.Bytes(uint64(written)))

	return &Receipt{
		JobID:     jobID,
		StatusURL: StatusURL(u.opts.IngestURL, jobID),
		Bytes:     written,
		Location:  u.opts.IngestURL + "/upload",
	}, nil
}

func (u *Uploader) stage(ctx context.Context, plan *tarstream.Plan) (*Receipt, error) {
	name := fmt.Sprintf("upload-%s.tar", uuid.NewString())

	written, err := u.stream(ctx, plan, func(ctx context.Context, body io.Reader) error {
		_, err := u.opts.Sink.Write(ctx, name, plan.Size(), body)
		return err
	})
	if err != nil {
		return nil, err
	}

	location := u.opts.Sink.Location(name)
	u.obs.Status(ctx, "container staged", "location", location, "bytes", humanize.Bytes(uint64(written)))

	return &Receipt{
		Bytes:    written,
		Location: location,
	}, nil
}

// StatusURL is where the state of an ingest job is reported.
func StatusURL(ingestURL string, jobID int64) string {
	return fmt.Sprintf("%s/get_state?job_id=%s", strings.TrimSuffix(ingestURL, "/"), url.QueryEscape(fmt.Sprint(jobID)))
}
