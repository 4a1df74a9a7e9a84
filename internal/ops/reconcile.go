package ops

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/studio1767/dsarchive/internal/events"
)

const DefaultMaxFiles = 1000

// SanityTolerance is the fraction of the expected remote file count that
// must be present before the remote inventory is trusted.
func SanityTolerance(expected int) float64 {
	switch {
	case expected < 10:
		return 0.7
	case expected < 20:
		return 0.6
	case expected < 40:
		return 0.5
	case expected < 80:
		return 0.4
	}
	return 0.25
}

// CheckRemoteCount guards against a remote lookup that silently returned
// too little. With override set a shortfall is not an error.
func CheckRemoteCount(expected, remote int, override bool) error {
	if expected <= 0 || override {
		return nil
	}
	if float64(remote) < float64(expected)*SanityTolerance(expected) {
		return Critical("remote archive reports %d files but %d were expected; refusing to continue", remote, expected)
	}
	return nil
}

type ReconcileOptions struct {
	// ExpectedRemoteCount is the number of files the caller believes are
	// already archived; zero disables the sanity check.
	ExpectedRemoteCount int
	IgnoreSanityCheck   bool

	// MaxFiles caps the number of files in one upload; zero means no cap.
	MaxFiles       int
	AllowManyFiles bool
}

type Reconciliation struct {
	Upload         []FileRecord
	NewCount       int
	UpdatedCount   int
	UnchangedCount int
	TotalBytes     int64
}

// Reconcile decides which local files must be uploaded. Files whose hash
// matches any archived version at the same path are left out.
func Reconcile(ctx context.Context, local []FileRecord, remote RemoteIndex, opts ReconcileOptions, obs events.Observer) (*Reconciliation, error) {
	obs = events.Or(obs)

	err := CheckRemoteCount(opts.ExpectedRemoteCount, remote.Count(), opts.IgnoreSanityCheck)
	if err != nil {
		return nil, err
	}
	if opts.IgnoreSanityCheck && opts.ExpectedRemoteCount > 0 {
		if CheckRemoteCount(opts.ExpectedRemoteCount, remote.Count(), false) != nil {
			obs.Warning(ctx, "remote file count below expected, continuing by override",
				"expected", opts.ExpectedRemoteCount, "remote", remote.Count())
		}
	}

	r := &Reconciliation{}
	for _, fr := range local {
		switch Classify(fr.RelativePath(), fr.Hash, remote) {
		case StatusOk:
			r.UnchangedCount++
			continue
		case StatusNew:
			r.NewCount++
		case StatusModified:
			r.UpdatedCount++
		}
		r.Upload = append(r.Upload, fr)
		r.TotalBytes += fr.Size
	}

	if opts.MaxFiles > 0 && len(r.Upload) > opts.MaxFiles {
		if !opts.AllowManyFiles {
			return nil, Critical("too many files to archive: %d exceeds the limit of %d", len(r.Upload), opts.MaxFiles)
		}
		obs.Warning(ctx, "file count exceeds limit, continuing by override",
			"files", len(r.Upload), "limit", opts.MaxFiles)
	}

	obs.Status(ctx, "reconciled local files with archive",
		"new", r.NewCount,
		"updated", r.UpdatedCount,
		"unchanged", r.UnchangedCount,
		"bytes", humanize.Bytes(uint64(r.TotalBytes)),
	)

	return r, nil
}
