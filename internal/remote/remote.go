// Package remote looks up what the archive already holds for a dataset or
// data package.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/manifest"
	"github.com/studio1767/dsarchive/internal/ops"
)

// FileVersion is one stored version of a file in the archive.
type FileVersion struct {
	ID            int64
	Name          string
	Subdir        string
	RelativePath  string
	Hash          string
	HashType      string
	Size          int64
	Created       time.Time
	Updated       time.Time
	Deleted       time.Time
	TransactionID int64
}

func (fv FileVersion) IsDeleted() bool {
	return !fv.Deleted.IsZero()
}

type Options struct {
	Timeout time.Duration

	// Excluded drops versions created while the archive was storing bad
	// ingests.
	Excluded func(created time.Time) bool
}

type Client struct {
	cl      archiveio.Client
	baseURL string
	opts    Options
	obs     events.Observer
}

func NewClient(cl archiveio.Client, metadataURL string, opts Options, obs events.Observer) *Client {
	return &Client{
		cl:      cl,
		baseURL: strings.TrimSuffix(metadataURL, "/"),
		opts:    opts,
		obs:     events.Or(obs),
	}
}

func (c *Client) ForDataset(ctx context.Context, datasetID int) (*Inventory, error) {
	return c.Lookup(ctx, manifest.KeyDatasetID, strconv.Itoa(datasetID))
}

func (c *Client) ForDataPackage(ctx context.Context, dataPackageID int) (*Inventory, error) {
	return c.Lookup(ctx, manifest.KeyDataPackageID, strconv.Itoa(dataPackageID))
}

// Lookup fetches every file version tagged with key=value.
func (c *Client) Lookup(ctx context.Context, key, value string) (*Inventory, error) {
	u := fmt.Sprintf("%s/fileinfo/files_for_keyvalue/%s/%s", c.baseURL, url.PathEscape(key), url.PathEscape(value))

	resp, err := c.cl.Get(ctx, u, c.opts.Timeout)
	if err != nil {
		return nil, err
	}

	var records []record
	if err := json.Unmarshal(resp.Body, &records); err != nil {
		return nil, ops.CriticalWrap(err, "unable to parse file list for %s=%s", key, value)
	}

	inv := newInventory()
	inv.records = len(records)
	for _, rec := range records {
		fv, err := rec.version()
		if err != nil {
			return nil, ops.CriticalWrap(err, "unable to parse file record %d for %s=%s", rec.ID, key, value)
		}
		if c.opts.Excluded != nil && c.opts.Excluded(fv.Created) {
			c.obs.Debug(ctx, "ignoring file version from corrupt ingest window",
				"path", fv.RelativePath, "created", fv.Created)
			continue
		}
		if !inv.add(fv) {
			c.obs.Debug(ctx, "collapsing duplicate remote file version",
				"path", fv.RelativePath, "hash", fv.Hash, "id", fv.ID)
		}
	}
	inv.sort()

	c.obs.Debug(ctx, "remote inventory loaded", "key", key, "value", value,
		"records", inv.records, "versions", inv.versions)

	return inv, nil
}

type record struct {
	ID            int64       `json:"_id"`
	Name          string      `json:"name"`
	Subdir        string      `json:"subdir"`
	Hashsum       string      `json:"hashsum"`
	Hashtype      string      `json:"hashtype"`
	Size          json.Number `json:"size"`
	Created       string      `json:"created"`
	Updated       string      `json:"updated"`
	Deleted       *string     `json:"deleted"`
	TransactionID int64       `json:"transaction_id"`
}

func (rec record) version() (FileVersion, error) {
	if rec.Name == "" {
		return FileVersion{}, fmt.Errorf("record has no name")
	}

	fv := FileVersion{
		ID:            rec.ID,
		Name:          rec.Name,
		Subdir:        rec.Subdir,
		RelativePath:  RelativePath(rec.Subdir, rec.Name),
		Hash:          strings.ToLower(rec.Hashsum),
		HashType:      rec.Hashtype,
		TransactionID: rec.TransactionID,
	}

	var err error
	if rec.Size != "" {
		if fv.Size, err = rec.Size.Int64(); err != nil {
			return FileVersion{}, err
		}
	}
	if fv.Created, err = parseTime(rec.Created); err != nil {
		return FileVersion{}, err
	}
	if fv.Updated, err = parseTime(rec.Updated); err != nil {
		return FileVersion{}, err
	}
	if rec.Deleted != nil {
		if fv.Deleted, err = parseTime(*rec.Deleted); err != nil {
			return FileVersion{}, err
		}
	}

	return fv, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime accepts the timestamp forms the metadata service returns.
// Timestamps without a zone are UTC.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// RelativePath converts an archive subdir and file name to the path
// relative to the dataset root by dropping the leading "data" segment.
func RelativePath(subdir, name string) string {
	dir := ops.NormalizeRelDir(subdir)
	switch {
	case dir == "data":
		dir = ""
	case strings.HasPrefix(dir, "data/"):
		dir = strings.TrimPrefix(dir, "data/")
	}
	return ops.JoinRelPath(dir, name)
}

// Inventory maps relative paths to the versions stored under them.
type Inventory struct {
	byPath   map[string][]FileVersion
	records  int
	versions int
}

func newInventory() *Inventory {
	return &Inventory{byPath: make(map[string][]FileVersion)}
}

// add stores fv unless a version with the same hash is already present at
// the same path. Of two records with the same content the newer one is
// kept, so Latest reflects the most recent store of that content.
func (inv *Inventory) add(fv FileVersion) bool {
	versions := inv.byPath[fv.RelativePath]
	for i, existing := range versions {
		if existing.Hash == fv.Hash {
			if newer(fv, existing) {
				versions[i] = fv
			}
			return false
		}
	}
	inv.byPath[fv.RelativePath] = append(versions, fv)
	inv.versions++
	return true
}

func newer(a, b FileVersion) bool {
	if a.Created.Equal(b.Created) {
		return a.ID > b.ID
	}
	return a.Created.After(b.Created)
}

func (inv *Inventory) sort() {
	for _, versions := range inv.byPath {
		sort.SliceStable(versions, func(i, j int) bool {
			if versions[i].Created.Equal(versions[j].Created) {
				return versions[i].ID < versions[j].ID
			}
			return versions[i].Created.Before(versions[j].Created)
		})
	}
}

// Hashes returns the content hashes stored at relpath.
func (inv *Inventory) Hashes(relpath string) ([]string, bool) {
	versions, ok := inv.byPath[relpath]
	if !ok {
		return nil, false
	}
	hashes := make([]string, 0, len(versions))
	for _, v := range versions {
		hashes = append(hashes, v.Hash)
	}
	return hashes, true
}

// Count is the number of remote files, one per relative path.
func (inv *Inventory) Count() int {
	return len(inv.byPath)
}

// VersionCount is the number of distinct file versions kept.
func (inv *Inventory) VersionCount() int {
	return inv.versions
}

// RecordCount is the number of records the service returned.
func (inv *Inventory) RecordCount() int {
	return inv.records
}

// Versions returns the versions at relpath, oldest first.
func (inv *Inventory) Versions(relpath string) []FileVersion {
	return inv.byPath[relpath]
}

func (inv *Inventory) Paths() []string {
	paths := make([]string, 0, len(inv.byPath))
	for p := range inv.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Latest returns the newest non-deleted version of each path, ordered by
// path.
func (inv *Inventory) Latest() []FileVersion {
	var latest []FileVersion
	for _, p := range inv.Paths() {
		versions := inv.byPath[p]
		for i := len(versions) - 1; i >= 0; i-- {
			if !versions[i].IsDeleted() {
				latest = append(latest, versions[i])
				break
			}
		}
	}
	return latest
}

// Filter returns the subset of paths matching pattern.
func (inv *Inventory) Filter(pattern string) (*Inventory, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	out := newInventory()
	for p, versions := range inv.byPath {
		if !re.MatchString(p) {
			continue
		}
		out.byPath[p] = versions
		out.versions += len(versions)
		out.records += len(versions)
	}
	return out, nil
}
