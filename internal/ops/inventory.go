package ops

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/studio1767/dsarchive/internal/events"
)

// InventoryOptions selects and hashes the files of a dataset directory.
type InventoryOptions struct {
	Scan ScanOptions

	IncludeExtensions []string
	ExcludeExtensions []string

	Throttle Throttle
	Workers  int
}

// Collector accumulates file records, enforcing one record per source path
// and one record per relative destination path.
type Collector struct {
	obs      events.Observer
	records  []FileRecord
	bySource map[string]bool
	byDest   map[string]string
}

func NewCollector(obs events.Observer) *Collector {
	return &Collector{
		obs:      events.Or(obs),
		bySource: make(map[string]bool),
		byDest:   make(map[string]string),
	}
}

// Add records a hashed entry. Failed entries and duplicate destination
// paths are errors; a repeated source path is dropped and a zero-byte file
// is skipped with a warning.
func (c *Collector) Add(ctx context.Context, info *EntryInfo) error {
	if info.Action == Failed {
		return errors.New(info.ActionMessage)
	}

	abspath := filepath.Clean(info.AbsPath)
	if c.bySource[abspath] {
		return nil
	}

	if info.Size == 0 {
		c.obs.Warning(ctx, "skipping zero-byte file", "path", abspath)
		return nil
	}

	record := info.record()
	record.AbsolutePath = abspath
	record.RelativeDir = NormalizeRelDir(record.RelativeDir)

	relpath := record.RelativePath()
	if other, ok := c.byDest[relpath]; ok {
		return CriticalWrap(&ErrDuplicatePath{relpath: relpath}, "%s and %s", other, abspath)
	}

	c.bySource[abspath] = true
	c.byDest[relpath] = abspath
	c.records = append(c.records, record)

	return nil
}

// AddFile stages a single file under relDir with the given archive name,
// which may differ from the name on disk.
func (c *Collector) AddFile(ctx context.Context, throttle Throttle, fpath, relDir, name string) error {
	if throttle == nil {
		throttle = NoThrottle{}
	}

	info, err := os.Stat(fpath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return Critical("not a regular file: %s", fpath)
	}
	if name == "" {
		name = filepath.Base(fpath)
	}

	entry := &EntryInfo{
		Status:  StatusNew,
		AbsPath: fpath,
		RelDir:  relDir,
		Name:    name,
		Size:    info.Size(),
		CTime:   changeTime(info),
		MTime:   info.ModTime(),
	}

	if entry.Size > 0 {
		release, err := throttle.Acquire(ctx, fpath)
		if err != nil {
			return err
		}
		entry.Hash, err = HashFile(fpath)
		release()
		if err != nil {
			return err
		}
	}

	return c.Add(ctx, entry)
}

func (c *Collector) Records() []FileRecord {
	return c.records
}

// collect adds every entry of the stream. On the first error cancel stops
// the operators upstream; what they already sent is drained and dropped.
func (c *Collector) collect(ctx context.Context, in <-chan *EntryInfo, cancel context.CancelFunc) error {
	var first error
	for info := range in {
		if first != nil {
			continue
		}
		if first = c.Add(ctx, info); first != nil {
			cancel()
		}
	}
	if first != nil {
		return first
	}
	return ctx.Err()
}

// CheckSourceDir verifies that the dataset directory exists.
func CheckSourceDir(source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return CriticalWrap(err, "source directory %s is not accessible", source)
	}
	if !info.IsDir() {
		return Critical("source %s is not a directory", source)
	}
	return nil
}

// Scan builds the operator chain for a dataset directory and collects the
// resulting file records.
func Scan(ctx context.Context, source string, opts InventoryOptions, obs events.Observer) ([]FileRecord, error) {
	c := NewCollector(obs)
	if err := c.Scan(ctx, source, opts); err != nil {
		return nil, err
	}
	return c.Records(), nil
}

func (c *Collector) Scan(ctx context.Context, source string, opts InventoryOptions) error {
	if err := CheckSourceDir(source); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := NewFsScanner(ctx, source, opts.Scan)
	if len(opts.IncludeExtensions) > 0 || len(opts.ExcludeExtensions) > 0 {
		entries = NewFileExtensionFilter(ctx, entries, opts.IncludeExtensions, opts.ExcludeExtensions)
	}
	entries = NewHashGenerator(ctx, entries, opts.Throttle, opts.Workers)

	return c.collect(ctx, entries, cancel)
}
