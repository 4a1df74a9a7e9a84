package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/manifest"
	"github.com/studio1767/dsarchive/internal/ops"
)

type ErrNoSuchJob struct {
	msg string
}

func (e *ErrNoSuchJob) Error() string {
	return e.msg
}

// Job describes one dataset or data package upload.
type Job struct {
	Name string

	Source    string
	Recursive bool

	DatasetID       int    `yaml:"dataset_id"`
	DatasetName     string `yaml:"dataset_name"`
	DataPackageID   int    `yaml:"datapackage_id"`
	DataPackageName string `yaml:"datapackage_name"`

	InstrumentID   int    `yaml:"instrument_id"`
	InstrumentName string `yaml:"instrument_name"`
	ProjectID      string `yaml:"project_id"`
	SubmitterID    int    `yaml:"submitter_id"`
	CampaignName   string `yaml:"campaign_name"`
	ExperimentName string `yaml:"experiment_name"`

	KeyValues []struct {
		Key   string
		Value string
	} `yaml:"key_values"`

	ExtraFiles []struct {
		Path   string
		Subdir string
		Name   string
	} `yaml:"extra_files"`

	ExpectedRemoteCount int  `yaml:"expected_remote_count"`
	IgnoreSanityCheck   bool `yaml:"ignore_sanity_check"`
	AllowManyFiles      bool `yaml:"allow_many_files"`

	IncludeTopDirs []string `yaml:"include_top_dirs"`
	ExcludeTopDirs []string `yaml:"exclude_top_dirs"`

	IncludeExtensions []string `yaml:"include_extensions"`
	ExcludeExtensions []string `yaml:"exclude_extensions"`

	SkipDirs     []string `yaml:"skip_dirs"`
	SkipDirItems []string `yaml:"skip_dir_items"`
}

// Load reads a job file. The job name defaults to the file name without
// its extension.
func Load(path string) (*Job, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ErrNoSuchJob{
				msg: fmt.Sprintf("No such job: %s", path),
			}
		}
		return nil, err
	}
	defer f.Close()

	job, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if job.Name == "" {
		job.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if job.Source != "" && !filepath.IsAbs(job.Source) {
		job.Source = filepath.Join(filepath.Dir(path), job.Source)
	}
	for i := range job.ExtraFiles {
		if p := job.ExtraFiles[i].Path; p != "" && !filepath.IsAbs(p) {
			job.ExtraFiles[i].Path = filepath.Join(filepath.Dir(path), p)
		}
	}

	return job, nil
}

func Read(r io.Reader) (*Job, error) {
	var job Job
	if err := yaml.NewDecoder(r).Decode(&job); err != nil {
		return nil, err
	}
	if job.Source == "" {
		return nil, errors.New("job has no source directory")
	}
	return &job, nil
}

func (j *Job) InventoryOptions(throttle ops.Throttle, workers int) ops.InventoryOptions {
	return ops.InventoryOptions{
		Scan: ops.ScanOptions{
			Recursive:      j.Recursive,
			IncludeTopDirs: j.IncludeTopDirs,
			ExcludeTopDirs: j.ExcludeTopDirs,
			SkipDirs:       j.SkipDirs,
			SkipDirItems:   j.SkipDirItems,
		},
		IncludeExtensions: j.IncludeExtensions,
		ExcludeExtensions: j.ExcludeExtensions,
		Throttle:          throttle,
		Workers:           workers,
	}
}

// Inventory scans the source directory and adds the extra files. Extra
// files land under their own subdir, relative to the dataset root.
func (j *Job) Inventory(ctx context.Context, throttle ops.Throttle, workers int, obs events.Observer) ([]ops.FileRecord, error) {
	c := ops.NewCollector(obs)
	if err := c.Scan(ctx, j.Source, j.InventoryOptions(throttle, workers)); err != nil {
		return nil, err
	}
	for _, ef := range j.ExtraFiles {
		if ef.Path == "" {
			return nil, ops.Critical("extra file without a path in job %s", j.Name)
		}
		if err := c.AddFile(ctx, throttle, ef.Path, ops.NormalizeRelDir(ef.Subdir), ef.Name); err != nil {
			return nil, err
		}
	}
	return c.Records(), nil
}

func (j *Job) ReconcileOptions(maxFiles int) ops.ReconcileOptions {
	return ops.ReconcileOptions{
		ExpectedRemoteCount: j.ExpectedRemoteCount,
		IgnoreSanityCheck:   j.IgnoreSanityCheck,
		MaxFiles:            maxFiles,
		AllowManyFiles:      j.AllowManyFiles,
	}
}

func (j *Job) Facts() manifest.Facts {
	facts := manifest.Facts{
		DatasetID:       j.DatasetID,
		DatasetName:     j.DatasetName,
		DataPackageID:   j.DataPackageID,
		DataPackageName: j.DataPackageName,
		InstrumentID:    j.InstrumentID,
		InstrumentName:  j.InstrumentName,
		ProjectID:       j.ProjectID,
		SubmitterID:     j.SubmitterID,
		CampaignName:    j.CampaignName,
		ExperimentName:  j.ExperimentName,
	}
	for _, kv := range j.KeyValues {
		facts.Extra = append(facts.Extra, manifest.KeyValue{Key: kv.Key, Value: kv.Value})
	}
	return facts
}

// IsDataPackage reports whether the job uploads a data package rather than
// a dataset.
func (j *Job) IsDataPackage() bool {
	return j.DataPackageID > 0
}
