package job_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/dsarchive/internal/job"
	"github.com/studio1767/dsarchive/internal/manifest"
	"github.com/studio1767/dsarchive/internal/ops"
)

const sample = `
source: QC_Shew_01
recursive: true
dataset_id: 1234
dataset_name: QC_Shew_01
instrument_id: 55
project_id: EPR99
key_values:
  - key: omics.dms.note
    value: rerun
extra_files:
  - path: /inst/extra.log
    subdir: logs
    name: acq.log
expected_remote_count: 12
allow_many_files: true
exclude_extensions: [".tmp"]
skip_dirs: ["scratch"]
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qc-shew.yml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	j, err := job.Load(path)
	require.NoError(t, err)

	require.Equal(t, "qc-shew", j.Name)
	require.Equal(t, filepath.Join(dir, "QC_Shew_01"), j.Source)
	require.False(t, j.IsDataPackage())
	require.Len(t, j.ExtraFiles, 1)
	require.Equal(t, "acq.log", j.ExtraFiles[0].Name)

	opts := j.InventoryOptions(nil, 3)
	require.True(t, opts.Scan.Recursive)
	require.Equal(t, []string{"scratch"}, opts.Scan.SkipDirs)
	require.Equal(t, []string{".tmp"}, opts.ExcludeExtensions)
	require.Equal(t, 3, opts.Workers)

	ropts := j.ReconcileOptions(ops.DefaultMaxFiles)
	require.Equal(t, 12, ropts.ExpectedRemoteCount)
	require.True(t, ropts.AllowManyFiles)
	require.Equal(t, 1000, ropts.MaxFiles)

	facts := j.Facts()
	require.Equal(t, 1234, facts.DatasetID)
	require.Equal(t, []manifest.KeyValue{{Key: "omics.dms.note", Value: "rerun"}}, facts.Extra)
}

func TestLoadMissing(t *testing.T) {
	_, err := job.Load(filepath.Join(t.TempDir(), "missing.yml"))

	var nosuchjob *job.ErrNoSuchJob
	require.True(t, errors.As(err, &nosuchjob))
}

func TestReadRequiresSource(t *testing.T) {
	_, err := job.Read(strings.NewReader("dataset_id: 1\n"))
	require.Error(t, err)
}

func TestInventoryAddsExtraFiles(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "QC_Shew_02")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "scratch"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "run.raw"), []byte("spectra"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "scratch", "tmp.raw"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instrument.log"), []byte("log"), 0644))

	jobfile := `
source: QC_Shew_02
recursive: true
dataset_id: 99
skip_dirs: ["scratch"]
extra_files:
  - path: instrument.log
    subdir: /logs/
    name: acq.log
`
	path := filepath.Join(dir, "job.yml")
	require.NoError(t, os.WriteFile(path, []byte(jobfile), 0644))

	j, err := job.Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "instrument.log"), j.ExtraFiles[0].Path)

	records, err := j.Inventory(context.Background(), nil, 2, nil)
	require.NoError(t, err)

	var paths []string
	for _, r := range records {
		paths = append(paths, r.RelativePath())
	}
	require.ElementsMatch(t, []string{"run.raw", "logs/acq.log"}, paths)
}
