package manifest_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/studio1767/dsarchive/internal/manifest"
	"github.com/studio1767/dsarchive/internal/ops"
)

var stamp = time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)

func sampleFiles() []ops.FileRecord {
	return []ops.FileRecord{
		{AbsolutePath: "/inst/ds/a.raw", RelativeDir: "", FileName: "a.raw", Hash: "aa", Size: 3, CTime: stamp, MTime: stamp},
		{AbsolutePath: "/inst/ds/sub/deep/b.raw", RelativeDir: "sub/deep", FileName: "b.raw", Hash: "bb", Size: 5, CTime: stamp, MTime: stamp.Add(time.Hour)},
	}
}

func TestBuildRequiresExactlyOneIdentity(t *testing.T) {
	_, err := manifest.Build(manifest.Facts{}, nil)
	require.True(t, ops.IsCritical(err))

	_, err = manifest.Build(manifest.Facts{DatasetID: 1, DataPackageID: 2}, nil)
	require.True(t, ops.IsCritical(err))

	_, err = manifest.Build(manifest.Facts{DataPackageID: 2}, nil)
	require.NoError(t, err)
}

func TestBuildOrderAndDefaults(t *testing.T) {
	items, err := manifest.Build(manifest.Facts{
		DatasetID:   42,
		DatasetName: "QC_Shew_01",
		ProjectID:   "EPR123",
	}, sampleFiles())
	require.NoError(t, err)

	require.Equal(t, manifest.TransactionValue{Table: "instrument", Value: "34127"}, items[0])
	require.Equal(t, manifest.TransactionValue{Table: "project", Value: "17797"}, items[1])
	require.Equal(t, manifest.TransactionValue{Table: "submitter", Value: "43428"}, items[2])

	// key/values follow the transaction values and precede every file
	seenFile := false
	for _, item := range items[3:] {
		switch item.(type) {
		case manifest.FileEntry:
			seenFile = true
		case manifest.KeyValue:
			require.False(t, seenFile, "key/value after a file entry")
		default:
			t.Fatalf("unexpected item %T", item)
		}
	}
	require.Contains(t, items, manifest.Item(manifest.KeyValue{Key: manifest.KeyDatasetID, Value: "42"}))

	files := manifest.Files(items)
	require.Len(t, files, 2)
	require.Equal(t, "a.raw", files[0].File.FileName)
	require.Equal(t, "b.raw", files[1].File.FileName)
}

func TestBuildKeepsValidProject(t *testing.T) {
	items, err := manifest.Build(manifest.Facts{DatasetID: 1, ProjectID: "51234", InstrumentID: 7, SubmitterID: 9}, nil)
	require.NoError(t, err)
	require.Equal(t, manifest.TransactionValue{Table: "instrument", Value: "7"}, items[0])
	require.Equal(t, manifest.TransactionValue{Table: "project", Value: "51234"}, items[1])
	require.Equal(t, manifest.TransactionValue{Table: "submitter", Value: "9"}, items[2])
}

func TestSubdirRules(t *testing.T) {
	require.Equal(t, "data/", manifest.Subdir(""))
	require.Equal(t, "data/sub", manifest.Subdir("sub"))
	require.Equal(t, "data/sub/deep", manifest.Subdir("/sub/deep/"))

	items, err := manifest.Build(manifest.Facts{DatasetID: 1}, sampleFiles())
	require.NoError(t, err)
	files := manifest.Files(items)
	require.Equal(t, "data/", files[0].Subdir)
	require.Equal(t, "data/a.raw", files[0].ArchivePath())
	require.Equal(t, "data/sub/deep", files[1].Subdir)
	require.Equal(t, "data/sub/deep/b.raw", files[1].ArchivePath())
}

func TestMarshalWireFormat(t *testing.T) {
	items, err := manifest.Build(manifest.Facts{DatasetID: 1}, sampleFiles()[:1])
	require.NoError(t, err)

	data, err := manifest.Marshal(items)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	require.Equal(t, "Transactions.instrument", raw[0]["destinationTable"])
	last := raw[len(raw)-1]
	require.Equal(t, "Files", last["destinationTable"])
	require.Equal(t, "a.raw", last["name"])
	require.Equal(t, "/inst/ds/a.raw", last["absolutelocalpath"])
	require.Equal(t, "data/", last["subdir"])
	require.Equal(t, float64(3), last["size"])
	require.Equal(t, "aa", last["hashsum"])
	require.Equal(t, "application/octet-stream", last["mimetype"])
	require.Equal(t, "sha1", last["hashtype"])
	require.Equal(t, "2024-03-05T10:11:12Z", last["ctime"])
}

func TestRoundTrip(t *testing.T) {
	items, err := manifest.Build(manifest.Facts{
		DataPackageID:   77,
		DataPackageName: "pkg",
		Extra:           []manifest.KeyValue{{Key: "omics.dms.note", Value: "x"}},
	}, sampleFiles())
	require.NoError(t, err)

	data, err := manifest.Marshal(items)
	require.NoError(t, err)

	back, err := manifest.Unmarshal(data)
	require.NoError(t, err)

	if diff := cmp.Diff(items, back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalRejectsUnknownTable(t *testing.T) {
	_, err := manifest.Unmarshal([]byte(`[{"destinationTable":"Bogus"}]`))
	require.Error(t, err)

	_, err = manifest.Unmarshal([]byte(`not json`))
	require.Error(t, err)
}
