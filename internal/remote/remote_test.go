package remote_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/ops"
	"github.com/studio1767/dsarchive/internal/remote"
)

var _ ops.RemoteIndex = (*remote.Inventory)(nil)

const records = `[
 {"_id": 1, "name": "a.raw", "subdir": "data/", "hashsum": "AA", "hashtype": "sha1", "size": 10,
  "created": "2024-01-01T10:00:00", "updated": "2024-01-01T10:00:00", "deleted": null, "transaction_id": 7},
 {"_id": 2, "name": "a.raw", "subdir": "data/", "hashsum": "bb", "hashtype": "sha1", "size": 11,
  "created": "2024-02-01T10:00:00", "updated": "2024-02-01T10:00:00", "deleted": null, "transaction_id": 8},
 {"_id": 3, "name": "a.raw", "subdir": "data", "hashsum": "aa", "hashtype": "sha1", "size": 10,
  "created": "2024-03-01T10:00:00", "updated": "2024-03-01T10:00:00", "deleted": null, "transaction_id": 9},
 {"_id": 4, "name": "b.raw", "subdir": "data/sub/deep", "hashsum": "cc", "hashtype": "sha1", "size": 12,
  "created": "2024-01-05 08:00:00", "updated": "2024-01-05 08:00:00", "deleted": null, "transaction_id": 7},
 {"_id": 5, "name": "gone.raw", "subdir": "data/", "hashsum": "dd", "hashtype": "sha1", "size": 1,
  "created": "2024-01-05T08:00:00Z", "updated": "2024-01-06T08:00:00Z", "deleted": "2024-01-06T08:00:00Z", "transaction_id": 7},
 {"_id": 6, "name": "bad.raw", "subdir": "data/", "hashsum": "ee", "hashtype": "sha1", "size": 1,
  "created": "2023-06-15T00:00:00", "updated": "2023-06-15T00:00:00", "deleted": null, "transaction_id": 3}
]`

func newServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	router := mux.NewRouter()
	router.HandleFunc("/fileinfo/files_for_keyvalue/{key}/{value}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if vars["key"] != "omics.dms.dataset_id" || vars["value"] != "1234" {
			io.WriteString(w, "[]")
			return
		}
		io.WriteString(w, body)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *remote.Client {
	t.Helper()
	cl, err := archiveio.NewClient(archiveio.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	corrupt := func(created time.Time) bool {
		return created.Year() == 2023
	}
	return remote.NewClient(cl, srv.URL+"/", remote.Options{Excluded: corrupt}, events.Discard)
}

func TestForDataset(t *testing.T) {
	srv := newServer(t, records)
	rc := newClient(t, srv)

	inv, err := rc.ForDataset(context.Background(), 1234)
	require.NoError(t, err)

	require.Equal(t, 6, inv.RecordCount())
	require.Equal(t, 4, inv.VersionCount())
	require.Equal(t, 3, inv.Count())
	require.Equal(t, []string{"a.raw", "gone.raw", "sub/deep/b.raw"}, inv.Paths())

	hashes, ok := inv.Hashes("a.raw")
	require.True(t, ok)
	require.Equal(t, []string{"bb", "aa"}, hashes)

	hashes, ok = inv.Hashes("sub/deep/b.raw")
	require.True(t, ok)
	require.Equal(t, []string{"cc"}, hashes)

	_, ok = inv.Hashes("bad.raw")
	require.False(t, ok)
}

func TestLatestSkipsDeleted(t *testing.T) {
	srv := newServer(t, records)
	rc := newClient(t, srv)

	inv, err := rc.ForDataset(context.Background(), 1234)
	require.NoError(t, err)

	latest := inv.Latest()
	require.Len(t, latest, 2)
	require.Equal(t, "sub/deep/b.raw", latest[1].RelativePath)

	// content aa was stored again after bb; the later store wins
	require.Equal(t, int64(3), latest[0].ID)
	require.Equal(t, "aa", latest[0].Hash)

	versions := inv.Versions("a.raw")
	require.Len(t, versions, 2)
	require.Equal(t, []int64{2, 3}, []int64{versions[0].ID, versions[1].ID})
}

func TestSanityCheckCountsPathsNotVersions(t *testing.T) {
	var parts []string
	id := 0
	for p := 0; p < 10; p++ {
		for v := 0; v < 3; v++ {
			id++
			parts = append(parts, fmt.Sprintf(
				`{"_id": %d, "name": "f%02d.raw", "subdir": "data/", "hashsum": "%040x", "hashtype": "sha1", "size": 5,
				  "created": "2024-0%d-01T00:00:00", "updated": "2024-0%d-01T00:00:00", "deleted": null, "transaction_id": %d}`,
				id, p, id, v+1, v+1, v+1))
		}
	}
	srv := newServer(t, "["+strings.Join(parts, ",")+"]")
	rc := newClient(t, srv)

	inv, err := rc.ForDataset(context.Background(), 1234)
	require.NoError(t, err)
	require.Equal(t, 10, inv.Count())
	require.Equal(t, 30, inv.VersionCount())

	// 10 files is below 50 * 0.4
	_, err = ops.Reconcile(context.Background(), nil, inv, ops.ReconcileOptions{ExpectedRemoteCount: 50}, events.Discard)
	require.Error(t, err)
	require.True(t, ops.IsCritical(err))

	_, err = ops.Reconcile(context.Background(), nil, inv, ops.ReconcileOptions{ExpectedRemoteCount: 20}, events.Discard)
	require.NoError(t, err)
}

func TestFilter(t *testing.T) {
	srv := newServer(t, records)
	rc := newClient(t, srv)

	inv, err := rc.ForDataset(context.Background(), 1234)
	require.NoError(t, err)

	sub, err := inv.Filter(`^sub/`)
	require.NoError(t, err)
	require.Equal(t, []string{"sub/deep/b.raw"}, sub.Paths())

	_, err = inv.Filter(`(`)
	require.Error(t, err)
}

func TestUnknownDatasetIsEmpty(t *testing.T) {
	srv := newServer(t, records)
	rc := newClient(t, srv)

	inv, err := rc.ForDataPackage(context.Background(), 99)
	require.NoError(t, err)
	require.Zero(t, inv.Count())
}

func TestUnparseableResponseIsCritical(t *testing.T) {
	srv := newServer(t, `{"not": "a list"}`)
	rc := newClient(t, srv)

	_, err := rc.ForDataset(context.Background(), 1234)
	require.True(t, ops.IsCritical(err))
}

func TestRelativePath(t *testing.T) {
	require.Equal(t, "a.raw", remote.RelativePath("data/", "a.raw"))
	require.Equal(t, "a.raw", remote.RelativePath("data", "a.raw"))
	require.Equal(t, "x/a.raw", remote.RelativePath("data/x", "a.raw"))
	require.Equal(t, "other/a.raw", remote.RelativePath("other", "a.raw"))
}
