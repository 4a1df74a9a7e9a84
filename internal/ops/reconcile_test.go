package ops_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/ops"
)

type fakeRemote map[string][]string

func (fr fakeRemote) Hashes(relpath string) ([]string, bool) {
	h, ok := fr[relpath]
	return h, ok
}

func (fr fakeRemote) Count() int {
	return len(fr)
}

func remoteWithCount(n int) fakeRemote {
	fr := fakeRemote{}
	for i := 0; i < n; i++ {
		fr[string(rune('a'+i%26))+string(rune('a'+i/26))] = []string{"x"}
	}
	return fr
}

func TestSanityTolerance(t *testing.T) {
	require.Equal(t, 0.7, ops.SanityTolerance(9))
	require.Equal(t, 0.6, ops.SanityTolerance(10))
	require.Equal(t, 0.5, ops.SanityTolerance(39))
	require.Equal(t, 0.4, ops.SanityTolerance(79))
	require.Equal(t, 0.25, ops.SanityTolerance(80))
}

func TestCheckRemoteCount(t *testing.T) {
	err := ops.CheckRemoteCount(50, 10, false)
	require.Error(t, err)
	require.True(t, ops.IsCritical(err))

	require.NoError(t, ops.CheckRemoteCount(50, 25, false))
	require.NoError(t, ops.CheckRemoteCount(50, 10, true))
	require.NoError(t, ops.CheckRemoteCount(0, 0, false))
	require.NoError(t, ops.CheckRemoteCount(-1, 0, false))
}

func TestReconcileCategorizes(t *testing.T) {
	local := []ops.FileRecord{
		{RelativeDir: "", FileName: "same.raw", Hash: "h1", Size: 10},
		{RelativeDir: "", FileName: "changed.raw", Hash: "h2", Size: 20},
		{RelativeDir: "sub", FileName: "new.raw", Hash: "h3", Size: 30},
		{RelativeDir: "", FileName: "old.raw", Hash: "v1", Size: 40},
	}
	remote := fakeRemote{
		"same.raw":    {"h1"},
		"changed.raw": {"zz"},
		"old.raw":     {"v2", "v1"},
	}

	r, err := ops.Reconcile(context.Background(), local, remote, ops.ReconcileOptions{}, events.Discard)
	require.NoError(t, err)

	require.Equal(t, 2, r.UnchangedCount)
	require.Equal(t, 1, r.UpdatedCount)
	require.Equal(t, 1, r.NewCount)
	require.Equal(t, int64(50), r.TotalBytes)
	require.Len(t, r.Upload, 2)
	require.Equal(t, "changed.raw", r.Upload[0].RelativePath())
	require.Equal(t, "sub/new.raw", r.Upload[1].RelativePath())
}

func TestReconcileSanityTrip(t *testing.T) {
	_, err := ops.Reconcile(context.Background(), nil, remoteWithCount(10),
		ops.ReconcileOptions{ExpectedRemoteCount: 50}, events.Discard)
	require.True(t, ops.IsCritical(err))

	_, err = ops.Reconcile(context.Background(), nil, remoteWithCount(25),
		ops.ReconcileOptions{ExpectedRemoteCount: 50}, events.Discard)
	require.NoError(t, err)

	_, err = ops.Reconcile(context.Background(), nil, remoteWithCount(10),
		ops.ReconcileOptions{ExpectedRemoteCount: 50, IgnoreSanityCheck: true}, events.Discard)
	require.NoError(t, err)
}

func TestReconcileTooManyFiles(t *testing.T) {
	local := []ops.FileRecord{
		{FileName: "a", Hash: "1", Size: 1},
		{FileName: "b", Hash: "2", Size: 1},
		{FileName: "c", Hash: "3", Size: 1},
	}

	_, err := ops.Reconcile(context.Background(), local, fakeRemote{}, ops.ReconcileOptions{MaxFiles: 2}, events.Discard)
	require.True(t, ops.IsCritical(err))

	r, err := ops.Reconcile(context.Background(), local, fakeRemote{}, ops.ReconcileOptions{MaxFiles: 2, AllowManyFiles: true}, events.Discard)
	require.NoError(t, err)
	require.Len(t, r.Upload, 3)
}

func TestRemoteComparerOperator(t *testing.T) {
	in := make(chan *ops.EntryInfo, 4)
	in <- &ops.EntryInfo{Name: "a", Hash: "1"}
	in <- &ops.EntryInfo{Name: "b", Hash: "2"}
	in <- &ops.EntryInfo{RelDir: "d", Name: "c", Hash: "3"}
	in <- &ops.EntryInfo{Name: "x", Action: ops.Failed}
	close(in)

	remote := fakeRemote{"a": {"1"}, "b": {"9"}}

	var got []ops.EntryStatus
	for info := range ops.NewRemoteComparer(context.Background(), in, remote) {
		if info.Action == ops.Failed {
			continue
		}
		got = append(got, info.Status)
	}
	require.Equal(t, []ops.EntryStatus{ops.StatusOk, ops.StatusModified, ops.StatusNew}, got)
}
