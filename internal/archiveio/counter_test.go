package archiveio_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/dsarchive/internal/archiveio"
)

func TestWriteCounterIsZeroWhenCreated(t *testing.T) {
	wc := archiveio.NewWriteCounter(new(bytes.Buffer))

	require.Equal(t, 0, wc.TotalWrites())
	require.Equal(t, int64(0), wc.TotalBytes())
}

func TestWrittenDataMatches(t *testing.T) {
	wbuffer := bytes.NewBuffer(nil)
	wc := archiveio.NewWriteCounter(wbuffer)

	var dsize int64 = 1024
	data := make([]byte, dsize)
	_, err := rand.Read(data)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		size, err := wc.Write(data)
		require.NoError(t, err)
		require.Equal(t, dsize, int64(size))
	}

	require.Equal(t, 5, wc.TotalWrites())
	require.Equal(t, 5*dsize, wc.TotalBytes())
	require.Equal(t, data, wbuffer.Bytes()[:dsize])
}

func TestReadCounterCountsEveryRead(t *testing.T) {
	var dsize int64 = 1024

	srcData := make([]byte, dsize*5)
	_, err := rand.Read(srcData)
	require.NoError(t, err)

	rc := archiveio.NewReadCounter(bytes.NewReader(srcData))

	dstData := make([]byte, dsize)
	for i := 0; i < 5; i++ {
		size, err := rc.Read(dstData)
		require.NoError(t, err)
		require.Equal(t, dsize, int64(size))
		require.Equal(t, srcData[int64(i)*dsize:int64(i+1)*dsize], dstData)
	}

	require.Equal(t, 5, rc.TotalReads())
	require.Equal(t, 5*dsize, rc.TotalBytes())
}

func TestReadCounterTotalsFromAnotherGoroutine(t *testing.T) {
	src := bytes.NewReader(make([]byte, 1<<20))
	rc := archiveio.NewReadCounter(src)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for rc.TotalBytes() < 1<<20 {
		}
	}()

	n, err := io.Copy(io.Discard, rc)
	require.NoError(t, err)
	wg.Wait()

	require.Equal(t, int64(1<<20), n)
	require.Equal(t, n, rc.TotalBytes())
}
