package staging_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"filippo.io/age"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/studio1767/dsarchive/internal/staging"
)

func TestLocalSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stage")
	sink, err := staging.NewLocalSink(dir)
	require.NoError(t, err)

	n, err := sink.Write(context.Background(), "upload.tar", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	data, err := os.ReadFile(sink.Location("upload.tar"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestLocalSinkSizeMismatch(t *testing.T) {
	sink, err := staging.NewLocalSink(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Write(context.Background(), "upload.tar", 10, strings.NewReader("hello"))
	require.Error(t, err)

	_, err = os.Stat(sink.Location("upload.tar"))
	require.True(t, os.IsNotExist(err))
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3(t *testing.T) (*s3.Client, *fakeBucket) {
	t.Helper()
	fb := &fakeBucket{objects: make(map[string][]byte)}

	router := mux.NewRouter()
	router.HandleFunc("/{bucket}/{key:.+}", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		vars := mux.Vars(r)
		fb.mu.Lock()
		fb.objects[vars["bucket"]+"/"+vars["key"]] = data
		fb.mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
	}).Methods("PUT")

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
		}),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	})
	return client, fb
}

func TestS3SinkEncrypts(t *testing.T) {
	client, fb := newFakeS3(t)

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	sink := staging.NewS3Sink(client, "archive-staging", "pending/", []age.Recipient{identity.Recipient()})
	require.Equal(t, "s3://archive-staging/pending/upload.tar.age", sink.Location("upload.tar"))

	payload := bytes.Repeat([]byte("t"), 4096)
	n, err := sink.Write(context.Background(), "upload.tar", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)

	stored, ok := fb.objects["archive-staging/pending/upload.tar.age"]
	require.True(t, ok)

	rd, err := age.Decrypt(bytes.NewReader(stored), identity)
	require.NoError(t, err)
	plain, err := io.ReadAll(rd)
	require.NoError(t, err)
	require.Equal(t, payload, plain)
}
