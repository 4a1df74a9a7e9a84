// Package staging stores a finished upload container somewhere other than
// the ingest service: a local directory for inspection, or an S3 bucket
// from which it is ingested later.
package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/studio1767/dsarchive/internal/archiveio"
)

// Sink receives a container of the given size and returns how many bytes
// it stored.
type Sink interface {
	Write(ctx context.Context, name string, size int64, body io.Reader) (int64, error)
	Location(name string) string
}

type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &LocalSink{dir: dir}, nil
}

func (ls *LocalSink) Location(name string) string {
	return filepath.Join(ls.dir, name)
}

func (ls *LocalSink) Write(ctx context.Context, name string, size int64, body io.Reader) (int64, error) {
	fpath := ls.Location(name)

	// write to a temporary name so a failed run leaves no complete looking file
	tmp := fpath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != size {
		err = fmt.Errorf("container size mismatch: expected %d, received %d", size, n)
	}
	if err != nil {
		os.Remove(tmp)
		return n, err
	}

	return n, os.Rename(tmp, fpath)
}

type S3Sink struct {
	client     *s3.Client
	bucket     string
	prefix     string
	recipients []age.Recipient
}

// NewS3Client creates a client from the named shared config profile.
func NewS3Client(ctx context.Context, profile string) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// NewS3Sink stores containers under prefix in bucket. When recipients are
// given the container is age encrypted on the way up.
func NewS3Sink(client *s3.Client, bucket, prefix string, recipients []age.Recipient) *S3Sink {
	return &S3Sink{
		client:     client,
		bucket:     bucket,
		prefix:     prefix,
		recipients: recipients,
	}
}

// LoadRecipients reads an age recipients file.
func LoadRecipients(path string) ([]age.Recipient, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return age.ParseRecipients(f)
}

func (ss *S3Sink) key(name string) string {
	if len(ss.recipients) > 0 {
		name += ".age"
	}
	return ss.prefix + name
}

func (ss *S3Sink) Location(name string) string {
	return fmt.Sprintf("s3://%s/%s", ss.bucket, ss.key(name))
}

func (ss *S3Sink) Write(ctx context.Context, name string, size int64, body io.Reader) (int64, error) {
	mdata := map[string]string{
		"dsarchive-size": fmt.Sprintf("%d", size),
	}

	// count what the producer hands over before any encryption
	source := archiveio.NewReadCounter(body)
	var upload io.Reader = source

	if len(ss.recipients) > 0 {
		mdata["dsarchive-encrypt"] = "age"

		reader, writer := io.Pipe()
		defer reader.Close()

		go func() {
			ewriter, err := age.Encrypt(writer, ss.recipients...)
			if err != nil {
				writer.CloseWithError(err)
				return
			}

			_, err = io.Copy(ewriter, source)

			ewriter.Close()
			if err != nil {
				writer.CloseWithError(err)
			} else {
				writer.Close()
			}
		}()

		upload = reader
	}

	// the encrypted length is not known in advance so use an Uploader
	uploader := manager.NewUploader(ss.client)

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(ss.bucket),
		Key:      aws.String(ss.key(name)),
		Body:     upload,
		Metadata: mdata,
	})
	if err != nil {
		return source.TotalBytes(), err
	}
	if source.TotalBytes() != size {
		return source.TotalBytes(), fmt.Errorf("container size mismatch: expected %d, sent %d", size, source.TotalBytes())
	}

	return source.TotalBytes(), nil
}
