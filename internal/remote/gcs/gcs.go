// Package gcs reads attachment bytes straight from the Cloud Storage bucket
// the server stores them in, bypassing the API for image downloads.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"bookkeep/internal/remote"
)

var ErrNotFound = errors.New("attachment object not found")

var _ remote.AttachmentFetcher = (*Fetcher)(nil)

type Fetcher struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a fetcher for objects under prefix in bucket. Without options
// the client uses Application Default Credentials.
func New(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*Fetcher, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("missing bucket name")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Fetcher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (f *Fetcher) FetchAttachment(ctx context.Context, name string) (io.ReadCloser, error) {
	obj := f.client.Bucket(f.bucket).Object(objectName(f.prefix, name))
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	return r, nil
}

func (f *Fetcher) Close() error {
	return f.client.Close()
}

func objectName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
