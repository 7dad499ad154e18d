package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yairfalse/instantiate/internal/credentials"
)

// Buckets is the subset of Cloud Storage the adapter uses.
type Buckets interface {
	Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error
	Write(ctx context.Context, bucket, object, contentType string, data []byte) error
	List(ctx context.Context, projectID string) ([]*storage.BucketAttrs, error)
	Attrs(ctx context.Context, bucket string) (*storage.BucketAttrs, error)
	Delete(ctx context.Context, bucket string) error
	Close() error
}

// gcsBuckets implements Buckets with the Cloud Storage client.
type gcsBuckets struct {
	client *storage.Client
}

func newGCSBuckets(ctx context.Context, c *credentials.Credentials) (Buckets, error) {
	var opts []option.ClientOption
	if c.KeyFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.KeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &gcsBuckets{client: client}, nil
}

func (g *gcsBuckets) Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error {
	if err := g.client.Bucket(attrs.Name).Create(ctx, projectID, attrs); err != nil {
		return fmt.Errorf("create bucket %s: %w", attrs.Name, err)
	}
	return nil
}

func (g *gcsBuckets) Write(ctx context.Context, bucket, object, contentType string, data []byte) error {
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

func (g *gcsBuckets) List(ctx context.Context, projectID string) ([]*storage.BucketAttrs, error) {
	var out []*storage.BucketAttrs
	it := g.client.Buckets(ctx, projectID)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		out = append(out, attrs)
	}
	return out, nil
}

func (g *gcsBuckets) Attrs(ctx context.Context, bucket string) (*storage.BucketAttrs, error) {
	attrs, err := g.client.Bucket(bucket).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("bucket attrs %s: %w", bucket, err)
	}
	return attrs, nil
}

// Delete removes every object and then the bucket itself.
func (g *gcsBuckets) Delete(ctx context.Context, bucket string) error {
	bkt := g.client.Bucket(bucket)
	it := bkt.Objects(ctx, nil)
	for {
		obj, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list objects in %s: %w", bucket, err)
		}
		if err := bkt.Object(obj.Name).Delete(ctx); err != nil {
			return fmt.Errorf("delete gs://%s/%s: %w", bucket, obj.Name, err)
		}
	}
	if err := bkt.Delete(ctx); err != nil {
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return nil
}

func (g *gcsBuckets) Close() error {
	return g.client.Close()
}
