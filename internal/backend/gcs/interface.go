package gcs

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// bucketHandle abstracts a GCS bucket handle for testability.
type bucketHandle interface {
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error
	Objects(ctx context.Context, q *storage.Query) objectIterator
	Object(name string) objectHandle
}

// objectIterator abstracts a GCS object iterator.
type objectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// objectHandle abstracts a GCS object handle.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Delete(ctx context.Context) error
}

// realBucketHandle wraps *storage.BucketHandle to satisfy bucketHandle.
type realBucketHandle struct{ bh *storage.BucketHandle }

func (r *realBucketHandle) Attrs(ctx context.Context) (*storage.BucketAttrs, error) {
	return r.bh.Attrs(ctx)
}

func (r *realBucketHandle) Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error {
	return r.bh.Create(ctx, projectID, attrs)
}

func (r *realBucketHandle) Objects(ctx context.Context, q *storage.Query) objectIterator {
	return r.bh.Objects(ctx, q)
}

func (r *realBucketHandle) Object(name string) objectHandle {
	return &realObjectHandle{oh: r.bh.Object(name)}
}

// realObjectHandle wraps *storage.ObjectHandle so NewReader satisfies
// objectHandle's io.ReadCloser return type.
type realObjectHandle struct{ oh *storage.ObjectHandle }

func (r *realObjectHandle) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return r.oh.NewReader(ctx)
}

func (r *realObjectHandle) Delete(ctx context.Context) error {
	return r.oh.Delete(ctx)
}
