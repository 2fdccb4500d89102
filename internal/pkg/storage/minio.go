package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options is minio connection config
type Options struct {
	URL    string
	User   string
	Key    string
	Bucket string
	Secure bool
}

// Filer loads, saves and drops objects in one minio bucket
type Filer struct {
	client *minio.Client
	core   *minio.Core
	bucket string
}

// NewFiler creates a minio filer and makes sure the bucket exists
func NewFiler(ctx context.Context, opts Options) (*Filer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("no url")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("no bucket")
	}
	mOpts := &minio.Options{Creds: credentials.NewStaticV4(opts.User, opts.Key, ""), Secure: opts.Secure}
	client, err := minio.New(opts.URL, mOpts)
	if err != nil {
		return nil, fmt.Errorf("can't init minio client: %w", err)
	}
	core, err := minio.NewCore(opts.URL, mOpts)
	if err != nil {
		return nil, fmt.Errorf("can't init minio core: %w", err)
	}
	res := &Filer{client: client, core: core, bucket: opts.Bucket}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("can't check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("can't create bucket: %w", err)
		}
		goapp.Log.Info().Str("bucket", opts.Bucket).Msg("Created bucket")
	}
	return res, nil
}

// SaveFile streams r into the object name
func (f *Filer) SaveFile(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := f.client.PutObject(ctx, f.bucket, name, r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("can't save %s: %w", name, err)
	}
	return nil
}

// LoadFile opens the object for reading
func (f *Filer) LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	obj, err := f.client.GetObject(ctx, f.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("can't load %s: %w", name, err)
	}
	// GetObject is lazy, surface missing objects here
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("can't load %s: %w", name, err)
	}
	return obj, nil
}

// DeleteFile drops the object, missing objects are not an error
func (f *Filer) DeleteFile(ctx context.Context, name string) error {
	if err := f.client.RemoveObject(ctx, f.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("can't delete %s: %w", name, err)
	}
	return nil
}

// AbortMultipart cancels an unfinished multipart upload so its parts
// stop taking space
func (f *Filer) AbortMultipart(ctx context.Context, name, uploadID string) error {
	if err := f.core.AbortMultipartUpload(ctx, f.bucket, name, uploadID); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("can't abort upload %s: %w", name, err)
	}
	return nil
}

// IsNotFound tests minio not found response
func IsNotFound(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}
