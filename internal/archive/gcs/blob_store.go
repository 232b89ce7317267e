// Package gcs archives pages in a Google Cloud Storage bucket.
//
// Archive keys are content addressed per day, so an object that already exists holds the same page
// fetched earlier that day. Uploads are conditional on the object not existing and a lost race is
// reported as success.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const defaultContentType = "text/html; charset=utf-8"

// Config selects the bucket and an optional key prefix inside it.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// BlobStore writes archived pages to one bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store. The caller owns client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive.gcs.bucket is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the bucket key for an archive path.
func (s *BlobStore) ObjectName(archivePath string) string {
	if s.prefix == "" {
		return archivePath
	}
	return path.Join(s.prefix, archivePath)
}

// PutObject uploads r unless the object already exists and returns its gs:// URI. An empty contentType
// means HTML.
func (s *BlobStore) PutObject(ctx context.Context, archivePath string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(archivePath) == "" {
		return "", fmt.Errorf("archive path is required")
	}
	name := s.ObjectName(archivePath)
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, name)

	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	if writer.ContentType == "" {
		writer.ContentType = defaultContentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	if err := writer.Close(); err != nil {
		if alreadyArchived(err) {
			return uri, nil
		}
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	return uri, nil
}

func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
