package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const noCache = "no-cache, no-store, must-revalidate"

// Uploader writes a blob to an addressable location and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, path string, content []byte, contentType string, bustCache bool) (string, error)
}

// GCSUploader stores artifacts in a Google Cloud Storage bucket.
type GCSUploader struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCSUploader creates a bucket uploader. An empty credentialsFile uses
// application default credentials. baseURL is the CDN origin serving the
// bucket; when empty, storage.googleapis.com URLs are returned.
func NewGCSUploader(ctx context.Context, bucket, credentialsFile, baseURL string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSUploader{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, path string, content []byte, contentType string, bustCache bool) (string, error) {
	w := u.client.Bucket(u.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if bustCache {
		w.CacheControl = noCache
	}

	if _, err := w.Write(content); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", path, err)
	}
	return u.baseURL + "/" + path, nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// FileUploader writes artifacts below a local directory. Used for development
// and by tests.
type FileUploader struct {
	dir     string
	baseURL string
}

func NewFileUploader(dir, baseURL string) *FileUploader {
	return &FileUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes to a temp file and renames it so readers never see a partial
// document. contentType and bustCache have no effect on local files.
func (u *FileUploader) Upload(ctx context.Context, path string, content []byte, contentType string, bustCache bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(u.dir, filepath.FromSlash(path))
	if rel, err := filepath.Rel(u.dir, target); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes upload directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	if u.baseURL == "" {
		return "file://" + filepath.ToSlash(target), nil
	}
	return u.baseURL + "/" + path, nil
}
