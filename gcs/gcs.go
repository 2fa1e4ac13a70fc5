package gcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/storage/v1"
)

func New(ctx context.Context, log *slog.Logger, bucket string, opts ...option.ClientOption) (*Uploader, error) {
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create service: %w", err)
	}
	return &Uploader{
		log:    log,
		svc:    svc,
		bucket: bucket,
	}, nil
}

// Uploader archives files to a Cloud Storage bucket.
type Uploader struct {
	log    *slog.Logger
	svc    *storage.Service
	bucket string
}

// Upload writes data to the bucket, returning the gs:// URI of the object.
func (u *Uploader) Upload(ctx context.Context, name string, data []byte, contentType string) (uri string, err error) {
	obj := &storage.Object{
		Name:        name,
		ContentType: contentType,
	}
	_, err = u.svc.Objects.Insert(u.bucket, obj).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("gcs: failed to upload %s: %w", name, err)
	}
	uri = URI(u.bucket, name)
	u.log.Debug("uploaded object", slog.String("uri", uri), slog.Int("bytes", len(data)))
	return uri, nil
}

func URI(bucket, name string) string {
	return "gs://" + bucket + "/" + name
}

// ObjectName is the name an image posted to Slack is archived under.
func ObjectName(fileName string, now time.Time) string {
	return fmt.Sprintf("slack_%s_%s.png", fileName, now.Format("20060102150405"))
}
