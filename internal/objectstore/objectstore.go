// Package objectstore wraps the bucket holding private originals and public
// derivatives. Keys are logical; each backend maps a namespace to its own
// bucket or directory.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Namespace string

const (
	Private Namespace = "private"
	Public  Namespace = "public"
)

// UploadDescriptor is what a client needs to PUT bytes directly to storage.
type UploadDescriptor struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store is implemented by S3 and Local. Errors wrap the models sentinels:
// ErrNotFound, ErrStorageAuth, ErrConfiguration and ErrTransientIO.
type Store interface {
	// PresignPut authorizes a direct upload of key into the private namespace.
	PresignPut(ctx context.Context, key, contentType string) (*UploadDescriptor, error)
	// Head returns the stored size of key.
	Head(ctx context.Context, ns Namespace, key string) (int64, error)
	Get(ctx context.Context, ns Namespace, key string) (*Object, error)
	Put(ctx context.Context, ns Namespace, key string, data []byte, contentType string) error
	// Delete is idempotent: deleting a missing key succeeds.
	Delete(ctx context.Context, ns Namespace, key string) error
}

// NewOriginalKey returns a collision-free key for an uploaded original,
// keeping the client's extension.
func NewOriginalKey(filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.New(), ext)
}

// NewDerivativeKey returns a fresh key for a derived asset of an image.
// Keys differ per processing run.
func NewDerivativeKey(imageID int64, kind string) string {
	return fmt.Sprintf("%d/%s_%s.jpg", imageID, kind, uuid.New())
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
