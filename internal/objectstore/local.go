package objectstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"photogallery/internal/metrics"
	"photogallery/internal/models"
)

// LocalUploadRoute is where the HTTP server accepts PUTs for local uploads.
const LocalUploadRoute = "/storage/uploads"

// Local keeps objects on the filesystem, one sub-directory per namespace.
// Upload URLs point back at the service and carry an HMAC over key and expiry.
type Local struct {
	basePath string
	baseURL  string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewLocal(cfg models.StorageConfig, secret string, log zerolog.Logger) (*Local, error) {
	const op = "objectstore.NewLocal"

	logger := log.With().Str("component", "local-storage").Logger()
	basePath := strings.TrimSpace(cfg.LocalPath)
	if basePath == "" {
		return nil, fmt.Errorf("%s: local path is empty: %w", op, models.ErrConfiguration)
	}
	for _, ns := range []Namespace{Private, Public} {
		if err := os.MkdirAll(filepath.Join(basePath, string(ns)), 0o755); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	logger.Info().Str("path", basePath).Msg("local storage initialized")
	return &Local{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(strings.TrimSpace(cfg.LocalBaseURL), "/"),
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		log:      logger,
	}, nil
}

func (l *Local) pathFor(ns Namespace, key string) (string, error) {
	if ns != Private && ns != Public {
		return "", fmt.Errorf("unknown namespace %q: %w", ns, models.ErrConfiguration)
	}
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) || strings.Contains(key, "..") {
		return "", fmt.Errorf("bad key %q: %w", key, models.ErrInvalidInput)
	}
	return filepath.Join(l.basePath, string(ns), clean), nil
}

func (l *Local) observe(operation string, start time.Time, err error) {
	metrics.RecordStorageOperation("local", operation, err, time.Since(start).Seconds())
}

func (l *Local) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Local) PresignPut(_ context.Context, key, contentType string) (*UploadDescriptor, error) {
	const op = "objectstore.Local.PresignPut"

	if _, err := l.pathFor(Private, key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	expiresAt := l.now().Add(l.ttl)
	q := url.Values{}
	q.Set("key", key)
	q.Set("expires", strconv.FormatInt(expiresAt.Unix(), 10))
	q.Set("sig", l.sign(key, expiresAt.Unix()))

	headers := make(map[string]string)
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return &UploadDescriptor{
		Method:    "PUT",
		URL:       l.baseURL + LocalUploadRoute + "?" + q.Encode(),
		Headers:   headers,
		Key:       key,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyUpload checks a signature produced by PresignPut.
func (l *Local) VerifyUpload(key, expires, sig string) error {
	const op = "objectstore.Local.VerifyUpload"

	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", op, models.ErrStorageAuth)
	}
	if l.now().Unix() > exp {
		return fmt.Errorf("%s: expired: %w", op, models.ErrStorageAuth)
	}
	if !hmac.Equal([]byte(l.sign(key, exp)), []byte(sig)) {
		return fmt.Errorf("%s: bad signature: %w", op, models.ErrStorageAuth)
	}
	return nil
}

// Receive stores an upload that passed VerifyUpload.
func (l *Local) Receive(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("objectstore.Local.Receive: %w: %w", models.ErrTransientIO, err)
	}
	return l.Put(ctx, Private, key, data, "")
}

func (l *Local) Head(_ context.Context, ns Namespace, key string) (size int64, err error) {
	const op = "objectstore.Local.Head"
	defer func(start time.Time) { l.observe("head", start, err) }(time.Now())

	p, err := l.pathFor(ns, key)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, l.classify(op, err)
	}
	return info.Size(), nil
}

func (l *Local) Get(_ context.Context, ns Namespace, key string) (obj *Object, err error) {
	const op = "objectstore.Local.Get"
	defer func(start time.Time) { l.observe("get", start, err) }(time.Now())

	p, err := l.pathFor(ns, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, l.classify(op, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, l.classify(op, err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, l.classify(op, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, l.classify(op, err)
	}
	return &Object{Body: f, ContentType: mt.String(), Size: info.Size()}, nil
}

func (l *Local) Put(_ context.Context, ns Namespace, key string, data []byte, _ string) (err error) {
	const op = "objectstore.Local.Put"
	defer func(start time.Time) { l.observe("put", start, err) }(time.Now())

	p, err := l.pathFor(ns, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return l.classify(op, err)
	}
	// Write then rename so readers never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return l.classify(op, err)
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return l.classify(op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return l.classify(op, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return l.classify(op, err)
	}
	l.log.Debug().Str("key", key).Str("namespace", string(ns)).Int("bytes", len(data)).Msg("object stored")
	return nil
}

func (l *Local) Delete(_ context.Context, ns Namespace, key string) (err error) {
	const op = "objectstore.Local.Delete"
	defer func(start time.Time) { l.observe("delete", start, err) }(time.Now())

	p, err := l.pathFor(ns, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return l.classify(op, err)
	}
	return nil
}

func (l *Local) classify(op string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w: %w", op, models.ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s: %w: %w", op, models.ErrStorageAuth, err)
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrTransientIO, err)
}
