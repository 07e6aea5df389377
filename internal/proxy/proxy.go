// Package proxy serves processed media to authorized callers without ever
// exposing storage URLs.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/storage"
)

// RoutePrefix is the public path under which derivatives are served.
const RoutePrefix = "/media/"

const sniffLen = 3072

// MediaURL returns the proxy-relative URL for a derivative key.
func MediaURL(key string) string {
	if key == "" {
		return ""
	}
	return RoutePrefix + strings.TrimLeft(key, "/")
}

type Proxy struct {
	store   storage.Store
	objects objectstore.Store
	log     zerolog.Logger
}

func New(store storage.Store, objects objectstore.Store, log zerolog.Logger) *Proxy {
	return &Proxy{store: store, objects: objects, log: log.With().Str("component", "media-proxy").Logger()}
}

// Serve resolves path to an image derivative and returns its bytes when
// caller may see it. Missing images or galleries yield models.ErrNotFound,
// policy denials models.ErrForbidden. The caller must close the body.
func (p *Proxy) Serve(ctx context.Context, path string, caller models.Identity) (*objectstore.Object, error) {
	const op = "proxy.Serve"

	path = strings.TrimLeft(strings.TrimPrefix(path, RoutePrefix), "/")
	if path == "" || strings.Contains(path, "..") {
		return nil, fmt.Errorf("%s: %q: %w", op, path, models.ErrNotFound)
	}

	img, err := p.store.Images().FindByAssetPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var gallery *models.Gallery
	if img.GalleryID != nil {
		gallery, err = p.store.Galleries().Get(ctx, *img.GalleryID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if !Allowed(caller, img, gallery) {
		p.log.Debug().Int64("image_id", img.ID).Int64("user_id", caller.UserID).Msg("media access denied")
		return nil, fmt.Errorf("%s: image %d: %w", op, img.ID, models.ErrForbidden)
	}

	key := img.ThumbnailKey
	if strings.HasSuffix(img.ProcessedKey, path) {
		key = img.ProcessedKey
	}
	obj, err := p.objects.Get(ctx, objectstore.Public, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			p.log.Warn().Int64("image_id", img.ID).Str("key", key).Msg("derivative missing from storage")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if obj.ContentType == "" || obj.ContentType == "application/octet-stream" {
		sniff(obj)
	}
	return obj, nil
}

// Allowed evaluates the media access policy for one image. gallery is nil
// for images not attached to a gallery.
func Allowed(caller models.Identity, img *models.Image, gallery *models.Gallery) bool {
	if gallery == nil {
		return caller.Staff || (!caller.Anonymous() && caller.UserID == img.UploaderID)
	}
	if caller.Staff || (!caller.Anonymous() && caller.UserID == gallery.OwnerID) {
		return gallery.Status == models.GalleryReview || gallery.Status == models.GalleryPublished
	}
	if gallery.Status != models.GalleryPublished {
		return false
	}
	if gallery.Public {
		return true
	}
	return !caller.Anonymous() && caller.InAnyGroup(gallery.GroupIDs)
}

type sniffedBody struct {
	io.Reader
	io.Closer
}

func sniff(obj *objectstore.Object) {
	br := bufio.NewReaderSize(obj.Body, sniffLen)
	head, _ := br.Peek(sniffLen)
	obj.ContentType = mimetype.Detect(head).String()
	obj.Body = sniffedBody{Reader: br, Closer: obj.Body}
}
