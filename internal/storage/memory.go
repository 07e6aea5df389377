package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"photogallery/internal/models"
)

// Memory is an in-process Store with the same conditional-update semantics
// as the Postgres repositories. It backs development runs without a
// database and cross-component tests.
type Memory struct {
	mu         sync.Mutex
	nextID     int64
	images     map[int64]models.Image
	galleries  map[int64]models.Gallery
	watermarks map[int64]models.WatermarkConfig
}

func NewMemory() *Memory {
	return &Memory{
		images:     make(map[int64]models.Image),
		galleries:  make(map[int64]models.Gallery),
		watermarks: make(map[int64]models.WatermarkConfig),
	}
}

func (m *Memory) Images() Images       { return memImages{m} }
func (m *Memory) Galleries() Galleries { return memGalleries{m} }

// PutGallery inserts or replaces a gallery, assigning an id when zero.
func (m *Memory) PutGallery(g models.Gallery) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == 0 {
		g.ID = m.allocID()
	}
	if g.Status == "" {
		g.Status = models.GalleryDraft
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
		g.UpdatedAt = g.CreatedAt
	}
	m.galleries[g.ID] = g
	return g.ID
}

// PutWatermark inserts or replaces a watermark config, assigning an id when zero.
func (m *Memory) PutWatermark(w models.WatermarkConfig) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == 0 {
		w.ID = m.allocID()
	}
	m.watermarks[w.ID] = w
	return w.ID
}

// PutImage inserts or replaces an image row as-is, assigning an id when zero.
func (m *Memory) PutImage(img models.Image) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img.ID == 0 {
		img.ID = m.allocID()
	}
	m.images[img.ID] = img
	return img.ID
}

func (m *Memory) RemoveImage(_ context.Context, id int64) (*models.Image, error) {
	const op = "storage.RemoveImage"

	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	for gid, g := range m.galleries {
		if g.CoverImageID != nil && *g.CoverImageID == id {
			g.CoverImageID = nil
			m.galleries[gid] = g
		}
	}
	delete(m.images, id)
	return &img, nil
}

// allocID must be called with mu held.
func (m *Memory) allocID() int64 {
	m.nextID++
	for {
		_, a := m.images[m.nextID]
		_, b := m.galleries[m.nextID]
		_, c := m.watermarks[m.nextID]
		if !a && !b && !c {
			return m.nextID
		}
		m.nextID++
	}
}

type memImages struct{ m *Memory }

func (r memImages) Create(_ context.Context, img *models.Image) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if img.Status == "" {
		img.Status = models.ImageUploadPending
	}
	img.ID = r.m.allocID()
	img.CreatedAt = time.Now()
	r.m.images[img.ID] = *img
	return nil
}

func (r memImages) Get(_ context.Context, id int64) (*models.Image, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	img, ok := r.m.images[id]
	if !ok {
		return nil, fmt.Errorf("storage.Images.Get: image %d: %w", id, models.ErrNotFound)
	}
	return &img, nil
}

func (r memImages) update(op string, id int64, from []models.ImageStatus, fn func(*models.Image)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	img, ok := r.m.images[id]
	if !ok {
		return fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	if !slices.Contains(from, img.Status) {
		return fmt.Errorf("%s: image %d: %w", op, id, models.ErrInvalidState)
	}
	fn(&img)
	r.m.images[id] = img
	return nil
}

func (r memImages) Transition(_ context.Context, id int64, from []models.ImageStatus, to models.ImageStatus) error {
	return r.update("storage.Images.Transition", id, from, func(img *models.Image) {
		img.Status = to
	})
}

func (r memImages) BeginProcessing(_ context.Context, id int64) (string, string, error) {
	var processedKey, thumbnailKey string
	err := r.update("storage.Images.BeginProcessing", id, reprocessableStatuses, func(img *models.Image) {
		processedKey, thumbnailKey = img.ProcessedKey, img.ThumbnailKey
		img.Status = models.ImageProcessing
		img.ProcessedKey = ""
		img.ThumbnailKey = ""
	})
	if err != nil {
		return "", "", err
	}
	return processedKey, thumbnailKey, nil
}

func (r memImages) ReplaceOriginal(_ context.Context, id int64, oldKey, newKey string) error {
	const op = "storage.Images.ReplaceOriginal"

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	img, ok := r.m.images[id]
	if !ok {
		return fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	if img.OriginalKey != oldKey || !slices.Contains(models.RotatableImageStatuses, img.Status) {
		return fmt.Errorf("%s: image %d: %w", op, id, models.ErrInvalidState)
	}
	img.OriginalKey = newKey
	r.m.images[id] = img
	return nil
}

func (r memImages) Complete(_ context.Context, id int64, processedKey, thumbnailKey string) error {
	const op = "storage.Images.Complete"
	if processedKey == "" || thumbnailKey == "" {
		return fmt.Errorf("%s: both derivative keys are required: %w", op, models.ErrInvalidInput)
	}
	return r.update(op, id, []models.ImageStatus{models.ImageProcessing}, func(img *models.Image) {
		img.Status = models.ImageProcessed
		img.ProcessedKey = processedKey
		img.ThumbnailKey = thumbnailKey
	})
}

func (r memImages) FindByAssetPath(_ context.Context, path string) (*models.Image, error) {
	const op = "storage.Images.FindByAssetPath"

	path = strings.TrimLeft(path, "/")
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var found []models.Image
	if path != "" {
		for _, img := range r.m.images {
			if (img.ProcessedKey != "" && strings.HasSuffix(img.ProcessedKey, path)) ||
				(img.ThumbnailKey != "" && strings.HasSuffix(img.ThumbnailKey, path)) {
				found = append(found, img)
			}
		}
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%s: %d matches: %w", op, len(found), models.ErrNotFound)
	}
	return &found[0], nil
}

func (r memImages) CountPending(_ context.Context, galleryID int64) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.countPending(galleryID), nil
}

func (r memImages) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.images[id]; !ok {
		return fmt.Errorf("storage.Images.Delete: image %d: %w", id, models.ErrNotFound)
	}
	delete(r.m.images, id)
	return nil
}

// countPending must be called with mu held.
func (m *Memory) countPending(galleryID int64) int {
	n := 0
	for _, img := range m.images {
		if img.GalleryID != nil && *img.GalleryID == galleryID &&
			slices.Contains(models.PendingImageStatuses, img.Status) {
			n++
		}
	}
	return n
}

type memGalleries struct{ m *Memory }

func (r memGalleries) Get(_ context.Context, id int64) (*models.Gallery, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.galleries[id]
	if !ok {
		return nil, fmt.Errorf("storage.Galleries.Get: gallery %d: %w", id, models.ErrNotFound)
	}
	g.GroupIDs = slices.Clone(g.GroupIDs)
	return &g, nil
}

func (r memGalleries) GetBySlug(_ context.Context, slug string) (*models.Gallery, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, g := range r.m.galleries {
		if g.Slug == slug {
			g.GroupIDs = slices.Clone(g.GroupIDs)
			return &g, nil
		}
	}
	return nil, fmt.Errorf("storage.Galleries.GetBySlug: gallery %q: %w", slug, models.ErrNotFound)
}

func (r memGalleries) Watermark(_ context.Context, id int64) (*models.WatermarkConfig, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	w, ok := r.m.watermarks[id]
	if !ok {
		return nil, fmt.Errorf("storage.Galleries.Watermark: watermark %d: %w", id, models.ErrNotFound)
	}
	return &w, nil
}

func (r memGalleries) update(op string, id int64, from []models.GalleryStatus, fn func(*models.Gallery)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.galleries[id]
	if !ok {
		return fmt.Errorf("%s: gallery %d: %w", op, id, models.ErrNotFound)
	}
	if !slices.Contains(from, g.Status) {
		return fmt.Errorf("%s: gallery %d: %w", op, id, models.ErrInvalidState)
	}
	fn(&g)
	g.UpdatedAt = time.Now()
	r.m.galleries[id] = g
	return nil
}

func (r memGalleries) MarkProcessing(_ context.Context, id int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.galleries[id]
	if !ok || g.Status != models.GalleryDraft {
		return false, nil
	}
	g.Status = models.GalleryProcessing
	g.UpdatedAt = time.Now()
	r.m.galleries[id] = g
	return true, nil
}

func (r memGalleries) AdvanceToReview(_ context.Context, id int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.galleries[id]
	if !ok || !slices.Contains(reviewableStatuses, g.Status) || r.m.countPending(id) > 0 {
		return false, nil
	}
	g.Status = models.GalleryReview
	g.UpdatedAt = time.Now()
	r.m.galleries[id] = g
	return true, nil
}

func (r memGalleries) Publish(_ context.Context, id int64, at time.Time) error {
	return r.update("storage.Galleries.Publish", id, []models.GalleryStatus{models.GalleryReview}, func(g *models.Gallery) {
		g.Status = models.GalleryPublished
		if g.PublishedAt == nil {
			g.PublishedAt = &at
		}
	})
}

func (r memGalleries) Archive(_ context.Context, id int64) error {
	return r.update("storage.Galleries.Archive", id, archivableStatuses, func(g *models.Gallery) {
		g.Status = models.GalleryArchived
	})
}

func (r memGalleries) SetCover(_ context.Context, galleryID, imageID int64) error {
	const op = "storage.Galleries.SetCover"

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.galleries[galleryID]
	if !ok {
		return fmt.Errorf("%s: gallery %d: %w", op, galleryID, models.ErrNotFound)
	}
	img, ok := r.m.images[imageID]
	if !ok || img.GalleryID == nil || *img.GalleryID != galleryID || img.Status != models.ImageProcessed {
		return fmt.Errorf("%s: gallery %d: %w", op, galleryID, models.ErrInvalidState)
	}
	g.CoverImageID = &imageID
	r.m.galleries[galleryID] = g
	return nil
}

func (r memGalleries) ClearCover(_ context.Context, imageID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for gid, g := range r.m.galleries {
		if g.CoverImageID != nil && *g.CoverImageID == imageID {
			g.CoverImageID = nil
			r.m.galleries[gid] = g
		}
	}
	return nil
}
