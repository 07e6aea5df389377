// Package pipeline turns an uploaded original into its public thumbnail and
// watermarked viewing image. One Runner serves every queue worker; each call
// is scoped to a single image and shares no state with other calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"photogallery/internal/codec"
	"photogallery/internal/metrics"
	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/proxy"
	"photogallery/internal/publisher"
	"photogallery/internal/queue"
	"photogallery/internal/storage"
)

const (
	progressStarted    = 10
	progressDecoded    = 40
	progressComposited = 80
	progressDone       = 100

	KindThumbnail = "thumb"
	KindView      = "view"

	rotateQuality = 95
)

type ProgressPublisher interface {
	PublishImageProgress(ctx context.Context, event models.ProgressEvent)
}

type Reconciler interface {
	Reconcile(ctx context.Context, galleryID int64) (bool, error)
}

type Runner struct {
	store      storage.Store
	objects    objectstore.Store
	events     ProgressPublisher
	reconciler Reconciler
	cfg        models.ProcessingConfig
	log        zerolog.Logger
}

func New(store storage.Store, objects objectstore.Store, events ProgressPublisher, reconciler Reconciler,
	cfg models.ProcessingConfig, log zerolog.Logger) *Runner {
	return &Runner{
		store:      store,
		objects:    objects,
		events:     events,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// job is the read-only snapshot one run works from.
type job struct {
	task      models.ProcessTask
	image     *models.Image
	gallery   *models.Gallery
	watermark *models.WatermarkConfig
	topic     string
	started   bool
}

type derivatives struct {
	processed string
	thumbnail string
}

// Process is the queue handler. It applies a requested rotation, runs one
// attempt and, once the task has settled (success, a permanent error or the
// last attempt), lets the aggregator reconcile the owning gallery. A vanished
// image, or one no longer in a processable state, is dropped.
func (r *Runner) Process(ctx context.Context, task models.ProcessTask) error {
	start := time.Now()
	if task.Rotate != 0 {
		if err := r.rotateOriginal(ctx, task); err != nil {
			return r.finish(ctx, nil, err, r.final(task, err), start)
		}
	}
	j, err := r.run(ctx, task)
	return r.finish(ctx, j, err, r.final(task, err), start)
}

// Run executes the pipeline once for task without reconciling the gallery.
func (r *Runner) Run(ctx context.Context, task models.ProcessTask) error {
	_, err := r.run(ctx, task)
	return err
}

func (r *Runner) final(task models.ProcessTask, err error) bool {
	return err == nil || !queue.Retryable(err) || task.Attempt >= r.cfg.MaxAttempts
}

// rotateOriginal turns the stored original clockwise and swaps it in under a
// fresh key. When the image no longer points at the task's source key the
// rotation has already been applied and only the reprocessing remains.
func (r *Runner) rotateOriginal(ctx context.Context, task models.ProcessTask) error {
	const op = "pipeline.rotateOriginal"

	if task.Rotate%90 != 0 {
		return fmt.Errorf("%s: %d degrees: %w", op, task.Rotate, models.ErrInvalidInput)
	}
	img, err := r.store.Images().Get(ctx, task.ImageID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storeErr(err))
	}
	log := r.log.With().Int64("image_id", img.ID).Int("degrees", task.Rotate).Logger()
	if img.OriginalKey != task.SourceKey {
		log.Info().Msg("rotation already applied")
		return nil
	}
	if !slices.Contains(models.RotatableImageStatuses, img.Status) {
		return fmt.Errorf("%s: image %d is %s: %w", op, img.ID, img.Status, models.ErrInvalidState)
	}

	bmp, err := r.fetchOriginal(ctx, img.OriginalKey)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rotated, err := codec.Rotate(codec.NormalizeOrientation(bmp), task.Rotate)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	data, err := codec.Encode(rotated, rotateQuality)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	name := strings.TrimSuffix(img.OriginalFilename, path.Ext(img.OriginalFilename)) + ".jpg"
	key := objectstore.NewOriginalKey(name, time.Now())
	if err := r.objects.Put(ctx, objectstore.Private, key, data, "image/jpeg"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.store.Images().ReplaceOriginal(ctx, img.ID, task.SourceKey, key); err != nil {
		r.deleteObject(ctx, objectstore.Private, key)
		return fmt.Errorf("%s: %w", op, storeErr(err))
	}
	r.deleteObject(ctx, objectstore.Private, task.SourceKey)
	log.Info().Str("original_key", key).Msg("original rotated")
	return nil
}

func (r *Runner) finish(ctx context.Context, j *job, err error, final bool, start time.Time) error {
	elapsed := time.Since(start).Seconds()
	started := j != nil && j.started
	switch {
	case err == nil:
		metrics.RecordPipelineRun("processed", elapsed)
	case !started && (errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidState)):
		r.log.Warn().Err(err).Msg("image vanished or not processable, dropping task")
		metrics.RecordPipelineRun("skipped", elapsed)
		return nil
	case !final:
		metrics.RecordPipelineRun("retry", elapsed)
		return err
	default:
		metrics.RecordPipelineRun("error", elapsed)
	}

	if j != nil && j.image.GalleryID != nil {
		if _, rerr := r.reconciler.Reconcile(ctx, *j.image.GalleryID); rerr != nil {
			r.log.Error().Err(rerr).Int64("gallery_id", *j.image.GalleryID).Msg("reconcile gallery")
		}
	}
	return err
}

func (r *Runner) run(ctx context.Context, task models.ProcessTask) (*job, error) {
	const op = "pipeline.Run"

	j, err := r.load(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storeErr(err))
	}
	log := r.log.With().Int64("image_id", j.image.ID).Int("attempt", task.Attempt).Logger()

	processedKey, thumbnailKey, err := r.store.Images().BeginProcessing(ctx, j.image.ID)
	if err != nil {
		return j, fmt.Errorf("%s: %w", op, storeErr(err))
	}
	j.started = true
	log.Info().Msg("processing started")
	// The row no longer references the cleared derivatives.
	r.deleteDerivatives(ctx, derivatives{processed: processedKey, thumbnail: thumbnailKey})
	r.progress(ctx, j, progressStarted, models.ImageProcessing, derivatives{})

	out, err := r.process(ctx, j)
	if err != nil {
		log.Error().Err(err).Msg("processing failed")
		r.fail(ctx, j)
		return j, fmt.Errorf("%s: image %d: %w", op, j.image.ID, err)
	}

	log.Info().Str("processed_key", out.processed).Str("thumbnail_key", out.thumbnail).Msg("processing finished")
	r.progress(ctx, j, progressDone, models.ImageProcessed, out)
	return j, nil
}

// storeErr marks record store failures other than a missing row or a refused
// transition as retryable.
func storeErr(err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrTransientIO):
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrTransientIO, err)
}

func (r *Runner) load(ctx context.Context, task models.ProcessTask) (*job, error) {
	img, err := r.store.Images().Get(ctx, task.ImageID)
	if err != nil {
		return nil, err
	}
	j := &job{task: task, image: img}

	if img.GalleryID != nil {
		g, err := r.store.Galleries().Get(ctx, *img.GalleryID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			r.log.Warn().Int64("image_id", img.ID).Int64("gallery_id", *img.GalleryID).Msg("owning gallery is gone")
		case err != nil:
			return nil, err
		default:
			j.gallery = g
		}
	}
	if j.gallery != nil && j.gallery.WatermarkConfigID != nil {
		wm, err := r.store.Galleries().Watermark(ctx, *j.gallery.WatermarkConfigID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			r.log.Warn().Int64("gallery_id", j.gallery.ID).Msg("watermark config is gone, skipping watermark")
		case err != nil:
			return nil, err
		default:
			j.watermark = wm
		}
	}
	j.topic = publisher.TopicFor(j.gallery, img.UploaderID)
	return j, nil
}

// process covers fetch through commit. On failure nothing written by this
// run is left behind.
func (r *Runner) process(ctx context.Context, j *job) (derivatives, error) {
	bmp, err := r.fetchOriginal(ctx, j.image.OriginalKey)
	if err != nil {
		return derivatives{}, err
	}
	bmp = codec.NormalizeOrientation(bmp)
	thumb := codec.Thumbnail(bmp, r.cfg.ThumbWidth, r.cfg.ThumbHeight)
	view := codec.Thumbnail(bmp, r.cfg.ViewWidth, r.cfg.ViewHeight)
	r.progress(ctx, j, progressDecoded, models.ImageProcessing, derivatives{})

	if j.watermark != nil {
		overlay, ok, err := r.loadOverlay(ctx, j.watermark)
		if err != nil {
			return derivatives{}, err
		}
		if ok {
			opts := codec.WatermarkOptions{Scale: r.cfg.WatermarkScale, Margin: codec.DefaultMargin}
			view = codec.ApplyWatermarkWith(view, overlay, j.watermark.Position, j.watermark.Opacity, opts)
		}
	}
	r.progress(ctx, j, progressComposited, models.ImageProcessing, derivatives{})

	thumbData, err := codec.Encode(thumb, r.cfg.JPEGQuality)
	if err != nil {
		return derivatives{}, err
	}
	viewData, err := codec.Encode(view, r.cfg.JPEGQuality)
	if err != nil {
		return derivatives{}, err
	}

	out := derivatives{
		processed: objectstore.NewDerivativeKey(j.image.ID, KindView),
		thumbnail: objectstore.NewDerivativeKey(j.image.ID, KindThumbnail),
	}
	if err := r.objects.Put(ctx, objectstore.Public, out.processed, viewData, "image/jpeg"); err != nil {
		return derivatives{}, err
	}
	if err := r.objects.Put(ctx, objectstore.Public, out.thumbnail, thumbData, "image/jpeg"); err != nil {
		r.deleteDerivatives(ctx, derivatives{processed: out.processed})
		return derivatives{}, err
	}
	if err := r.store.Images().Complete(ctx, j.image.ID, out.processed, out.thumbnail); err != nil {
		r.deleteDerivatives(ctx, out)
		return derivatives{}, storeErr(err)
	}
	return out, nil
}

func (r *Runner) fetchOriginal(ctx context.Context, key string) (codec.Bitmap, error) {
	data, err := r.readObject(ctx, objectstore.Private, key)
	if err != nil {
		return codec.Bitmap{}, err
	}
	return codec.Decode(data)
}

// loadOverlay returns the watermark bitmap, or ok=false when the config
// has neither an overlay asset in storage nor text.
func (r *Runner) loadOverlay(ctx context.Context, wm *models.WatermarkConfig) (codec.Bitmap, bool, error) {
	if wm.OverlayKey != "" {
		data, err := r.readObject(ctx, objectstore.Public, wm.OverlayKey)
		switch {
		case errors.Is(err, models.ErrNotFound):
			r.log.Warn().Int64("watermark_id", wm.ID).Str("key", wm.OverlayKey).Msg("watermark overlay missing")
		case err != nil:
			return codec.Bitmap{}, false, err
		default:
			overlay, err := codec.Decode(data)
			if err != nil {
				return codec.Bitmap{}, false, fmt.Errorf("watermark %d: %w", wm.ID, err)
			}
			return overlay, true, nil
		}
	}
	if wm.Text != "" {
		overlay, err := codec.RenderText(wm.Text)
		if err != nil {
			return codec.Bitmap{}, false, err
		}
		return overlay, true, nil
	}
	return codec.Bitmap{}, false, nil
}

func (r *Runner) readObject(ctx context.Context, ns objectstore.Namespace, key string) ([]byte, error) {
	obj, err := r.objects.Get(ctx, ns, key)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", key, models.ErrTransientIO, err)
	}
	return data, nil
}

// fail marks the image ERROR and reports it. The transition can lose to a
// concurrent run or delete; the image is then left as that caller set it.
func (r *Runner) fail(ctx context.Context, j *job) {
	err := r.store.Images().Transition(ctx, j.image.ID, []models.ImageStatus{models.ImageProcessing}, models.ImageError)
	if err != nil {
		r.log.Warn().Err(err).Int64("image_id", j.image.ID).Msg("mark image failed")
		return
	}
	r.progress(ctx, j, 0, models.ImageError, derivatives{})
}

func (r *Runner) deleteDerivatives(ctx context.Context, d derivatives) {
	for _, key := range []string{d.processed, d.thumbnail} {
		r.deleteObject(ctx, objectstore.Public, key)
	}
}

func (r *Runner) deleteObject(ctx context.Context, ns objectstore.Namespace, key string) {
	if key == "" {
		return
	}
	if err := r.objects.Delete(ctx, ns, key); err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("namespace", string(ns)).Msg("delete object")
	}
}

func (r *Runner) progress(ctx context.Context, j *job, percent int, status models.ImageStatus, d derivatives) {
	r.events.PublishImageProgress(ctx, models.ProgressEvent{
		ImageID:      j.image.ID,
		GalleryID:    j.image.GalleryID,
		Topic:        j.topic,
		Percent:      percent,
		BatchIndex:   j.task.BatchIndex,
		BatchTotal:   j.task.BatchTotal,
		Status:       status,
		ThumbURL:     proxy.MediaURL(d.thumbnail),
		ProcessedURL: proxy.MediaURL(d.processed),
	})
}
