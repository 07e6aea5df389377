package models

import "time"

type ImageStatus string

const (
	ImageUploadPending ImageStatus = "UPLOAD_PENDING"
	ImageUploaded      ImageStatus = "UPLOADED"
	ImageProcessing    ImageStatus = "PROCESSING"
	ImageProcessed     ImageStatus = "PROCESSED"
	ImageError         ImageStatus = "ERROR"
)

// PendingImageStatuses are the statuses that keep a gallery out of review.
var PendingImageStatuses = []ImageStatus{ImageUploadPending, ImageUploaded, ImageProcessing}

// RotatableImageStatuses are the statuses from which an original may be rotated.
var RotatableImageStatuses = []ImageStatus{ImageUploaded, ImageProcessed, ImageError}

// Terminal reports whether the pipeline is done with an image in this status.
func (s ImageStatus) Terminal() bool {
	return s == ImageProcessed || s == ImageError
}

type GalleryStatus string

const (
	GalleryDraft      GalleryStatus = "DRAFT"
	GalleryProcessing GalleryStatus = "PROCESSING"
	GalleryReview     GalleryStatus = "REVIEW"
	GalleryPublished  GalleryStatus = "PUBLISHED"
	GalleryArchived   GalleryStatus = "ARCHIVED"
)

var galleryStatusDisplay = map[GalleryStatus]string{
	GalleryDraft:      "Draft",
	GalleryProcessing: "Processing",
	GalleryReview:     "In review",
	GalleryPublished:  "Published",
	GalleryArchived:   "Archived",
}

func (s GalleryStatus) Display() string {
	if d, ok := galleryStatusDisplay[s]; ok {
		return d
	}
	return string(s)
}

type Image struct {
	ID               int64       `db:"id" json:"id"`
	OriginalFilename string      `db:"original_filename" json:"originalFilename"`
	OriginalKey      string      `db:"original_key" json:"-"`
	ProcessedKey     string      `db:"processed_key" json:"-"`
	ThumbnailKey     string      `db:"thumbnail_key" json:"-"`
	GalleryID        *int64      `db:"gallery_id" json:"galleryId,omitempty"`
	UploaderID       int64       `db:"uploader_id" json:"uploaderId"`
	Status           ImageStatus `db:"status" json:"status"`
	CreatedAt        time.Time   `db:"created_at" json:"createdAt"`
}

type Gallery struct {
	ID                int64         `db:"id"`
	Slug              string        `db:"slug"`
	Title             string        `db:"title"`
	Status            GalleryStatus `db:"status"`
	CoverImageID      *int64        `db:"cover_image_id"`
	WatermarkConfigID *int64        `db:"watermark_config_id"`
	Public            bool          `db:"is_public"`
	OwnerID           int64         `db:"owner_id"`
	GroupIDs          []int64
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	PublishedAt       *time.Time `db:"published_at"`
}

type WatermarkPosition string

const (
	PositionTopLeft     WatermarkPosition = "TL"
	PositionTopRight    WatermarkPosition = "TR"
	PositionBottomLeft  WatermarkPosition = "BL"
	PositionBottomRight WatermarkPosition = "BR"
	PositionCenter      WatermarkPosition = "C"
)

// WatermarkConfig is read once per processing run and never mutated by it.
type WatermarkConfig struct {
	ID         int64             `db:"id"`
	Name       string            `db:"name"`
	OverlayKey string            `db:"overlay_key"`
	Text       string            `db:"text"`
	Position   WatermarkPosition `db:"position"`
	Opacity    float64           `db:"opacity"`
}

const (
	EventImageProgress = "image_progress"
	EventGalleryStatus = "gallery_status"
)

type ProgressEvent struct {
	Type         string      `json:"type"`
	ImageID      int64       `json:"imageId"`
	GalleryID    *int64      `json:"galleryId,omitempty"`
	Topic        string      `json:"topic,omitempty"`
	Percent      int         `json:"percent"`
	BatchIndex   int         `json:"batchIndex,omitempty"`
	BatchTotal   int         `json:"batchTotal,omitempty"`
	Status       ImageStatus `json:"status"`
	ThumbURL     string      `json:"thumbUrl,omitempty"`
	ProcessedURL string      `json:"processedUrl,omitempty"`
}

type GalleryStatusEvent struct {
	Type          string        `json:"type"`
	GalleryID     int64         `json:"galleryId"`
	StatusCode    GalleryStatus `json:"statusCode"`
	StatusDisplay string        `json:"statusDisplay"`
}

// ProcessTask is the queue payload for one image. A non-zero Rotate turns
// the original clockwise before processing, provided the image still points
// at SourceKey.
type ProcessTask struct {
	ImageID    int64  `json:"image_id"`
	BatchIndex int    `json:"batch_index,omitempty"`
	BatchTotal int    `json:"batch_total,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Rotate     int    `json:"rotate,omitempty"`
	SourceKey  string `json:"source_key,omitempty"`
}

// Identity is the caller as seen by policy checks. UserID 0 is anonymous.
type Identity struct {
	UserID   int64
	GroupIDs []int64
	Staff    bool
}

func (i Identity) Anonymous() bool {
	return i.UserID == 0
}

func (i Identity) InAnyGroup(groups []int64) bool {
	for _, g := range groups {
		for _, mine := range i.GroupIDs {
			if g == mine {
				return true
			}
		}
	}
	return false
}
