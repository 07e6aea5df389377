package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"photogallery/internal/auth"
	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/publisher"
)

type authorizeRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
	GalleryID   *int64 `json:"galleryId"`
}

type authorizeResponse struct {
	ImageID int64                         `json:"imageId"`
	Upload  *objectstore.UploadDescriptor `json:"upload"`
}

type confirmRequest struct {
	ImageID    int64 `json:"imageId" binding:"required"`
	BatchIndex int   `json:"batchIndex"`
	BatchTotal int   `json:"batchTotal"`
}

type rotateRequest struct {
	Degrees int `json:"degrees"`
}

type coverRequest struct {
	ImageID int64 `json:"imageId" binding:"required"`
}

func (s *Server) handleAuthorize(c *gin.Context) {
	const op = "server.handleAuthorize"

	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := auth.Identity(c)
	desc, id, err := s.deps.Uploads.AuthorizeUpload(c.Request.Context(), req.Filename, req.ContentType, caller.UserID, req.GalleryID)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, authorizeResponse{ImageID: id, Upload: desc})
}

func (s *Server) handleConfirm(c *gin.Context) {
	const op = "server.handleConfirm"

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := auth.Identity(c)
	if err := s.deps.Uploads.ConfirmUpload(c.Request.Context(), req.ImageID, caller.UserID, req.BatchIndex, req.BatchTotal); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"imageId": req.ImageID, "status": models.ImageUploaded, "enqueued": true})
}

func (s *Server) handleGetImage(c *gin.Context) {
	const op = "server.handleGetImage"

	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := s.deps.Gallery.Image(c.Request.Context(), id, auth.Identity(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	const op = "server.handleDeleteImage"

	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Gallery.DeleteImage(c.Request.Context(), id, auth.Identity(c)); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRotate(c *gin.Context) {
	const op = "server.handleRotate"

	id, ok := pathID(c)
	if !ok {
		return
	}
	var req rotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Gallery.RotateImage(c.Request.Context(), id, req.Degrees, auth.Identity(c)); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"imageId": id, "degrees": req.Degrees, "enqueued": true})
}

func (s *Server) handlePublish(c *gin.Context) {
	const op = "server.handlePublish"

	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Gallery.Publish(c.Request.Context(), id, auth.Identity(c)); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"galleryId": id, "status": models.GalleryPublished})
}

func (s *Server) handleArchive(c *gin.Context) {
	const op = "server.handleArchive"

	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Gallery.Archive(c.Request.Context(), id, auth.Identity(c)); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"galleryId": id, "status": models.GalleryArchived})
}

func (s *Server) handleSetCover(c *gin.Context) {
	const op = "server.handleSetCover"

	id, ok := pathID(c)
	if !ok {
		return
	}
	var req coverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Gallery.SetCover(c.Request.Context(), id, req.ImageID, auth.Identity(c)); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"galleryId": id, "coverImageId": req.ImageID})
}

func (s *Server) handleMedia(c *gin.Context) {
	const op = "server.handleMedia"

	obj, err := s.deps.Proxy.Serve(c.Request.Context(), c.Param("path"), auth.Identity(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	defer obj.Body.Close()

	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, map[string]string{
		"Cache-Control": "private, max-age=300",
	})
}

func (s *Server) handleSubscribe(c *gin.Context) {
	const op = "server.handleSubscribe"

	topic := c.Param("topic")
	if !publisher.ValidTopic(topic) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown topic"})
		return
	}
	if err := s.deps.Gallery.AuthorizeTopic(c.Request.Context(), topic, auth.Identity(c)); err != nil {
		s.writeError(c, op, err)
		return
	}
	s.deps.Hub.Serve(c.Writer, c.Request, topic)
}

// handleLocalUpload accepts the direct PUT the filesystem backend's upload
// descriptors point at.
func (s *Server) handleLocalUpload(c *gin.Context) {
	const op = "server.handleLocalUpload"

	key := c.Query("key")
	if err := s.deps.Local.VerifyUpload(key, c.Query("expires"), c.Query("sig")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid upload signature"})
		return
	}
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	if err := s.deps.Local.Receive(c.Request.Context(), key, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", maxUploadBytes)})
			return
		}
		s.writeError(c, op, err)
		return
	}
	c.Status(http.StatusOK)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
