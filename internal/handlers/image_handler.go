package handlers

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/services"
)

type ImageHandler struct {
	imageService   *services.ImageService
	storageService *services.StorageService
}

func NewImageHandler(imageService *services.ImageService, storageService *services.StorageService) *ImageHandler {
	return &ImageHandler{
		imageService:   imageService,
		storageService: storageService,
	}
}

// ImageResponse is the wire shape of an image in every list and detail response
type ImageResponse struct {
	ID           string    `json:"_id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalname"`
	FilePath     string    `json:"filepath"`
	UploadedBy   string    `json:"uploadedBy"`
	Description  string    `json:"description"`
	IsPublic     bool      `json:"isPublic"`
	LikesCount   int64     `json:"likesCount"`
	CreatedAt    time.Time `json:"createdAt"`
	IsLiked      bool      `json:"isLiked"`
}

func toImageResponse(img services.AnnotatedImage) ImageResponse {
	return ImageResponse{
		ID:           img.ID.String(),
		Filename:     img.Filename,
		OriginalName: img.OriginalName,
		FilePath:     img.FilePath,
		UploadedBy:   img.UploadedBy.String(),
		Description:  img.Description,
		IsPublic:     img.IsPublic,
		LikesCount:   img.LikesCount,
		CreatedAt:    img.CreatedAt,
		IsLiked:      img.IsLiked,
	}
}

// Upload handles image upload
// POST /images
// Multipart form: image (required), description (optional)
func (h *ImageHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "image file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read file"})
		return
	}

	description := c.PostForm("description")

	image, err := h.imageService.Upload(c.Request.Context(), userID, header.Filename, data, description)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"image":   toImageResponse(services.AnnotatedImage{Image: *image}),
	})
}

// ListUploads returns the requester's own images
// GET /images/user?page=&limit=
func (h *ImageHandler) ListUploads(c *gin.Context) {
	h.list(c, h.imageService.ListUploads)
}

// ListLiked returns the images the requester liked, most recently liked first
// GET /images/liked?page=&limit=
func (h *ImageHandler) ListLiked(c *gin.Context) {
	h.list(c, h.imageService.ListLiked)
}

// ListCollection returns the deduplicated union of uploads and liked images
// GET /images/collection?page=&limit=
func (h *ImageHandler) ListCollection(c *gin.Context) {
	h.list(c, h.imageService.ListCollection)
}

func (h *ImageHandler) list(c *gin.Context, fetch func(uuid.UUID, int, int) ([]services.AnnotatedImage, int64, error)) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	items, total, err := fetch(userID, page, limit)
	if err != nil {
		log.Printf("collection fetch failed for user %s: %v", userID, err)
		respondError(c, err)
		return
	}

	images := make([]ImageResponse, len(items))
	for i, item := range items {
		images[i] = toImageResponse(item)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"images":  images,
		"total":   total,
		"page":    page,
		"pages":   (total + int64(limit) - 1) / int64(limit),
	})
}

// GetImage returns a single image visible to the requester
// GET /images/:id
func (h *ImageHandler) GetImage(c *gin.Context) {
	userID, imageID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	image, err := h.imageService.GetImage(userID, imageID)
	if err != nil {
		respondError(c, err)
		return
	}

	isLiked, err := h.imageService.IsLikedBy(userID, imageID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"image":   toImageResponse(services.AnnotatedImage{Image: *image, IsLiked: isLiked}),
	})
}

// ServeFile streams the stored file for an image visible to the requester
// GET /images/:id/file
func (h *ImageHandler) ServeFile(c *gin.Context) {
	userID, imageID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	image, err := h.imageService.GetImage(userID, imageID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.storageService.ServeFile(c.Writer, c.Request, image.FilePath, image.OriginalName)
}

// ToggleLike flips the requester's like on an image
// POST /images/:id/like
func (h *ImageHandler) ToggleLike(c *gin.Context) {
	userID, imageID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	isLiked, likesCount, err := h.imageService.ToggleLike(userID, imageID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"isLiked":    isLiked,
		"likesCount": likesCount,
	})
}

// Delete removes an image owned by the requester
// DELETE /images/:id
func (h *ImageHandler) Delete(c *gin.Context) {
	userID, imageID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	if err := h.imageService.Delete(c.Request.Context(), userID, imageID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Stats sums like counters over the requester's uploads
// GET /images/stats
func (h *ImageHandler) Stats(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return
	}

	totalLikes, err := h.imageService.Stats(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"totalLikes": totalLikes,
	})
}

// GenerateCaption fills an image's description from the caption collaborator
// POST /images/:id/caption
func (h *ImageHandler) GenerateCaption(c *gin.Context) {
	userID, imageID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	caption, err := h.imageService.GenerateCaption(c.Request.Context(), userID, imageID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"description": caption,
	})
}

func (h *ImageHandler) requestIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return uuid.Nil, uuid.Nil, false
	}

	imageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid image ID"})
		return uuid.Nil, uuid.Nil, false
	}

	return userID, imageID, true
}
