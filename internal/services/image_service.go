package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/pkg/validation"
	"gorm.io/gorm"
)

// allowed upload types; MIME is sniffed from content, extension from the
// original filename, and both must match the whitelist
var (
	allowedImageMIMEs = map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
	}
	allowedImageExts = map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".webp": true,
	}
)

// ImageService owns image records and their like state: uploads, per-user
// collection views, the like toggle that keeps the denormalized counter in
// step with the likes table, deletion with cascade, and like statistics.
type ImageService struct {
	db       *gorm.DB
	cfg      *config.Config
	storage  *StorageService
	captions *CaptionService
	mirror   *S3Service
}

func NewImageService(db *gorm.DB, cfg *config.Config, storage *StorageService) *ImageService {
	return &ImageService{
		db:      db,
		cfg:     cfg,
		storage: storage,
	}
}

// AttachCaptionService enables caption enrichment on upload and the explicit caption endpoint
func (s *ImageService) AttachCaptionService(captions *CaptionService) {
	s.captions = captions
}

// AttachMirror enables best-effort mirroring of stored files to S3
func (s *ImageService) AttachMirror(mirror *S3Service) {
	s.mirror = mirror
}

// AnnotatedImage is an image together with the requesting user's like status
type AnnotatedImage struct {
	models.Image
	IsLiked bool
}

// Upload validates and persists a new image: content-sniffed MIME and
// extension whitelists, size cap, description limit. The file write and the
// DB insert are ordered file-first; a DB failure removes the stored file so
// no orphan blobs survive a failed upload.
func (s *ImageService) Upload(ctx context.Context, userID uuid.UUID, originalName string, data []byte, description string) (*models.Image, error) {
	mimeType := http.DetectContentType(data)
	if !allowedImageMIMEs[mimeType] {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrValidation, mimeType)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedImageExts[ext] {
		return nil, fmt.Errorf("%w: unsupported file extension %q", ErrValidation, ext)
	}

	if int64(len(data)) > s.cfg.UploadMaxSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrValidation, len(data), s.cfg.UploadMaxSize)
	}

	description = validation.SanitizeString(description)
	if !validation.ValidateDescription(description, s.cfg.DescriptionLimit) {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrValidation, s.cfg.DescriptionLimit)
	}

	// Optional enrichment: ask the caption collaborator before persisting.
	// Failure here never fails the upload.
	if description == "" && s.cfg.CaptionOnUpload && s.captions != nil && s.captions.Enabled() {
		caption, err := s.captions.Generate(ctx, data, mimeType)
		if err != nil {
			log.Printf("caption generation failed, continuing without: %v", err)
		} else {
			description = truncateRunes(caption, s.cfg.DescriptionLimit)
		}
	}

	key := s.storage.BuildObjectKey("images", originalName)
	if _, _, _, err := s.storage.SaveStream(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	image := &models.Image{
		Filename:     path.Base(key),
		OriginalName: originalName,
		FilePath:     key,
		MimeType:     mimeType,
		SizeBytes:    int64(len(data)),
		UploadedBy:   userID,
		Description:  description,
		IsPublic:     true,
	}
	if err := s.db.Create(image).Error; err != nil {
		// no record, no blob
		if rmErr := s.storage.Remove(key); rmErr != nil {
			log.Printf("failed to clean up stored file %s: %v", key, rmErr)
		}
		return nil, fmt.Errorf("failed to create image record: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.MirrorUpload(ctx, key, data, mimeType); err != nil {
			log.Printf("S3 mirror upload failed for %s: %v", key, err)
		}
	}

	return image, nil
}

// GetImage returns a single image visible to the requester: their own, or a
// public one. Private images of other users read as not found.
func (s *ImageService) GetImage(requesterID, imageID uuid.UUID) (*models.Image, error) {
	var image models.Image
	if err := s.db.First(&image, "id = ?", imageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: image", ErrNotFound)
		}
		return nil, err
	}
	if !image.IsPublic && image.UploadedBy != requesterID {
		return nil, fmt.Errorf("%w: image", ErrNotFound)
	}
	return &image, nil
}

// ListUploads returns the requester's own images, newest first, with the
// requester's like status per item.
func (s *ImageService) ListUploads(userID uuid.UUID, page, limit int) ([]AnnotatedImage, int64, error) {
	page, limit = normalizePage(page, limit)

	var total int64
	if err := s.db.Model(&models.Image{}).Where("uploaded_by = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count images: %w", err)
	}

	var images []models.Image
	if err := s.db.Where("uploaded_by = ?", userID).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&images).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list images: %w", err)
	}

	liked, err := s.likedIDSet(userID, imageIDs(images))
	if err != nil {
		return nil, 0, err
	}

	items := make([]AnnotatedImage, len(images))
	for i, img := range images {
		items[i] = AnnotatedImage{Image: img, IsLiked: liked[img.ID]}
	}
	return items, total, nil
}

// ListLiked returns the images the requester has liked, ordered by when the
// like was created (not when the image was uploaded), newest like first.
func (s *ImageService) ListLiked(userID uuid.UUID, page, limit int) ([]AnnotatedImage, int64, error) {
	page, limit = normalizePage(page, limit)

	var total int64
	if err := s.db.Model(&models.Like{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count likes: %w", err)
	}

	var images []models.Image
	if err := s.db.Model(&models.Image{}).
		Joins("JOIN likes ON likes.image_id = images.id").
		Where("likes.user_id = ?", userID).
		Order("likes.created_at DESC, likes.id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&images).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list liked images: %w", err)
	}

	items := make([]AnnotatedImage, len(images))
	for i, img := range images {
		// only liked images appear here
		items[i] = AnnotatedImage{Image: img, IsLiked: true}
	}
	return items, total, nil
}

// ListCollection returns the union of the requester's uploads and liked
// images as one feed: deduplicated by image id, ordered by image creation
// time (newest first), paginated after the merge so page boundaries stay
// consistent regardless of overlap between the two sets.
func (s *ImageService) ListCollection(userID uuid.UUID, page, limit int) ([]AnnotatedImage, int64, error) {
	page, limit = normalizePage(page, limit)

	var uploads []models.Image
	if err := s.db.Where("uploaded_by = ?", userID).Find(&uploads).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load uploads: %w", err)
	}

	var likedImages []models.Image
	if err := s.db.Model(&models.Image{}).
		Joins("JOIN likes ON likes.image_id = images.id").
		Where("likes.user_id = ?", userID).
		Find(&likedImages).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load liked images: %w", err)
	}

	liked := make(map[uuid.UUID]bool, len(likedImages))
	for _, img := range likedImages {
		liked[img.ID] = true
	}

	// union, keyed by image id
	merged := make(map[uuid.UUID]models.Image, len(uploads)+len(likedImages))
	for _, img := range uploads {
		merged[img.ID] = img
	}
	for _, img := range likedImages {
		merged[img.ID] = img
	}

	items := make([]AnnotatedImage, 0, len(merged))
	for _, img := range merged {
		items = append(items, AnnotatedImage{Image: img, IsLiked: liked[img.ID]})
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		// deterministic order for equal timestamps
		return items[i].ID.String() > items[j].ID.String()
	})

	total := int64(len(items))
	start := (page - 1) * limit
	if start >= len(items) {
		return []AnnotatedImage{}, total, nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], total, nil
}

// ToggleLike flips the requester's like on an image and returns the new
// state. The like row and the denormalized counter move inside one
// transaction, and the counter is adjusted with an atomic SQL expression
// (floored at zero) instead of a read-modify-write.
func (s *ImageService) ToggleLike(userID, imageID uuid.UUID) (bool, int64, error) {
	var isLiked bool
	var likesCount int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var image models.Image
		if err := tx.First(&image, "id = ?", imageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: image", ErrNotFound)
			}
			return err
		}

		var existing models.Like
		err := tx.Where("user_id = ? AND image_id = ?", userID, imageID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			like := models.Like{UserID: userID, ImageID: imageID}
			if err := tx.Create(&like).Error; err != nil {
				return fmt.Errorf("failed to create like: %w", err)
			}
			if err := tx.Model(&models.Image{}).Where("id = ?", imageID).
				UpdateColumn("likes_count", gorm.Expr("likes_count + 1")).Error; err != nil {
				return fmt.Errorf("failed to increment like count: %w", err)
			}
			isLiked = true
		case err != nil:
			return err
		default:
			if err := tx.Delete(&existing).Error; err != nil {
				return fmt.Errorf("failed to delete like: %w", err)
			}
			// floor at zero so a previously inconsistent counter can never go negative
			if err := tx.Model(&models.Image{}).Where("id = ?", imageID).
				UpdateColumn("likes_count", gorm.Expr("CASE WHEN likes_count > 0 THEN likes_count - 1 ELSE 0 END")).Error; err != nil {
				return fmt.Errorf("failed to decrement like count: %w", err)
			}
			isLiked = false
		}

		return tx.Model(&models.Image{}).Where("id = ?", imageID).
			Pluck("likes_count", &likesCount).Error
	})
	if err != nil {
		return false, 0, err
	}
	return isLiked, likesCount, nil
}

// Delete removes an image owned by the requester: likes first, then the
// record, inside one transaction. The stored file is removed afterwards
// best-effort; a removal failure is logged, never surfaced.
func (s *ImageService) Delete(ctx context.Context, userID, imageID uuid.UUID) error {
	var image models.Image

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&image, "id = ?", imageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: image", ErrNotFound)
			}
			return err
		}
		if image.UploadedBy != userID {
			return fmt.Errorf("%w: only the uploader can delete an image", ErrForbidden)
		}
		if err := tx.Where("image_id = ?", imageID).Delete(&models.Like{}).Error; err != nil {
			return fmt.Errorf("failed to delete likes: %w", err)
		}
		if err := tx.Delete(&image).Error; err != nil {
			return fmt.Errorf("failed to delete image record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.storage.Remove(image.FilePath); err != nil {
		log.Printf("failed to remove stored file %s: %v", image.FilePath, err)
	}
	if s.mirror != nil {
		if err := s.mirror.MirrorDelete(ctx, image.FilePath); err != nil {
			log.Printf("S3 mirror delete failed for %s: %v", image.FilePath, err)
		}
	}
	return nil
}

// Stats sums the like counters over the requester's own uploads
func (s *ImageService) Stats(userID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.Model(&models.Image{}).
		Where("uploaded_by = ?", userID).
		Select("COALESCE(SUM(likes_count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum like counts: %w", err)
	}
	return total, nil
}

// GenerateCaption runs caption generation for an image the requester owns and
// stores the result as its description. Unlike the upload pre-step, failure
// here is surfaced to the caller.
func (s *ImageService) GenerateCaption(ctx context.Context, userID, imageID uuid.UUID) (string, error) {
	if s.captions == nil || !s.captions.Enabled() {
		return "", fmt.Errorf("%w: caption generation not configured", ErrUpstream)
	}

	var image models.Image
	if err := s.db.First(&image, "id = ?", imageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: image", ErrNotFound)
		}
		return "", err
	}
	if image.UploadedBy != userID {
		return "", fmt.Errorf("%w: only the uploader can caption an image", ErrForbidden)
	}

	data, err := s.storage.ReadFile(image.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read stored file: %w", err)
	}

	caption, err := s.captions.Generate(ctx, data, image.MimeType)
	if err != nil {
		return "", err
	}
	caption = truncateRunes(caption, s.cfg.DescriptionLimit)

	if err := s.db.Model(&models.Image{}).Where("id = ?", imageID).
		Update("description", caption).Error; err != nil {
		return "", fmt.Errorf("failed to store caption: %w", err)
	}
	return caption, nil
}

// IsLikedBy reports whether the user currently likes the image
func (s *ImageService) IsLikedBy(userID, imageID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.Model(&models.Like{}).
		Where("user_id = ? AND image_id = ?", userID, imageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to load like status: %w", err)
	}
	return count > 0, nil
}

func (s *ImageService) likedIDSet(userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	set := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return set, nil
	}
	var likedIDs []uuid.UUID
	if err := s.db.Model(&models.Like{}).
		Where("user_id = ? AND image_id IN ?", userID, ids).
		Pluck("image_id", &likedIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load like status: %w", err)
	}
	for _, id := range likedIDs {
		set[id] = true
	}
	return set, nil
}

func imageIDs(images []models.Image) []uuid.UUID {
	ids := make([]uuid.UUID, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	return ids
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
