package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/models"
	"gorm.io/gorm"
)

var testDBSeq int64

// setupTestDB opens a unique in-memory SQLite database and migrates the models.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	seq := atomic.AddInt64(&testDBSeq, 1)
	dsn := fmt.Sprintf("file:svtest_%d?mode=memory&cache=shared", seq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestConfig returns a config with a temp upload dir and test-friendly limits.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.UploadPath = t.TempDir()
	cfg.UploadMaxSize = 5 * 1024 * 1024
	cfg.DescriptionLimit = 500
	cfg.BcryptCost = 4 // keep auth tests fast
	cfg.CaptionAPIKey = ""
	return cfg
}

func newTestImageService(t *testing.T) (*ImageService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	cfg := newTestConfig(t)
	return NewImageService(db, cfg, NewStorageService(cfg)), db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "irrelevant",
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

// createTestImage inserts an image record directly, bypassing the upload path.
func createTestImage(t *testing.T, db *gorm.DB, uploader uuid.UUID, createdAt time.Time) *models.Image {
	t.Helper()
	id := uuid.New()
	image := &models.Image{
		ID:           id,
		Filename:     id.String() + ".png",
		OriginalName: "original.png",
		FilePath:     "images/" + id.String() + ".png",
		MimeType:     "image/png",
		UploadedBy:   uploader,
		IsPublic:     true,
	}
	if err := db.Create(image).Error; err != nil {
		t.Fatalf("create image: %v", err)
	}
	if err := db.Model(image).UpdateColumn("created_at", createdAt).Error; err != nil {
		t.Fatalf("set image created_at: %v", err)
	}
	image.CreatedAt = createdAt
	return image
}

// likeAt inserts a like row with an explicit creation time.
func likeAt(t *testing.T, db *gorm.DB, userID, imageID uuid.UUID, createdAt time.Time) {
	t.Helper()
	like := &models.Like{UserID: userID, ImageID: imageID}
	if err := db.Create(like).Error; err != nil {
		t.Fatalf("create like: %v", err)
	}
	if err := db.Model(like).UpdateColumn("created_at", createdAt).Error; err != nil {
		t.Fatalf("set like created_at: %v", err)
	}
	if err := db.Model(&models.Image{}).Where("id = ?", imageID).
		UpdateColumn("likes_count", gorm.Expr("likes_count + 1")).Error; err != nil {
		t.Fatalf("bump likes_count: %v", err)
	}
}

// minimal valid GIF payload; http.DetectContentType sniffs it as image/gif
func testImageBytes() []byte {
	return append([]byte("GIF89a"), make([]byte, 64)...)
}
