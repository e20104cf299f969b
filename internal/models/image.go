package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Image is the metadata record for an uploaded file. The file itself lives on
// local disk under the configured upload path; FilePath is the storage key
// relative to that root. LikesCount is denormalized and kept consistent with
// the likes table by ImageService.ToggleLike.
type Image struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Filename     string    `gorm:"size:255;uniqueIndex;not null" json:"filename"`
	OriginalName string    `gorm:"size:255;not null" json:"original_name"`
	FilePath     string    `gorm:"size:512;not null" json:"file_path"`
	MimeType     string    `gorm:"size:120" json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedBy   uuid.UUID `gorm:"type:uuid;not null;index" json:"uploaded_by"`
	Description  string    `gorm:"size:500" json:"description"`
	IsPublic     bool      `gorm:"default:true" json:"is_public"`
	LikesCount   int64     `gorm:"not null;default:0" json:"likes_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relations
	Uploader *User  `gorm:"foreignKey:UploadedBy" json:"uploader,omitempty"`
	Likes    []Like `gorm:"foreignKey:ImageID" json:"likes,omitempty"`
}

func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
