package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Like records that a user liked an image. The composite unique index
// guarantees at most one like per (user, image) pair.
type Like struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_likes_user_image" json:"user_id"`
	ImageID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_likes_user_image;index" json:"image_id"`
	CreatedAt time.Time `json:"created_at"`

	// Relations
	User  User  `gorm:"foreignKey:UserID" json:"-"`
	Image Image `gorm:"foreignKey:ImageID" json:"-"`
}

func (l *Like) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
