package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time
}

// UserImage records one uploaded image. (user_id, image_hash) is unique so
// re-uploading identical bytes returns the existing row instead of creating
// a duplicate. Dedup is scoped per user, not global.
type UserImage struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_image_hash"`
	User   *User     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`

	ImageHash        string `gorm:"size:64;not null;uniqueIndex:idx_user_image_hash"`
	StorageKey       string `gorm:"not null"`
	OriginalFilename string
	ContentType      string
	FileSize         int64

	CreatedAt time.Time
}

// PromptHistory is an append-only record of one prompt interaction. The
// field schema and structured output are stored as JSON and must round-trip
// exactly; StorageKey holds the stable object key, never a presigned URL.
type PromptHistory struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null;index"`
	User   *User     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`

	Prompt     string `gorm:"type:text;not null"`
	StorageKey string
	FieldSchema datatypes.JSON `gorm:"type:jsonb"`
	Output      datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"index"`
}
