package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"widgera-backend/internal/database"
	"widgera-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrImageNotFound covers both a missing id and an id owned by another
	// user. Lookups are always owner scoped, so the two are indistinguishable
	// on purpose.
	ErrImageNotFound = errors.New("image not found or access denied")

	ErrImageProcessing = errors.New("image processing error")
)

// Service is the image store gateway: content-addressable uploads with
// per-user dedup, owner-scoped downloads, and presigned read URLs.
type Service struct {
	db    *gorm.DB
	store storage.ObjectStore
}

func NewService(db *gorm.DB, store storage.ObjectStore) *Service {
	return &Service{db: db, store: store}
}

type UploadResult struct {
	Image     database.UserImage
	Duplicate bool
}

// Upload stores the image bytes unless the same user already uploaded
// byte-identical content, in which case the existing record is returned and
// nothing new is written. Dedup keys on (user, sha256).
func (s *Service) Upload(ctx context.Context, userId uuid.UUID, filename, contentType string, data []byte) (UploadResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var existing database.UserImage
	err := s.db.WithContext(ctx).Where("user_id = ? AND image_hash = ?", userId, hash).First(&existing).Error
	if err == nil {
		slog.Info("duplicate image detected", "user_id", userId, "image_id", existing.Id)
		return UploadResult{Image: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return UploadResult{}, fmt.Errorf("%w: error checking for duplicate: %v", ErrImageProcessing, err)
	}

	key := fmt.Sprintf("images/%s/%s%s", userId, uuid.New(), fileExtension(filename))
	if err := s.store.PutObject(ctx, key, bytes.NewReader(data)); err != nil {
		slog.Error("error uploading image", "user_id", userId, "key", key, "error", err)
		return UploadResult{}, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}

	image := database.UserImage{
		Id:               uuid.New(),
		UserId:           userId,
		ImageHash:        hash,
		StorageKey:       key,
		OriginalFilename: filename,
		ContentType:      contentType,
		FileSize:         int64(len(data)),
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&image).Error; err != nil {
		// A concurrent upload of the same bytes can win the unique index
		// race; treat its row as the duplicate.
		var raced database.UserImage
		if lookupErr := s.db.WithContext(ctx).Where("user_id = ? AND image_hash = ?", userId, hash).First(&raced).Error; lookupErr == nil {
			return UploadResult{Image: raced, Duplicate: true}, nil
		}
		slog.Error("error saving image record", "user_id", userId, "error", err)
		return UploadResult{}, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}

	slog.Info("image uploaded", "user_id", userId, "image_id", image.Id, "key", key)
	return UploadResult{Image: image}, nil
}

// Resolve returns the image record only if it belongs to the given user.
func (s *Service) Resolve(ctx context.Context, userId, imageId uuid.UUID) (database.UserImage, error) {
	var image database.UserImage
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", imageId, userId).First(&image).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.UserImage{}, ErrImageNotFound
		}
		return database.UserImage{}, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}
	return image, nil
}

func (s *Service) Download(ctx context.Context, userId, imageId uuid.UUID) (database.UserImage, []byte, error) {
	image, err := s.Resolve(ctx, userId, imageId)
	if err != nil {
		return database.UserImage{}, nil, err
	}

	data, err := s.store.GetObject(ctx, image.StorageKey)
	if err != nil {
		slog.Error("error downloading image", "image_id", imageId, "key", image.StorageKey, "error", err)
		return database.UserImage{}, nil, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}
	return image, data, nil
}

// SignURL returns a fresh presigned URL for a stored object key. Signing is
// applied per read so a cached record never carries an expired URL.
func (s *Service) SignURL(ctx context.Context, key string) (string, error) {
	url, err := s.store.PresignGetURL(ctx, key, storage.DefaultPresignTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}
	return url, nil
}

func (s *Service) List(ctx context.Context, userId uuid.UUID) ([]database.UserImage, error) {
	var list []database.UserImage
	if err := s.db.WithContext(ctx).Where("user_id = ?", userId).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}
	return list, nil
}

func fileExtension(filename string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	return ".jpg"
}
