package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"widgera-backend/internal/database"
	"widgera-backend/internal/gemini"
	"widgera-backend/internal/images"
	"widgera-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrPersistence covers failures serializing or storing history records.
// They fail the whole request; partial history writes are never returned.
var ErrPersistence = errors.New("failed to save history")

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Service orchestrates one prompt round trip: resolve the optional image,
// call the model, persist the result, and invalidate the cached history
// view. Collaborators are interfaces/injected so tests can substitute fakes.
type Service struct {
	db        *gorm.DB
	generator gemini.Generator
	images    *images.Service
	cache     *historyCache
}

func NewService(db *gorm.DB, generator gemini.Generator, imageSvc *images.Service) *Service {
	return &Service{
		db:        db,
		generator: generator,
		images:    imageSvc,
		cache:     newHistoryCache(),
	}
}

// historyEntry is the cached representation of one history record. It holds
// only the stable storage key; presigned URLs are applied per read so a
// cached entry can never leak an expired URL.
type historyEntry struct {
	Id         uuid.UUID
	Prompt     string
	StorageKey string
	Fields     []api.FieldDefinition
	Output     *gemini.StructuredOutput
	CreatedAt  time.Time
}

func (s *Service) ProcessPrompt(ctx context.Context, userId uuid.UUID, req api.PromptRequest) (api.PromptResponse, error) {
	slog.Info("processing prompt", "user_id", userId, "fields", len(req.Fields))

	var imageBytes []byte
	var storageKey string
	if req.ImageId != nil {
		image, data, err := s.images.Download(ctx, userId, *req.ImageId)
		if err != nil {
			return api.PromptResponse{}, err
		}
		imageBytes = data
		storageKey = image.StorageKey
	}

	output, err := s.generator.Generate(ctx, req.Prompt, req.Fields, imageBytes)
	if err != nil {
		return api.PromptResponse{}, err
	}

	record, err := s.saveToHistory(ctx, userId, req, storageKey, output)
	if err != nil {
		return api.PromptResponse{}, err
	}

	// Invalidate after the write commits so the next read recomputes.
	s.cache.Invalidate(userId)

	return api.PromptResponse{
		Output:    output,
		Prompt:    req.Prompt,
		ImageId:   req.ImageId,
		HistoryId: record.Id,
	}, nil
}

func (s *Service) saveToHistory(ctx context.Context, userId uuid.UUID, req api.PromptRequest, storageKey string, output *gemini.StructuredOutput) (database.PromptHistory, error) {
	fieldSchema, err := json.Marshal(req.Fields)
	if err != nil {
		slog.Error("failed to serialize field schema", "error", err)
		return database.PromptHistory{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	outputJson, err := json.Marshal(output)
	if err != nil {
		slog.Error("failed to serialize output", "error", err)
		return database.PromptHistory{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	record := database.PromptHistory{
		Id:          uuid.New(),
		UserId:      userId,
		Prompt:      req.Prompt,
		StorageKey:  storageKey,
		FieldSchema: datatypes.JSON(fieldSchema),
		Output:      datatypes.JSON(outputJson),
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		slog.Error("failed to save history record", "user_id", userId, "error", err)
		return database.PromptHistory{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return record, nil
}

// GetHistory returns one page of the user's history, newest first, with
// fresh presigned image URLs.
func (s *Service) GetHistory(ctx context.Context, userId uuid.UUID, page, size int) ([]api.HistoryRecord, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	var records []database.PromptHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Offset(page * size).
		Limit(size).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	entries, err := decodeEntries(records)
	if err != nil {
		return nil, err
	}
	return s.signEntries(ctx, entries)
}

// GetAllHistory returns the user's full history, newest first. The listing
// is served from a per-user cache that is invalidated on write; presigned
// URLs are generated fresh on every call, outside the cached representation.
func (s *Service) GetAllHistory(ctx context.Context, userId uuid.UUID) ([]api.HistoryRecord, error) {
	entries, err := s.cache.GetOrCompute(userId, func() ([]historyEntry, error) {
		slog.Info("history cache miss, fetching from database", "user_id", userId)

		var records []database.PromptHistory
		err := s.db.WithContext(ctx).
			Where("user_id = ?", userId).
			Order("created_at DESC").
			Find(&records).Error
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		return decodeEntries(records)
	})
	if err != nil {
		return nil, err
	}

	return s.signEntries(ctx, entries)
}

func decodeEntries(records []database.PromptHistory) ([]historyEntry, error) {
	entries := make([]historyEntry, 0, len(records))
	for _, record := range records {
		var fields []api.FieldDefinition
		if err := json.Unmarshal(record.FieldSchema, &fields); err != nil {
			slog.Error("failed to deserialize field schema", "history_id", record.Id, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		output := gemini.NewStructuredOutput()
		if err := json.Unmarshal(record.Output, output); err != nil {
			slog.Error("failed to deserialize output", "history_id", record.Id, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		entries = append(entries, historyEntry{
			Id:         record.Id,
			Prompt:     record.Prompt,
			StorageKey: record.StorageKey,
			Fields:     fields,
			Output:     output,
			CreatedAt:  record.CreatedAt,
		})
	}
	return entries, nil
}

func (s *Service) signEntries(ctx context.Context, entries []historyEntry) ([]api.HistoryRecord, error) {
	out := make([]api.HistoryRecord, 0, len(entries))
	for _, entry := range entries {
		record := api.HistoryRecord{
			Id:        entry.Id,
			Prompt:    entry.Prompt,
			Fields:    entry.Fields,
			Output:    entry.Output,
			CreatedAt: entry.CreatedAt,
		}
		if entry.StorageKey != "" {
			url, err := s.images.SignURL(ctx, entry.StorageKey)
			if err != nil {
				return nil, err
			}
			record.ImageUrl = url
		}
		out = append(out, record)
	}
	return out, nil
}
