package api

import (
	"time"

	"github.com/google/uuid"
)

const (
	FieldTypeString = "string"
	FieldTypeNumber = "number"
)

// FieldDefinition is one named, typed slot the model's answer must populate.
// Type is restricted to "string" or "number".
type FieldDefinition struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type PromptRequest struct {
	Prompt  string            `json:"prompt"`
	Fields  []FieldDefinition `json:"fields"`
	ImageId *uuid.UUID        `json:"imageId,omitempty"`
}

type PromptResponse struct {
	Output    any        `json:"output"`
	Prompt    string     `json:"prompt"`
	ImageId   *uuid.UUID `json:"imageId,omitempty"`
	HistoryId uuid.UUID  `json:"historyId"`
}

type HistoryRecord struct {
	Id        uuid.UUID         `json:"id"`
	Prompt    string            `json:"prompt"`
	ImageUrl  string            `json:"imageUrl,omitempty"`
	Fields    []FieldDefinition `json:"fields"`
	Output    any               `json:"output"`
	CreatedAt time.Time         `json:"createdAt"`
}

type HistoryQuery struct {
	Page int `schema:"page"`
	Size int `schema:"size"`
}

type ImageUploadResponse struct {
	ImageId   uuid.UUID `json:"imageId"`
	ImageUrl  string    `json:"imageUrl"`
	Filename  string    `json:"filename"`
	Duplicate bool      `json:"duplicate"`
	Message   string    `json:"message"`
}

type PresignedUrlResponse struct {
	ImageId          uuid.UUID `json:"imageId"`
	Url              string    `json:"url"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	ExpiresInSeconds int       `json:"expiresInSeconds"`
}
