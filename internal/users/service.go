package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"widgera-backend/internal/auth"
	"widgera-backend/internal/database"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserAlreadyExists = errors.New("username already exists")
	ErrPasswordMismatch  = errors.New("passwords do not match")

	// ErrBadCredentials is deliberately generic so login errors cannot be
	// used to enumerate usernames.
	ErrBadCredentials = errors.New("invalid username or password")
)

type Service struct {
	db            *gorm.DB
	jwtSecret     []byte
	tokenValidity time.Duration
}

func NewService(db *gorm.DB, jwtSecret []byte, tokenValidity time.Duration) *Service {
	return &Service{db: db, jwtSecret: jwtSecret, tokenValidity: tokenValidity}
}

type AuthResult struct {
	Token    string
	Username string
}

func (s *Service) Register(ctx context.Context, username, password, confirmPassword string) (AuthResult, error) {
	slog.Info("registering new user", "username", username)

	if password != confirmPassword {
		return AuthResult{}, ErrPasswordMismatch
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&database.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return AuthResult{}, fmt.Errorf("error checking for existing user: %w", err)
	}
	if count > 0 {
		return AuthResult{}, fmt.Errorf("%w: %s", ErrUserAlreadyExists, username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("error hashing password: %w", err)
	}

	user := database.User{
		Id:           uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return AuthResult{}, fmt.Errorf("%w: %s", ErrUserAlreadyExists, username)
		}
		return AuthResult{}, fmt.Errorf("error creating user: %w", err)
	}

	token, err := auth.GenerateToken(user.Id, user.Username, s.jwtSecret, s.tokenValidity)
	if err != nil {
		return AuthResult{}, fmt.Errorf("error generating token: %w", err)
	}

	slog.Info("user registered", "username", username, "user_id", user.Id)
	return AuthResult{Token: token, Username: user.Username}, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (AuthResult, error) {
	var user database.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AuthResult{}, ErrBadCredentials
		}
		return AuthResult{}, fmt.Errorf("error looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, ErrBadCredentials
	}

	token, err := auth.GenerateToken(user.Id, user.Username, s.jwtSecret, s.tokenValidity)
	if err != nil {
		return AuthResult{}, fmt.Errorf("error generating token: %w", err)
	}

	slog.Info("user logged in", "username", username)
	return AuthResult{Token: token, Username: user.Username}, nil
}
