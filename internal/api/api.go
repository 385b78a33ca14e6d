package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"widgera-backend/internal/auth"
	"widgera-backend/internal/gemini"
	"widgera-backend/internal/images"
	"widgera-backend/internal/prompt"
	"widgera-backend/internal/users"
	"widgera-backend/pkg/api"

	"github.com/go-chi/chi/v5"
)

type BackendService struct {
	users          *users.Service
	images         *images.Service
	prompts        *prompt.Service
	jwtSecret      []byte
	maxUploadBytes int64
}

func NewBackendService(userSvc *users.Service, imageSvc *images.Service, promptSvc *prompt.Service, jwtSecret []byte, maxUploadBytes int64) *BackendService {
	return &BackendService{
		users:          userSvc,
		images:         imageSvc,
		prompts:        promptSvc,
		jwtSecret:      jwtSecret,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", RestHandler(s.Register))
			r.Post("/login", RestHandler(s.Login))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.jwtSecret))

			r.Route("/images", func(r chi.Router) {
				r.Post("/upload", RestHandler(s.UploadImage))
				r.Get("/", RestHandler(s.ListImages))
				r.Get("/{image_id}/url", RestHandler(s.GetImageUrl))
			})

			r.Route("/prompt", func(r chi.Router) {
				r.Post("/", RestHandler(s.SubmitPrompt))
				r.Get("/history", RestHandler(s.GetHistory))
				r.Get("/history/all", RestHandler(s.GetAllHistory))
			})
		})
	})
}

// serviceError translates the service layer's sentinel errors into coded
// HTTP errors with the response titles clients rely on.
func serviceError(err error) error {
	switch {
	case errors.Is(err, users.ErrPasswordMismatch):
		return TitledError(http.StatusBadRequest, "Password Mismatch", err)
	case errors.Is(err, users.ErrUserAlreadyExists):
		return TitledError(http.StatusConflict, "User Already Exists", err)
	case errors.Is(err, users.ErrBadCredentials):
		return TitledError(http.StatusUnauthorized, "Authentication Failed", errors.New("invalid username or password"))
	case errors.Is(err, images.ErrImageNotFound):
		return TitledError(http.StatusNotFound, "Image Not Found", err)
	case errors.Is(err, images.ErrImageProcessing):
		return TitledError(http.StatusInternalServerError, "Image Processing Error", err)
	case errors.Is(err, gemini.ErrModelService):
		return TitledError(http.StatusServiceUnavailable, "LLM Service Error", err)
	case errors.Is(err, prompt.ErrPersistence):
		return TitledError(http.StatusInternalServerError, "Persistence Error", err)
	default:
		return TitledError(http.StatusInternalServerError, "Internal Server Error", err)
	}
}

func (s *BackendService) Register(r *http.Request) (any, error) {
	req, err := ParseRequest[api.RegisterRequest](r)
	if err != nil {
		return nil, err
	}

	fieldErrors := make(map[string]string)
	if req.Username == "" {
		fieldErrors["username"] = "Username is required"
	}
	if req.Password == "" {
		fieldErrors["password"] = "Password is required"
	}
	if len(fieldErrors) > 0 {
		return nil, ValidationError(fieldErrors)
	}

	result, err := s.users.Register(r.Context(), req.Username, req.Password, req.ConfirmPassword)
	if err != nil {
		return nil, serviceError(err)
	}

	return api.AuthResponse{Token: result.Token, Username: result.Username, Message: "Registration successful"}, nil
}

func (s *BackendService) Login(r *http.Request) (any, error) {
	req, err := ParseRequest[api.AuthRequest](r)
	if err != nil {
		return nil, err
	}

	result, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		return nil, serviceError(err)
	}

	return api.AuthResponse{Token: result.Token, Username: result.Username, Message: "Login successful"}, nil
}

func (s *BackendService) UploadImage(r *http.Request) (any, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, TitledError(http.StatusRequestEntityTooLarge, "File Too Large",
				fmt.Errorf("maximum upload size is %d bytes", s.maxUploadBytes))
		}
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, ValidationError(map[string]string{"file": "Image file is required"})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, TitledError(http.StatusRequestEntityTooLarge, "File Too Large",
				fmt.Errorf("maximum upload size is %d bytes", s.maxUploadBytes))
		}
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file: %v", err)
	}

	userId := auth.UserId(r.Context())
	slog.Info("image upload request", "user_id", userId, "filename", header.Filename, "size", len(data))

	result, err := s.images.Upload(r.Context(), userId, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, serviceError(err)
	}

	// Presigned URL for immediate use; the stored record keeps the stable key.
	url, err := s.images.SignURL(r.Context(), result.Image.StorageKey)
	if err != nil {
		return nil, serviceError(err)
	}

	message := "Image uploaded successfully"
	if result.Duplicate {
		message = "Image already exists, returning existing URL"
	}

	return api.ImageUploadResponse{
		ImageId:   result.Image.Id,
		ImageUrl:  url,
		Filename:  header.Filename,
		Duplicate: result.Duplicate,
		Message:   message,
	}, nil
}

func (s *BackendService) ListImages(r *http.Request) (any, error) {
	userId := auth.UserId(r.Context())

	list, err := s.images.List(r.Context(), userId)
	if err != nil {
		return nil, serviceError(err)
	}

	responses := make([]api.PresignedUrlResponse, 0, len(list))
	for _, image := range list {
		url, err := s.images.SignURL(r.Context(), image.StorageKey)
		if err != nil {
			return nil, serviceError(err)
		}
		responses = append(responses, api.PresignedUrlResponse{
			ImageId:          image.Id,
			Url:              url,
			OriginalFilename: image.OriginalFilename,
			ExpiresInSeconds: 3600,
		})
	}

	return responses, nil
}

func (s *BackendService) GetImageUrl(r *http.Request) (any, error) {
	imageId, err := URLParamUUID(r, "image_id")
	if err != nil {
		return nil, err
	}

	userId := auth.UserId(r.Context())

	image, err := s.images.Resolve(r.Context(), userId, imageId)
	if err != nil {
		return nil, serviceError(err)
	}

	url, err := s.images.SignURL(r.Context(), image.StorageKey)
	if err != nil {
		return nil, serviceError(err)
	}

	return api.PresignedUrlResponse{ImageId: imageId, Url: url, ExpiresInSeconds: 3600}, nil
}

func (s *BackendService) SubmitPrompt(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PromptRequest](r)
	if err != nil {
		return nil, err
	}

	if fieldErrors := validatePromptRequest(req); len(fieldErrors) > 0 {
		return nil, ValidationError(fieldErrors)
	}

	userId := auth.UserId(r.Context())
	slog.Info("prompt submission", "user_id", userId)

	response, err := s.prompts.ProcessPrompt(r.Context(), userId, req)
	if err != nil {
		return nil, serviceError(err)
	}

	return response, nil
}

func validatePromptRequest(req api.PromptRequest) map[string]string {
	fieldErrors := make(map[string]string)
	if req.Prompt == "" {
		fieldErrors["prompt"] = "Prompt is required"
	}
	if len(req.Fields) == 0 {
		fieldErrors["fields"] = "At least one field definition is required"
	}
	for i, field := range req.Fields {
		if field.Name == "" {
			fieldErrors[fmt.Sprintf("fields[%d].name", i)] = "Field name is required"
		}
		if field.Type != api.FieldTypeString && field.Type != api.FieldTypeNumber {
			fieldErrors[fmt.Sprintf("fields[%d].type", i)] = "Field type must be 'string' or 'number'"
		}
	}
	return fieldErrors
}

func (s *BackendService) GetHistory(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[api.HistoryQuery](r)
	if err != nil {
		return nil, err
	}

	userId := auth.UserId(r.Context())

	history, err := s.prompts.GetHistory(r.Context(), userId, query.Page, query.Size)
	if err != nil {
		return nil, serviceError(err)
	}

	return history, nil
}

func (s *BackendService) GetAllHistory(r *http.Request) (any, error) {
	userId := auth.UserId(r.Context())

	history, err := s.prompts.GetAllHistory(r.Context(), userId)
	if err != nil {
		return nil, serviceError(err)
	}

	return history, nil
}
