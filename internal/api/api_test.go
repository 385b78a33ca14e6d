package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "widgera-backend/internal/api"
	"widgera-backend/internal/database"
	"widgera-backend/internal/gemini"
	"widgera-backend/internal/images"
	"widgera-backend/internal/prompt"
	"widgera-backend/internal/storage"
	"widgera-backend/internal/users"
	"widgera-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testSecret = []byte("test-secret")

type fakeGenerator struct {
	output map[string]any
	err    error
}

func (f *fakeGenerator) Generate(ctx context.Context, promptText string, fields []api.FieldDefinition, image []byte) (*gemini.StructuredOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	output := gemini.NewStructuredOutput()
	for _, field := range fields {
		output.Set(field.Name, f.output[field.Name])
	}
	return output, nil
}

func createRouter(t *testing.T, generator gemini.Generator, maxUploadBytes int64) chi.Router {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background()))

	imageSvc := images.NewService(db, store)
	userSvc := users.NewService(db, testSecret, time.Hour)
	promptSvc := prompt.NewService(db, generator, imageSvc)

	service := backend.NewBackendService(userSvc, imageSvc, promptSvc, testSecret, maxUploadBytes)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func doJSON(t *testing.T, router chi.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, router chi.Router, username string) string {
	rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", api.RegisterRequest{
		Username:        username,
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.AuthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func uploadImage(t *testing.T, router chi.Router, token, filename string, data []byte) api.ImageUploadResponse {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.ImageUploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestAuthEndpoints(t *testing.T) {
	router := createRouter(t, &fakeGenerator{}, 1024*1024)

	registerUser(t, router, "alice")

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", api.RegisterRequest{
			Username: "alice", Password: "x", ConfirmPassword: "x",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "User Already Exists", body["error"])
		assert.NotEmpty(t, body["timestamp"])
	})

	t.Run("password mismatch", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", api.RegisterRequest{
			Username: "bob", Password: "one", ConfirmPassword: "two",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields fail validation", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", api.RegisterRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "Validation Failed", body["error"])
		assert.Contains(t, body["errors"], "username")
	})

	t.Run("login succeeds", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", api.AuthRequest{
			Username: "alice", Password: "hunter22",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bad credentials are generic", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", api.AuthRequest{
			Username: "alice", Password: "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "invalid username or password", body["message"])
	})
}

func TestEndpointsRequireAuth(t *testing.T) {
	router := createRouter(t, &fakeGenerator{}, 1024*1024)

	for _, path := range []string{"/api/prompt/history", "/api/prompt/history/all", "/api/images/"} {
		rec := doJSON(t, router, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/prompt/", "", api.PromptRequest{Prompt: "p"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPromptFlow(t *testing.T) {
	generator := &fakeGenerator{output: map[string]any{"color": "red", "count": 3.0}}
	router := createRouter(t, generator, 1024*1024)
	token := registerUser(t, router, "alice")

	upload := uploadImage(t, router, token, "widget.jpg", []byte{0xff, 0xd8, 0x01})
	assert.False(t, upload.Duplicate)
	assert.NotEmpty(t, upload.ImageUrl)

	request := api.PromptRequest{
		Prompt: "describe the widget",
		Fields: []api.FieldDefinition{
			{Name: "color", Type: api.FieldTypeString},
			{Name: "count", Type: api.FieldTypeNumber},
		},
		ImageId: &upload.ImageId,
	}

	rec := doJSON(t, router, http.MethodPost, "/api/prompt/", token, request)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// output keys are serialized in field declaration order
	raw := rec.Body.String()
	assert.Less(t, strings.Index(raw, `"color"`), strings.Index(raw, `"count"`))

	var resp api.PromptResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, "describe the widget", resp.Prompt)
	require.NotNil(t, resp.ImageId)
	assert.Equal(t, upload.ImageId, *resp.ImageId)

	rec = doJSON(t, router, http.MethodGet, "/api/prompt/history/all", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []api.HistoryRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, resp.HistoryId, history[0].Id)
	assert.NotEmpty(t, history[0].ImageUrl)
	assert.Equal(t, request.Fields, history[0].Fields)

	rec = doJSON(t, router, http.MethodGet, "/api/prompt/history?page=0&size=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	history = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	assert.Len(t, history, 1)
}

func TestPromptValidation(t *testing.T) {
	router := createRouter(t, &fakeGenerator{}, 1024*1024)
	token := registerUser(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/prompt/", token, api.PromptRequest{
		Fields: []api.FieldDefinition{{Name: "", Type: "boolean"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string            `json:"error"`
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Validation Failed", body.Error)
	assert.Contains(t, body.Errors, "prompt")
	assert.Contains(t, body.Errors, "fields[0].name")
	assert.Contains(t, body.Errors, "fields[0].type")
}

func TestPromptModelFailure(t *testing.T) {
	router := createRouter(t, &fakeGenerator{err: gemini.ErrModelService}, 1024*1024)
	token := registerUser(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/prompt/", token, api.PromptRequest{
		Prompt: "p",
		Fields: []api.FieldDefinition{{Name: "a", Type: api.FieldTypeString}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "LLM Service Error", body["error"])
}

func TestDuplicateUpload(t *testing.T) {
	router := createRouter(t, &fakeGenerator{}, 1024*1024)
	token := registerUser(t, router, "alice")

	data := []byte("same bytes either way")
	first := uploadImage(t, router, token, "a.png", data)
	second := uploadImage(t, router, token, "b.png", data)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ImageId, second.ImageId)
}

func TestUploadTooLarge(t *testing.T) {
	router := createRouter(t, &fakeGenerator{}, 64)
	token := registerUser(t, router, "alice")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "big.jpg")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0xab}, 4096))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestImageUrlEndpoint(t *testing.T) {
	router := createRouter(t, &fakeGenerator{}, 1024*1024)
	aliceToken := registerUser(t, router, "alice")
	bobToken := registerUser(t, router, "bob")

	upload := uploadImage(t, router, aliceToken, "a.jpg", []byte("alice image"))

	rec := doJSON(t, router, http.MethodGet, "/api/images/"+upload.ImageId.String()+"/url", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.PresignedUrlResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, upload.ImageId, resp.ImageId)
	assert.NotEmpty(t, resp.Url)
	assert.Equal(t, 3600, resp.ExpiresInSeconds)

	// another user cannot sign someone else's image
	rec = doJSON(t, router, http.MethodGet, "/api/images/"+upload.ImageId.String()+"/url", bobToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	router := createRouter(t, &fakeGenerator{}, 1024*1024)

	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
