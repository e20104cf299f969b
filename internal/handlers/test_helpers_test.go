package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/internal/services"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var handlerTestDBSeq atomic.Int64

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	auth   *services.AuthService
	images *services.ImageService
}

// newTestEnv wires the full HTTP stack against an in-memory database, with
// the same route layout the API binary registers.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:hatest_%d?mode=memory&cache=shared", handlerTestDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.New()
	cfg.UploadPath = t.TempDir()
	cfg.BcryptCost = 4
	cfg.CaptionAPIKey = ""

	storageService := services.NewStorageService(cfg)
	authService := services.NewAuthService(db, cfg)
	imageService := services.NewImageService(db, cfg, storageService)

	authHandler := NewAuthHandler(authService)
	userHandler := NewUserHandler(services.NewUserService(db))
	imageHandler := NewImageHandler(imageService, storageService)

	router := gin.New()
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", authHandler.Logout)
		}

		user := api.Group("/user")
		user.Use(middleware.Auth(authService))
		{
			user.GET("/profile", userHandler.GetProfile)
			user.PUT("/profile", userHandler.UpdateProfile)
		}

		images := api.Group("/images")
		images.Use(middleware.Auth(authService))
		{
			images.POST("", imageHandler.Upload)
			images.GET("/user", imageHandler.ListUploads)
			images.GET("/liked", imageHandler.ListLiked)
			images.GET("/collection", imageHandler.ListCollection)
			images.GET("/stats", imageHandler.Stats)
			images.GET("/:id", imageHandler.GetImage)
			images.GET("/:id/file", imageHandler.ServeFile)
			images.POST("/:id/like", imageHandler.ToggleLike)
			images.POST("/:id/caption", imageHandler.GenerateCaption)
			images.DELETE("/:id", imageHandler.Delete)
		}
	}

	return &testEnv{router: router, db: db, auth: authService, images: imageService}
}

// registerUser creates an account and returns its access token.
func (e *testEnv) registerUser(t *testing.T, username string) string {
	t.Helper()
	if _, err := e.auth.Register(username, username+"@example.com", "Sup3rSecret"); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	token, _, _, err := e.auth.Login(username, "Sup3rSecret")
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	contentType := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return e.do(t, method, path, token, body, contentType)
}

// uploadImage uploads a small GIF via multipart form and returns its id.
func (e *testEnv) uploadImage(t *testing.T, token, filename, description string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(testGIF()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if description != "" {
		if err := mw.WriteField("description", description); err != nil {
			t.Fatalf("write description field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	w := e.do(t, http.MethodPost, "/api/images", token, &buf, mw.FormDataContentType())
	if w.Code != http.StatusCreated {
		t.Fatalf("upload %s: status %d, body %s", filename, w.Code, w.Body.String())
	}

	var resp struct {
		Image ImageResponse `json:"image"`
	}
	decodeJSON(t, w, &resp)
	return resp.Image.ID
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func testGIF() []byte {
	return append([]byte("GIF89a"), make([]byte, 64)...)
}
