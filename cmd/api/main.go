package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/handlers"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
	authService := services.NewAuthService(db, cfg)
	userService := services.NewUserService(db)
	storageService := services.NewStorageService(cfg)
	imageService := services.NewImageService(db, cfg, storageService)

	if cfg.CaptionEnabled() {
		imageService.AttachCaptionService(services.NewCaptionService(cfg))
		log.Println("Caption generation enabled")
	}

	if cfg.S3MirrorEnabled() {
		s3Service, err := services.NewS3Service(cfg)
		if err != nil {
			log.Fatalf("Failed to init S3 mirror: %v", err)
		}
		imageService.AttachMirror(s3Service)
		log.Printf("S3 mirror enabled for bucket %s", cfg.S3Bucket)
	}

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	imageHandler := handlers.NewImageHandler(imageService, storageService)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Setup routes
	api := router.Group("/api")
	{
		// Catch-all OPTIONS handler for CORS preflight requests
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", middleware.Auth(authService), authHandler.Logout)
		}

		// User routes
		user := api.Group("/user")
		user.Use(middleware.Auth(authService))
		{
			user.GET("/profile", userHandler.GetProfile)
			user.PUT("/profile", userHandler.UpdateProfile)
		}

		// Image routes
		images := api.Group("/images")
		images.Use(middleware.Auth(authService))
		{
			images.POST("", middleware.UploadRateLimit(redisClient, cfg), imageHandler.Upload)

			// Collection views
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

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
