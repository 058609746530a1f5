package plush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"plushify_back/authorization"
	"plushify_back/cache"
	"plushify_back/credits"
	filestore "plushify_back/storage"
)

// BlobStore is the subset of the object storage client the generation
// pipeline needs.
type BlobStore interface {
	UploadFile(ctx context.Context, fileHeader *multipart.FileHeader, pathSegments ...string) (string, error)
	UploadBytes(ctx context.Context, data []byte, contentType string, pathSegments ...string) (string, error)
	Remove(ctx context.Context, imageURL string) error
}

type Module struct {
	db         *gorm.DB
	store      BlobStore
	client     *TransformClient
	ledger     *credits.Ledger
	cache      *galleryCache
	httpClient *http.Client
}

func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&GenerationRecord{}); err != nil {
		return nil, fmt.Errorf("plush: migrate generation records: %w", err)
	}

	imageStore, err := filestore.NewImageStoreFromEnv()
	if err != nil {
		return nil, fmt.Errorf("plush: init image store: %w", err)
	}

	client, err := NewTransformClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("plush: init transform client: %w", err)
	}

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		log.Printf("plush: redis unavailable, gallery cache disabled: %v", err)
	}

	module := &Module{
		db:         db,
		client:     client,
		ledger:     credits.NewLedger(db),
		cache:      newGalleryCache(redisClient),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if imageStore != nil {
		module.store = imageStore
	}

	router.POST("/api/upload-image", module.handleUploadImage)

	secured := router.Group("/api")
	secured.Use(guard.RequireAuthenticated())
	{
		secured.POST("/generate-plush", module.handleGeneratePlush)
		secured.GET("/gallery", module.handleListGallery)
		secured.DELETE("/gallery/:id", module.handleDeleteRecord)
		secured.PATCH("/gallery/:id/favorite", module.handleSetFavorite)
	}

	return module, nil
}

func (m *Module) handleUploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	if m.store == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image storage is not configured"})
		return
	}

	publicURL, err := m.store.UploadFile(c.Request.Context(), fileHeader, "uploads")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload image", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":      publicURL,
		"pathname": pathnameFromURL(publicURL),
	})
}

type generateRequest struct {
	ImageURL string `json:"imageUrl"`
	Style    string `json:"style"`
	Quality  string `json:"quality"`
}

func (m *Module) handleGeneratePlush(c *gin.Context) {
	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()

	balance, err := m.ledger.Get(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read credit balance", "details": err.Error()})
		return
	}
	if balance <= 0 {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
		return
	}

	if strings.TrimSpace(req.ImageURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageUrl is required"})
		return
	}
	if !IsValidStyle(req.Style) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid style. Must be one of: " + strings.Join(StyleNames(), ", ")})
		return
	}
	if req.Quality != "" && !IsValidQuality(req.Quality) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quality. Must be one of: " + strings.Join(QualityNames(), ", ")})
		return
	}
	if !m.client.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Image generation API key not configured. Please set IMAGEGEN_API_KEY environment variable."})
		return
	}
	if m.store == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image storage is not configured"})
		return
	}

	srcData, srcType, err := m.fetchSourceImage(ctx, req.ImageURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch source image", "details": err.Error()})
		return
	}

	userSegment := strconv.FormatUint(uint64(userID), 10)
	originalURL, err := m.store.UploadBytes(ctx, srcData, srcType, "users", userSegment, "originals")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store source image", "details": err.Error()})
		return
	}

	// The credit is taken with a conditional decrement before calling the
	// provider and returned on any later failure, so a failed generation
	// never changes the observable balance.
	remaining, err := m.ledger.Reserve(ctx, userID)
	if err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reserve credit", "details": err.Error()})
		return
	}

	generated, err := m.client.Transform(ctx, encodeDataURL(srcData, srcType), buildPrompt(req.Style))
	if err != nil {
		m.refund(ctx, userID, "generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate image", "details": err.Error()})
		return
	}

	generatedURL, err := m.store.UploadBytes(ctx, generated.Data, generated.ContentType, "users", userSegment, "generated")
	if err != nil {
		m.refund(ctx, userID, "generated image upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store generated image", "details": err.Error()})
		return
	}

	record := GenerationRecord{
		ID:                uuid.NewString(),
		UserID:            userID,
		OriginalImageURL:  originalURL,
		GeneratedImageURL: generatedURL,
		Style:             req.Style,
		ProviderMeta:      m.providerMeta(req.Quality),
	}
	if err := m.db.WithContext(ctx).Create(&record).Error; err != nil {
		m.refund(ctx, userID, "record insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save generation record", "details": err.Error()})
		return
	}

	m.cache.invalidate(ctx, userID)

	c.JSON(http.StatusOK, gin.H{
		"id":                record.ID,
		"originalImageUrl":  record.OriginalImageURL,
		"generatedImageUrl": record.GeneratedImageURL,
		"style":             record.Style,
		"createdAt":         record.CreatedAt,
		"creditsRemaining":  remaining,
	})
}

func (m *Module) refund(ctx context.Context, userID uint, note string) {
	if _, err := m.ledger.Refund(ctx, userID, note); err != nil {
		log.Printf("plush: refund credit for user %d: %v", userID, err)
	}
}

func (m *Module) providerMeta(quality string) datatypes.JSON {
	meta := fmt.Sprintf(`{"model":%s,"quality":%s}`,
		strconv.Quote(m.client.Model()), strconv.Quote(quality))
	return datatypes.JSON(meta)
}

// fetchSourceImage loads the bytes behind the client-supplied image URL.
// Relative URLs are resolved against APP_BASE_URL; data URLs are decoded
// in place.
func (m *Module) fetchSourceImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	if strings.HasPrefix(rawURL, "data:") {
		decoded, err := decodeDataURL(rawURL)
		if err != nil {
			return nil, "", err
		}
		return decoded.Data, decoded.ContentType, nil
	}

	resolved := rawURL
	if strings.HasPrefix(rawURL, "/") {
		base := strings.TrimRight(os.Getenv("APP_BASE_URL"), "/")
		if base == "" {
			return nil, "", fmt.Errorf("relative imageUrl requires APP_BASE_URL to be set")
		}
		resolved = base + rawURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build source image request: %w", err)
	}

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("fetch source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch source image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read source image: %w", err)
	}
	if int64(len(data)) > maxImageFetchBytes {
		return nil, "", fmt.Errorf("source image exceeds %d bytes", maxImageFetchBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}

func pathnameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Path
}
