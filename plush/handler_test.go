package plush

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"plushify_back/authorization"
	"plushify_back/credits"
)

type fakeBlobStore struct {
	uploads     []string
	removed     []string
	failUploads bool
}

func (f *fakeBlobStore) UploadFile(ctx context.Context, fileHeader *multipart.FileHeader, pathSegments ...string) (string, error) {
	return f.UploadBytes(ctx, nil, "image/png", pathSegments...)
}

func (f *fakeBlobStore) UploadBytes(ctx context.Context, data []byte, contentType string, pathSegments ...string) (string, error) {
	if f.failUploads {
		return "", errors.New("blob store unavailable")
	}
	url := fmt.Sprintf("https://blobs.test/%s/%d.png", strings.Join(pathSegments, "/"), len(f.uploads))
	f.uploads = append(f.uploads, url)
	return url, nil
}

func (f *fakeBlobStore) Remove(ctx context.Context, imageURL string) error {
	f.removed = append(f.removed, imageURL)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "plushify.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&authorization.User{}, &credits.CreditTransaction{}, &GenerationRecord{}))
	return db
}

func createUser(t *testing.T, db *gorm.DB, username string, balance int) uint {
	t.Helper()
	user := authorization.User{Username: username, PasswordHash: "x", Credits: balance}
	require.NoError(t, db.Create(&user).Error)
	return user.ID
}

// sourceServer serves the bytes the generate handler fetches for imageUrl.
func sourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	t.Cleanup(server.Close)
	return server
}

// upstreamServer fakes the transformation API with a data-URL reply.
func upstreamServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString(pngBytes)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"model exploded"}}`)
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,%s"}}]}}]}`, encoded)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestModule(t *testing.T, db *gorm.DB, upstream *httptest.Server) (*Module, *fakeBlobStore) {
	t.Helper()
	store := &fakeBlobStore{}
	module := &Module{
		db:     db,
		store:  store,
		ledger: credits.NewLedger(db),
		client: NewTransformClient(TransformOptions{
			BaseURL:    upstream.URL,
			APIKey:     "test-key",
			HTTPClient: upstream.Client(),
		}),
		httpClient: http.DefaultClient,
	}
	return module, store
}

func authAs(userID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != 0 {
			c.Set("JWT_PAYLOAD", jwt.MapClaims{"user_id": float64(userID)})
		}
		c.Next()
	}
}

func newTestRouter(m *Module, userID uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/upload-image", m.handleUploadImage)
	secured := router.Group("/api", authAs(userID))
	secured.POST("/generate-plush", m.handleGeneratePlush)
	secured.GET("/gallery", m.handleListGallery)
	secured.DELETE("/gallery/:id", m.handleDeleteRecord)
	secured.PATCH("/gallery/:id/favorite", m.handleSetFavorite)
	return router
}

func postGenerate(t *testing.T, router *gin.Engine, payload string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate-plush", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return recorder, body
}

func userCredits(t *testing.T, db *gorm.DB, userID uint) int {
	t.Helper()
	var user authorization.User
	require.NoError(t, db.First(&user, userID).Error)
	return user.Credits
}

func recordCount(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&GenerationRecord{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func TestGeneratePlushSuccess(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "alice", 5)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)
	source := sourceServer(t)

	recorder, body := postGenerate(t, router, fmt.Sprintf(`{"imageUrl":%q,"style":"classic-teddy"}`, source.URL+"/src.png"))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "classic-teddy", body["style"])
	assert.Contains(t, body["originalImageUrl"], "originals")
	assert.Contains(t, body["generatedImageUrl"], "generated")
	assert.Equal(t, float64(4), body["creditsRemaining"])

	assert.Equal(t, 4, userCredits(t, db, userID))
	assert.EqualValues(t, 1, recordCount(t, db, userID))
	assert.Len(t, store.uploads, 2)

	var audit []credits.CreditTransaction
	require.NoError(t, db.Where("user_id = ?", userID).Find(&audit).Error)
	require.Len(t, audit, 1)
	assert.Equal(t, credits.KindGeneration, audit[0].Kind)
	assert.Equal(t, 4, audit[0].Balance)
}

func TestGeneratePlushInsufficientCredits(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "broke", 0)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)
	source := sourceServer(t)

	recorder, body := postGenerate(t, router, fmt.Sprintf(`{"imageUrl":%q,"style":"mini"}`, source.URL+"/src.png"))

	require.Equal(t, http.StatusPaymentRequired, recorder.Code)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, 0, userCredits(t, db, userID))
	assert.EqualValues(t, 0, recordCount(t, db, userID))
	assert.Empty(t, store.uploads)
}

func TestGeneratePlushValidation(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "val", 5)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)

	cases := []struct {
		name    string
		payload string
	}{
		{"missing imageUrl", `{"style":"mini"}`},
		{"blank imageUrl", `{"imageUrl":"  ","style":"mini"}`},
		{"missing style", `{"imageUrl":"https://x.test/a.png"}`},
		{"unknown style", `{"imageUrl":"https://x.test/a.png","style":"steampunk"}`},
		{"unknown quality", `{"imageUrl":"https://x.test/a.png","style":"mini","quality":"max"}`},
	}

	for _, tc := range cases {
		recorder, body := postGenerate(t, router, tc.payload)
		require.Equal(t, http.StatusBadRequest, recorder.Code, tc.name)
		assert.NotEmpty(t, body["error"], tc.name)
	}

	assert.Equal(t, 5, userCredits(t, db, userID))
	assert.EqualValues(t, 0, recordCount(t, db, userID))
	assert.Empty(t, store.uploads)
}

func TestGeneratePlushUnauthorized(t *testing.T) {
	db := newTestDB(t)
	module, _ := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, 0)

	recorder, body := postGenerate(t, router, `{"imageUrl":"https://x.test/a.png","style":"mini"}`)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "Unauthorized", body["error"])
}

func TestGeneratePlushUpstreamFailureLeavesStateUntouched(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "unlucky", 3)
	module, _ := newTestModule(t, db, upstreamServer(t, http.StatusInternalServerError))
	router := newTestRouter(module, userID)
	source := sourceServer(t)

	recorder, body := postGenerate(t, router, fmt.Sprintf(`{"imageUrl":%q,"style":"cartoon"}`, source.URL+"/src.png"))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, "Failed to generate image", body["error"])
	assert.Contains(t, body["details"], "model exploded")

	assert.Equal(t, 3, userCredits(t, db, userID))
	assert.EqualValues(t, 0, recordCount(t, db, userID))
}

func TestGeneratePlushBackToBackDrainsCredits(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "pair", 2)
	module, _ := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)
	source := sourceServer(t)
	payload := fmt.Sprintf(`{"imageUrl":%q,"style":"realistic"}`, source.URL+"/src.png")

	recorder, body := postGenerate(t, router, payload)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), body["creditsRemaining"])

	recorder, body = postGenerate(t, router, payload)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(0), body["creditsRemaining"])

	recorder, _ = postGenerate(t, router, payload)
	require.Equal(t, http.StatusPaymentRequired, recorder.Code)

	assert.Equal(t, 0, userCredits(t, db, userID))
	assert.EqualValues(t, 2, recordCount(t, db, userID))
}

func seedRecord(t *testing.T, db *gorm.DB, userID uint, createdAt time.Time) GenerationRecord {
	t.Helper()
	record := GenerationRecord{
		ID:                uuid.NewString(),
		UserID:            userID,
		OriginalImageURL:  "https://blobs.test/orig-" + uuid.NewString()[:8],
		GeneratedImageURL: "https://blobs.test/gen-" + uuid.NewString()[:8],
		Style:             StyleMini,
		CreatedAt:         createdAt,
	}
	require.NoError(t, db.Create(&record).Error)
	return record
}

func TestGalleryListsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "collector", 5)
	otherID := createUser(t, db, "stranger", 5)
	module, _ := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)

	older := seedRecord(t, db, userID, time.Now().UTC().Add(-time.Hour))
	newer := seedRecord(t, db, userID, time.Now().UTC())
	seedRecord(t, db, otherID, time.Now().UTC())

	req := httptest.NewRequest(http.MethodGet, "/api/gallery", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	var listed []GenerationRecord
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, newer.ID, listed[0].ID)
	assert.Equal(t, older.ID, listed[1].ID)
}

func TestDeleteRecordEnforcesOwnership(t *testing.T) {
	db := newTestDB(t)
	ownerID := createUser(t, db, "owner", 5)
	intruderID := createUser(t, db, "intruder", 5)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))

	record := seedRecord(t, db, ownerID, time.Now().UTC())

	intruderRouter := newTestRouter(module, intruderID)
	req := httptest.NewRequest(http.MethodDelete, "/api/gallery/"+record.ID, nil)
	recorder := httptest.NewRecorder()
	intruderRouter.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "Not found")
	assert.EqualValues(t, 1, recordCount(t, db, ownerID))

	ownerRouter := newTestRouter(module, ownerID)
	req = httptest.NewRequest(http.MethodDelete, "/api/gallery/"+record.ID, nil)
	recorder = httptest.NewRecorder()
	ownerRouter.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "true")
	assert.EqualValues(t, 0, recordCount(t, db, ownerID))
	assert.Len(t, store.removed, 2)
}

func TestSetFavoritePersists(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "fav", 5)
	module, _ := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)

	record := seedRecord(t, db, userID, time.Now().UTC())

	req := httptest.NewRequest(http.MethodPatch, "/api/gallery/"+record.ID+"/favorite", strings.NewReader(`{"isFavorite":true}`))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var stored GenerationRecord
	require.NoError(t, db.First(&stored, "id = ?", record.ID).Error)
	assert.True(t, stored.IsFavorite)

	// Missing flag is a 400, not a silent no-op.
	req = httptest.NewRequest(http.MethodPatch, "/api/gallery/"+record.ID+"/favorite", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUploadImageEndpoint(t *testing.T) {
	db := newTestDB(t)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, 0)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-image", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	var result map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.NotEmpty(t, result["url"])
	assert.NotEmpty(t, result["pathname"])
	assert.Len(t, store.uploads, 1)

	// No file part at all is a 400.
	req = httptest.NewRequest(http.MethodPost, "/api/upload-image", nil)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGeneratePlushBlobFailureRefunds(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "storageless", 2)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	store.failUploads = true
	router := newTestRouter(module, userID)
	source := sourceServer(t)

	recorder, body := postGenerate(t, router, fmt.Sprintf(`{"imageUrl":%q,"style":"mini"}`, source.URL+"/src.png"))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, 2, userCredits(t, db, userID))
	assert.EqualValues(t, 0, recordCount(t, db, userID))
}

func TestGeneratePlushRelativeImageURL(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "relative", 3)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)
	source := sourceServer(t)
	t.Setenv("APP_BASE_URL", source.URL)

	recorder, body := postGenerate(t, router, `{"imageUrl":"/src.png","style":"cartoon"}`)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, float64(2), body["creditsRemaining"])
	assert.Len(t, store.uploads, 2)
	assert.EqualValues(t, 1, recordCount(t, db, userID))
}

func TestGeneratePlushRelativeImageURLWithoutBase(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "nobase", 3)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)
	t.Setenv("APP_BASE_URL", "")

	recorder, body := postGenerate(t, router, `{"imageUrl":"/src.png","style":"cartoon"}`)

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Contains(t, body["details"], "APP_BASE_URL")
	assert.Equal(t, 3, userCredits(t, db, userID))
	assert.EqualValues(t, 0, recordCount(t, db, userID))
	assert.Empty(t, store.uploads)
}

func TestGeneratePlushDataImageURL(t *testing.T) {
	db := newTestDB(t)
	userID := createUser(t, db, "inline", 3)
	module, store := newTestModule(t, db, upstreamServer(t, http.StatusOK))
	router := newTestRouter(module, userID)

	payload := fmt.Sprintf(`{"imageUrl":"data:image/png;base64,%s","style":"realistic"}`,
		base64.StdEncoding.EncodeToString(pngBytes))
	recorder, body := postGenerate(t, router, payload)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, float64(2), body["creditsRemaining"])
	assert.Len(t, store.uploads, 2)
	assert.EqualValues(t, 1, recordCount(t, db, userID))
}
