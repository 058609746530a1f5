package plush

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"plushify_back/authorization"
)

func (m *Module) handleListGallery(c *gin.Context) {
	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx := c.Request.Context()

	if records, ok := m.cache.get(ctx, userID); ok {
		c.JSON(http.StatusOK, records)
		return
	}

	records := make([]GenerationRecord, 0)
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load gallery", "details": err.Error()})
		return
	}

	m.cache.set(ctx, userID, records)

	c.JSON(http.StatusOK, records)
}

func (m *Module) handleDeleteRecord(c *gin.Context) {
	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx := c.Request.Context()
	recordID := c.Param("id")

	record, err := m.findOwnedRecord(c, recordID, userID)
	if err != nil {
		return
	}

	// Blob removal is best effort; a failed delete never blocks dropping
	// the row.
	if m.store != nil {
		if err := m.store.Remove(ctx, record.OriginalImageURL); err != nil {
			log.Printf("plush: remove original blob for record %s: %v", record.ID, err)
		}
		if err := m.store.Remove(ctx, record.GeneratedImageURL); err != nil {
			log.Printf("plush: remove generated blob for record %s: %v", record.ID, err)
		}
	}

	if err := m.db.WithContext(ctx).Delete(&GenerationRecord{}, "id = ?", record.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete record", "details": err.Error()})
		return
	}

	m.cache.invalidate(ctx, userID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type favoriteRequest struct {
	IsFavorite *bool `json:"isFavorite"`
}

func (m *Module) handleSetFavorite(c *gin.Context) {
	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsFavorite == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isFavorite is required"})
		return
	}

	ctx := c.Request.Context()

	record, err := m.findOwnedRecord(c, c.Param("id"), userID)
	if err != nil {
		return
	}

	err = m.db.WithContext(ctx).
		Model(&GenerationRecord{}).
		Where("id = ?", record.ID).
		Update("is_favorite", *req.IsFavorite).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update favorite", "details": err.Error()})
		return
	}

	m.cache.invalidate(ctx, userID)

	record.IsFavorite = *req.IsFavorite
	c.JSON(http.StatusOK, record)
}

// findOwnedRecord loads the record and enforces ownership. It writes the
// error response itself; callers bail out when err is non-nil.
func (m *Module) findOwnedRecord(c *gin.Context, recordID string, userID uint) (*GenerationRecord, error) {
	var record GenerationRecord
	err := m.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", recordID, userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load record", "details": err.Error()})
		}
		return nil, err
	}
	return &record, nil
}
