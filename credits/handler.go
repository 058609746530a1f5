package credits

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"plushify_back/authorization"
)

// Module exposes the credit endpoints under /api/user/credits.
type Module struct {
	ledger *Ledger
	mailer *creditRequestMailer
}

// RegisterRoutes mounts the credit ledger endpoints.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&CreditTransaction{}); err != nil {
		return nil, fmt.Errorf("credits: migrate models: %w", err)
	}

	module := &Module{ledger: NewLedger(db)}
	if mailer, err := newCreditRequestMailerFromEnv(); err == nil {
		module.mailer = mailer
	}

	group := router.Group("/api/user/credits")
	if guard != nil {
		group.Use(guard.RequireAuthenticated())
	} else {
		group.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization middleware missing"})
		})
	}
	group.GET("", module.handleGetCredits)
	group.PATCH("", module.handleSetCredits)
	group.GET("/history", module.handleHistory)
	group.POST("/request", module.handleRequestCredits)

	admin := router.Group("/api/admin/users")
	if guard != nil {
		admin.Use(guard.RequireAuthenticated(), guard.RequireRole("admin"))
	} else {
		admin.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization middleware missing"})
		})
	}
	admin.PATCH("/:id/credits", module.handleAdminSetCredits)

	return module, nil
}

// Ledger exposes the ledger for other modules.
func (m *Module) Ledger() *Ledger {
	if m == nil {
		return nil
	}
	return m.ledger
}

func (m *Module) handleGetCredits(c *gin.Context) {
	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	balance, err := m.ledger.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load credits"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credits": balance})
}

type setCreditsRequest struct {
	Credits *float64 `json:"credits"`
}

// bindCreditsValue parses and validates the credits payload. Fractional
// values are rejected rather than silently truncated.
func bindCreditsValue(c *gin.Context) (int, bool) {
	var req setCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Credits == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credits value. Must be a non-negative whole number."})
		return 0, false
	}

	value := *req.Credits
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value != math.Trunc(value) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credits value. Must be a non-negative whole number."})
		return 0, false
	}
	return int(value), true
}

func (m *Module) handleSetCredits(c *gin.Context) {
	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	value, ok := bindCreditsValue(c)
	if !ok {
		return
	}

	updated, err := m.ledger.Set(c.Request.Context(), userID, value)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update credits"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credits": updated})
}

// handleAdminSetCredits overwrites another user's balance. Reachable only
// through the admin role gate.
func (m *Module) handleAdminSetCredits(c *gin.Context) {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || targetID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	value, ok := bindCreditsValue(c)
	if !ok {
		return
	}

	updated, err := m.ledger.Set(c.Request.Context(), uint(targetID), value)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update credits"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": targetID, "credits": updated})
}

func (m *Module) handleHistory(c *gin.Context) {
	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	entries, err := m.ledger.History(c.Request.Context(), userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load credit history"})
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"id":         entry.ID,
			"kind":       entry.Kind,
			"amount":     entry.Amount,
			"balance":    entry.Balance,
			"created_at": entry.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

type requestCreditsPayload struct {
	Message string `json:"message"`
}

func (m *Module) handleRequestCredits(c *gin.Context) {
	if m.mailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credit requests are not configured"})
		return
	}

	userID := authorization.UserIDFromContext(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var payload requestCreditsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		payload.Message = ""
	}

	balance, err := m.ledger.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load credits"})
		return
	}

	if err := m.mailer.Send(userID, balance, payload.Message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send credit request", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}
