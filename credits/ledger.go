package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"plushify_back/authorization"
)

// ErrInsufficientCredits is returned when a reserve finds no credit left.
var ErrInsufficientCredits = errors.New("credits: insufficient credits")

// Ledger is the single source of truth for a user's remaining generation
// allowance, backed by the credits column on the users table.
type Ledger struct {
	db *gorm.DB
}

// NewLedger wraps the given database handle.
func NewLedger(db *gorm.DB) *Ledger {
	if db == nil {
		return nil
	}
	return &Ledger{db: db}
}

// Get returns the user's current balance. Users without a row fall back to
// the default starting grant.
func (l *Ledger) Get(ctx context.Context, userID uint) (int, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("credits: ledger not initialized")
	}

	var user authorization.User
	err := l.db.WithContext(ctx).Select("id", "credits").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authorization.DefaultCreditGrant, nil
		}
		return 0, fmt.Errorf("credits: load balance: %w", err)
	}
	if user.Credits < 0 {
		return 0, nil
	}
	return user.Credits, nil
}

// Reserve atomically consumes one credit. The conditional update is the
// gate: zero rows affected means the balance was already zero, so two
// concurrent requests can never spend the same credit twice.
func (l *Ledger) Reserve(ctx context.Context, userID uint) (int, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("credits: ledger not initialized")
	}

	var remaining int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&authorization.User{}).
			Where("id = ? AND credits > 0", userID).
			UpdateColumn("credits", gorm.Expr("credits - 1"))
		if result.Error != nil {
			return fmt.Errorf("credits: reserve: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInsufficientCredits
		}

		var user authorization.User
		if err := tx.Select("id", "credits").Where("id = ?", userID).First(&user).Error; err != nil {
			return fmt.Errorf("credits: reload balance: %w", err)
		}
		remaining = user.Credits

		return tx.Create(&CreditTransaction{
			ID:      uuid.NewString(),
			UserID:  userID,
			Kind:    KindGeneration,
			Amount:  -1,
			Balance: remaining,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Refund returns one previously reserved credit after a failed generation.
func (l *Ledger) Refund(ctx context.Context, userID uint, note string) (int, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("credits: ledger not initialized")
	}

	var remaining int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&authorization.User{}).
			Where("id = ?", userID).
			UpdateColumn("credits", gorm.Expr("credits + 1"))
		if result.Error != nil {
			return fmt.Errorf("credits: refund: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var user authorization.User
		if err := tx.Select("id", "credits").Where("id = ?", userID).First(&user).Error; err != nil {
			return fmt.Errorf("credits: reload balance: %w", err)
		}
		remaining = user.Credits

		entry := &CreditTransaction{
			ID:      uuid.NewString(),
			UserID:  userID,
			Kind:    KindRefund,
			Amount:  1,
			Balance: remaining,
		}
		if trimmed := note; trimmed != "" {
			entry.Note = &trimmed
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Set overwrites the balance. value must already be validated as a
// non-negative number by the caller.
func (l *Ledger) Set(ctx context.Context, userID uint, value int) (int, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("credits: ledger not initialized")
	}
	if value < 0 {
		return 0, fmt.Errorf("credits: negative balance %d", value)
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&authorization.User{}).
			Where("id = ?", userID).
			UpdateColumn("credits", value)
		if result.Error != nil {
			return fmt.Errorf("credits: set balance: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Create(&CreditTransaction{
			ID:      uuid.NewString(),
			UserID:  userID,
			Kind:    KindSet,
			Amount:  value,
			Balance: value,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// History returns the most recent audit rows for a user, newest first.
func (l *Ledger) History(ctx context.Context, userID uint, limit int) ([]CreditTransaction, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("credits: ledger not initialized")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var entries []CreditTransaction
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("credits: load history: %w", err)
	}
	return entries, nil
}
