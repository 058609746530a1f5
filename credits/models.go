package credits

import (
	"time"
)

// Transaction kinds recorded by the ledger.
const (
	KindGeneration = "generation"
	KindRefund     = "refund"
	KindSet        = "set"
)

// CreditTransaction is an audit row written alongside every balance change.
// The balance truth stays on the users table; these rows only explain it.
type CreditTransaction struct {
	ID        string  `gorm:"primaryKey;size:36"`
	UserID    uint    `gorm:"index;not null"`
	Kind      string  `gorm:"size:32;not null"`
	Amount    int     `gorm:"not null"`
	Balance   int     `gorm:"not null"`
	RecordID  *string `gorm:"size:36"`
	Note      *string `gorm:"size:255"`
	CreatedAt time.Time
}

// TableName keeps the audit table clearly scoped.
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
