package plush

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Style tags form a closed set; each maps to a prompt descriptor in prompt.go.
const (
	StyleClassicTeddy = "classic-teddy"
	StyleModernCute   = "modern-cute"
	StyleCartoon      = "cartoon"
	StyleRealistic    = "realistic"
	StyleMini         = "mini"
)

// Quality tiers affect client-side expectations only; the persisted flow
// records the tier but sends a single fixed prompt regardless.
const (
	QualityStandard = "standard"
	QualityHigh     = "high"
	QualityUltra    = "ultra"
)

// IsValidStyle reports whether the tag belongs to the closed style set.
func IsValidStyle(style string) bool {
	_, ok := stylePrompts[strings.TrimSpace(style)]
	return ok
}

// StyleNames lists the valid style tags in catalog order.
func StyleNames() []string {
	return []string{StyleClassicTeddy, StyleModernCute, StyleCartoon, StyleRealistic, StyleMini}
}

// QualityNames lists the valid quality tiers.
func QualityNames() []string {
	return []string{QualityStandard, QualityHigh, QualityUltra}
}

// IsValidQuality reports whether the tag belongs to the closed quality set.
func IsValidQuality(quality string) bool {
	switch strings.TrimSpace(quality) {
	case QualityStandard, QualityHigh, QualityUltra:
		return true
	default:
		return false
	}
}

// GenerationRecord is one finished plush generation owned by a single user.
// Records are only ever readable and deletable by their owner.
type GenerationRecord struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	UserID            uint           `gorm:"index;not null" json:"userId"`
	OriginalImageURL  string         `gorm:"size:512;not null" json:"originalImageUrl"`
	GeneratedImageURL string         `gorm:"size:512;not null" json:"generatedImageUrl"`
	Style             string         `gorm:"size:32;not null" json:"style"`
	IsFavorite        bool           `gorm:"not null;default:false" json:"isFavorite"`
	ProviderMeta      datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedAt         time.Time      `json:"createdAt"`
}

func (GenerationRecord) TableName() string {
	return "generated_images"
}
