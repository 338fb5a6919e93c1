package deid

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// TokenRecord links a pseudonym back to the identifier it replaced.
type TokenRecord struct {
	Token     string    `gorm:"primaryKey;column:token" json:"token"`
	Parameter string    `gorm:"column:parameter" json:"parameter"`
	Value     string    `gorm:"column:value" json:"value"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (TokenRecord) TableName() string {
	return "mlife_token_vault"
}

type Vault struct {
	db *gorm.DB
}

func NewVault(db *gorm.DB) *Vault {
	return &Vault{db: db}
}

func (v *Vault) AutoMigrate() error {
	return v.db.AutoMigrate(&TokenRecord{})
}

// Save stores every pseudonym of a scrub summary. Existing tokens are
// overwritten; the salted hash makes them identical anyway.
func (v *Vault) Save(ctx context.Context, tokens []TokenRecord) error {
	if len(tokens) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range tokens {
		if tokens[i].CreatedAt.IsZero() {
			tokens[i].CreatedAt = now
		}
	}
	return v.db.WithContext(ctx).Save(&tokens).Error
}

func (v *Vault) Lookup(ctx context.Context, token string) (string, error) {
	var record TokenRecord
	if err := v.db.WithContext(ctx).First(&record, "token = ?", token).Error; err != nil {
		return "", err
	}
	return record.Value, nil
}
