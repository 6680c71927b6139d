package stores

import (
	"strings"
	"time"
)

// Store is a retail location that submits compliance evidence.
type Store struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	Name      string    `gorm:"column:name;size:190;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing stores.
func (Store) TableName() string {
	return "stores"
}

// Credential holds the bcrypt hash of a store's login PIN.
type Credential struct {
	StoreID   string    `gorm:"column:store_id;primaryKey;size:64;not null"`
	PINHash   string    `gorm:"column:pin_hash;size:128;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing store credentials.
func (Credential) TableName() string {
	return "store_auth"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
