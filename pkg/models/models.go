package models

import (
	"time"
)

const (
	StatusActive   = "Active"
	StatusReturned = "Returned"
)

// Column widths of the size-limited string fields.
const (
	MaxUserIDLen   = 80
	MaxCategoryLen = 80
)

type Book struct {
	ID          uint   `gorm:"primaryKey"`
	BookUid     string `gorm:"type:uuid;uniqueIndex;not null"`
	OwnerID     string `gorm:"size:80;not null;index"`
	Title       string `gorm:"not null"`
	Author      string
	Category    string `gorm:"size:80"`
	Description string
	CoverUrl    string
	MaxDuration int `gorm:"not null;default:0"` // days, 0 means no due date
	Stock       int `gorm:"not null;check:stock >= 0"`
	Total       int `gorm:"not null;check:total > 0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is one loan of one copy. Rows are never deleted while the
// book exists; they form the lending history.
type Transaction struct {
	ID             uint   `gorm:"primaryKey"`
	TransactionUid string `gorm:"type:uuid;uniqueIndex;not null"`
	BookID         uint   `gorm:"not null;index"`
	UserID         string `gorm:"size:80;not null;index"`
	Status         string `gorm:"size:20;not null;index"`
	IssueDate      time.Time
	DueDate        *time.Time
	ReturnDate     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Book Book `gorm:"foreignKey:BookID"`
}
