package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID        string `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	Author    string `gorm:"not null"`
	Publisher string
	Year      int
	CoverKey  string
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time
}

type CopyModel struct {
	SerialNum  string    `gorm:"primaryKey"`
	BookID     string    `gorm:"not null;index"`
	Status     string    `gorm:"not null;index"`
	AccessType string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type RequestModel struct {
	ID        string    `gorm:"primaryKey"`
	ReaderID  string    `gorm:"not null;index"`
	BookID    string    `gorm:"not null;index"`
	Status    string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type LoanModel struct {
	ID         string    `gorm:"primaryKey"`
	ReaderID   string    `gorm:"not null;index"`
	CopySerial string    `gorm:"not null;index"`
	IssueDate  time.Time `gorm:"not null"`
	DueDate    time.Time `gorm:"not null;index"`
	ReturnDate *time.Time
}

type ReaderModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	Verified     bool
	CreatedAt    time.Time `gorm:"not null"`
}
