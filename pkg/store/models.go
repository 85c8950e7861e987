package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID            string `gorm:"primaryKey"`
	Email         string `gorm:"uniqueIndex;not null"`
	Name          string `gorm:"not null"`
	PasswordHash  string `gorm:"not null"`
	Specialty     string
	Credentials   string
	LicenseNumber string
	Hospital      string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

type ConsultationModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"not null;index"`
	SpecialtyID string `gorm:"not null"`
	Title       string
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConsultationID string `gorm:"not null;index"`
	Role           string `gorm:"not null"`
	Content        string `gorm:"type:text;not null"`
	Attachments    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}
