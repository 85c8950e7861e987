package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"medportal/pkg/domain"
)

const migrateLockID int64 = 82418241

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ConsultationModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "password_hash", "specialty", "credentials", "license_number", "hospital", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveConsultation stores or updates a consultation record.
func (s *GormStore) SaveConsultation(c domain.Consultation) error {
	model := consultationToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "status", "updated_at"}),
	}).Create(&model).Error
}

// GetConsultation returns one consultation by ID.
func (s *GormStore) GetConsultation(id string) (domain.Consultation, bool, error) {
	var model ConsultationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Consultation{}, false, nil
		}
		return domain.Consultation{}, false, err
	}
	return consultationFromModel(model), true, nil
}

// ListConsultationsByUser returns latest consultations of a user.
func (s *GormStore) ListConsultationsByUser(userID string, limit int) ([]domain.Consultation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConsultationModel
	if err := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Consultation, 0, len(models))
	for _, model := range models {
		items = append(items, consultationFromModel(model))
	}
	return items, nil
}

// SetConsultationStatus updates the consultation status.
func (s *GormStore) SetConsultationStatus(id string, status domain.ConsultationStatus) error {
	return s.db.Model(&ConsultationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
}

// AppendMessage records a transcript message.
func (s *GormStore) AppendMessage(consultationID string, msg domain.ChatMessage) error {
	model := messageToModel(msg)
	model.ConsultationID = consultationID
	return s.db.Create(&model).Error
}

// ListMessages returns messages of a consultation in chronological order.
func (s *GormStore) ListMessages(consultationID string, limit int) ([]domain.ChatMessage, error) {
	query := s.db.Where("consultation_id = ?", consultationID).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		PasswordHash:  u.PasswordHash,
		Specialty:     u.Specialty,
		Credentials:   u.Credentials,
		LicenseNumber: u.LicenseNumber,
		Hospital:      u.Hospital,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:            m.ID,
		Email:         m.Email,
		Name:          m.Name,
		PasswordHash:  m.PasswordHash,
		Specialty:     m.Specialty,
		Credentials:   m.Credentials,
		LicenseNumber: m.LicenseNumber,
		Hospital:      m.Hospital,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func consultationToModel(c domain.Consultation) ConsultationModel {
	return ConsultationModel{
		ID:          c.ID,
		UserID:      c.UserID,
		SpecialtyID: c.SpecialtyID,
		Title:       c.Title,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func consultationFromModel(m ConsultationModel) domain.Consultation {
	status := domain.ConsultationStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.Consultation{
		ID:          m.ID,
		UserID:      m.UserID,
		SpecialtyID: m.SpecialtyID,
		Title:       m.Title,
		Status:      status,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func messageToModel(msg domain.ChatMessage) MessageModel {
	var attachments []byte
	if len(msg.Attachments) > 0 {
		attachments, _ = json.Marshal(msg.Attachments)
	}
	return MessageModel{
		ID:          msg.ID,
		Role:        string(msg.Role),
		Content:     msg.Content,
		Attachments: attachments,
		CreatedAt:   msg.Timestamp,
	}
}

func messageFromModel(m MessageModel) domain.ChatMessage {
	var attachments []domain.FileAttachment
	if len(m.Attachments) > 0 {
		_ = json.Unmarshal(m.Attachments, &attachments)
	}
	return domain.ChatMessage{
		ID:          m.ID,
		Role:        domain.MessageRole(m.Role),
		Content:     m.Content,
		Attachments: attachments,
		Timestamp:   m.CreatedAt,
	}
}
