package store

import "medportal/pkg/domain"

// Store defines persistence operations for users, consultations, and
// transcript messages.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int, error)

	// consultations
	SaveConsultation(domain.Consultation) error
	GetConsultation(id string) (domain.Consultation, bool, error)
	ListConsultationsByUser(userID string, limit int) ([]domain.Consultation, error)
	SetConsultationStatus(id string, status domain.ConsultationStatus) error

	// messages
	AppendMessage(consultationID string, msg domain.ChatMessage) error
	ListMessages(consultationID string, limit int) ([]domain.ChatMessage, error)
}

// SessionStore persists server-held session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// DocumentStore is the minimal get/set-one-document-by-key capability backing
// DocStore. It replaces the browser local storage the original leaned on.
type DocumentStore interface {
	GetDocument(key string) ([]byte, bool, error)
	SetDocument(key string, data []byte) error
}
