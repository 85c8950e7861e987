package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"medportal/pkg/domain"
)

// Document keys. The original kept these as two browser local storage blobs;
// here they live behind an injected DocumentStore.
const (
	usersDocKey         = "medportal_users"
	consultationsDocKey = "medportal_consultations"
	messagesDocKey      = "medportal_messages"
)

// DocStore implements Store on top of a DocumentStore, persisting each
// collection as one JSON document. Reads of a corrupt or missing document
// degrade to an empty collection rather than failing. Access is
// read-modify-write guarded by a single lock, which is acceptable only
// because one portal process owns the documents.
type DocStore struct {
	mu   sync.Mutex
	docs DocumentStore
}

// NewDocStore wraps a DocumentStore.
func NewDocStore(docs DocumentStore) *DocStore {
	return &DocStore{docs: docs}
}

func (s *DocStore) loadUsers() []domain.User {
	var users []domain.User
	data, ok, err := s.docs.GetDocument(usersDocKey)
	if err != nil || !ok {
		return nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		// Corrupt document: treat as empty store.
		return nil
	}
	return users
}

func (s *DocStore) storeUsers(users []domain.User) error {
	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	return s.docs.SetDocument(usersDocKey, data)
}

// SaveUser registers or updates a user.
func (s *DocStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.loadUsers()
	replaced := false
	for i := range users {
		if users[i].ID == u.ID {
			users[i] = u
			replaced = true
			break
		}
	}
	if !replaced {
		users = append(users, u)
	}
	return s.storeUsers(users)
}

// HasUserEmail checks if email exists.
func (s *DocStore) HasUserEmail(email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.loadUsers() {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// GetUserByEmail looks up a user by email.
func (s *DocStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.loadUsers() {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (s *DocStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.loadUsers() {
		if u.ID == id {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// ListUsers returns all users in stored order.
func (s *DocStore) ListUsers() ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUsers(), nil
}

// UserCount returns number of users.
func (s *DocStore) UserCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loadUsers()), nil
}

func (s *DocStore) loadConsultations() []domain.Consultation {
	var items []domain.Consultation
	data, ok, err := s.docs.GetDocument(consultationsDocKey)
	if err != nil || !ok {
		return nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	return items
}

func (s *DocStore) storeConsultations(items []domain.Consultation) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal consultations: %w", err)
	}
	return s.docs.SetDocument(consultationsDocKey, data)
}

// SaveConsultation stores or replaces a consultation.
func (s *DocStore) SaveConsultation(c domain.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.loadConsultations()
	replaced := false
	for i := range items {
		if items[i].ID == c.ID {
			items[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, c)
	}
	return s.storeConsultations(items)
}

// GetConsultation retrieves one consultation.
func (s *DocStore) GetConsultation(id string) (domain.Consultation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.loadConsultations() {
		if c.ID == id {
			return c, true, nil
		}
	}
	return domain.Consultation{}, false, nil
}

// ListConsultationsByUser returns a user's consultations, most recent first.
func (s *DocStore) ListConsultationsByUser(userID string, limit int) ([]domain.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var res []domain.Consultation
	for _, c := range s.loadConsultations() {
		if c.UserID == userID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// SetConsultationStatus updates the status of a consultation.
func (s *DocStore) SetConsultationStatus(id string, status domain.ConsultationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.loadConsultations()
	for i := range items {
		if items[i].ID == id {
			items[i].Status = status
			items[i].UpdatedAt = time.Now().UTC()
			return s.storeConsultations(items)
		}
	}
	return nil
}

// AppendMessage records a transcript message.
func (s *DocStore) AppendMessage(consultationID string, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byConsultation := s.loadMessages()
	byConsultation[consultationID] = append(byConsultation[consultationID], msg)
	data, err := json.Marshal(byConsultation)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	return s.docs.SetDocument(messagesDocKey, data)
}

// ListMessages returns messages in append order.
func (s *DocStore) ListMessages(consultationID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.loadMessages()[consultationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *DocStore) loadMessages() map[string][]domain.ChatMessage {
	byConsultation := make(map[string][]domain.ChatMessage)
	data, ok, err := s.docs.GetDocument(messagesDocKey)
	if err != nil || !ok {
		return byConsultation
	}
	if err := json.Unmarshal(data, &byConsultation); err != nil {
		return make(map[string][]domain.ChatMessage)
	}
	return byConsultation
}

// FileDocumentStore persists documents as JSON files under a base directory.
type FileDocumentStore struct {
	basePath string
}

// NewFileDocumentStore creates the base directory if missing.
func NewFileDocumentStore(basePath string) (*FileDocumentStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("document store base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	return &FileDocumentStore{basePath: basePath}, nil
}

// GetDocument reads one document; a missing file is not an error.
func (f *FileDocumentStore) GetDocument(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document %q: %w", key, err)
	}
	return data, true, nil
}

// SetDocument writes a document atomically via a temp file rename.
func (f *FileDocumentStore) SetDocument(key string, data []byte) error {
	target := f.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write document %q: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit document %q: %w", key, err)
	}
	return nil
}

func (f *FileDocumentStore) path(key string) string {
	name := filepath.Base(strings.TrimSpace(key))
	if name == "" || name == "." {
		name = "document"
	}
	return filepath.Join(f.basePath, name+".json")
}
