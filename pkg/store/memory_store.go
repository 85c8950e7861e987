package store

import (
	"sort"
	"sync"
	"time"

	"medportal/pkg/domain"
)

// MemoryStore keeps all records in-process. Used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	email         map[string]string // email -> user ID
	consultations map[string]domain.Consultation
	order         []string // consultation insertion order
	messages      map[string][]domain.ChatMessage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		consultations: make(map[string]domain.Consultation),
		messages:      make(map[string][]domain.ChatMessage),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sortUsersByCreation(res)
	return res, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SaveConsultation stores or replaces a consultation and tracks insertion order.
func (m *MemoryStore) SaveConsultation(c domain.Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.consultations[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.consultations[c.ID] = c
	return nil
}

// GetConsultation retrieves a consultation by ID.
func (m *MemoryStore) GetConsultation(id string) (domain.Consultation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consultations[id]
	return c, ok, nil
}

// ListConsultationsByUser returns a user's consultations, most recent first.
func (m *MemoryStore) ListConsultationsByUser(userID string, limit int) ([]domain.Consultation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	res := make([]domain.Consultation, 0)
	for i := len(m.order) - 1; i >= 0 && len(res) < limit; i-- {
		if c, ok := m.consultations[m.order[i]]; ok && c.UserID == userID {
			res = append(res, c)
		}
	}
	return res, nil
}

// SetConsultationStatus updates the status of a consultation.
func (m *MemoryStore) SetConsultationStatus(id string, status domain.ConsultationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	m.consultations[id] = c
	return nil
}

// AppendMessage records a message linked to a consultation.
func (m *MemoryStore) AppendMessage(consultationID string, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[consultationID] = append(m.messages[consultationID], msg)
	return nil
}

// ListMessages returns messages in append order.
func (m *MemoryStore) ListMessages(consultationID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[consultationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func sortUsersByCreation(users []domain.User) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
}
