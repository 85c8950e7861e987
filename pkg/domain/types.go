package domain

import "time"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type ConsultationStatus string

const (
	StatusActive   ConsultationStatus = "active"
	StatusEnded    ConsultationStatus = "ended"
	StatusArchived ConsultationStatus = "archived"
)

// User is a registered medical professional.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"-"`
	Specialty     string    `json:"specialty,omitempty"`
	Credentials   string    `json:"credentials,omitempty"`
	LicenseNumber string    `json:"licenseNumber,omitempty"`
	Hospital      string    `json:"hospital,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ChatMessage is one turn of a consultation transcript. Messages are
// append-only; a message is never mutated after creation.
type ChatMessage struct {
	ID          string           `json:"id"`
	Role        MessageRole      `json:"role"`
	Content     string           `json:"content"`
	Timestamp   time.Time        `json:"timestamp"`
	Attachments []FileAttachment `json:"attachments,omitempty"`
}

// FileAttachment carries an uploaded file inline as a data URL. The data URL
// is what gets relayed to the completion endpoint; the raw bytes may also be
// kept in object storage for later download.
type FileAttachment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	StorageKey  string    `json:"-"`
	TextPreview string    `json:"textPreview,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// MedicalSpecialty conditions the assistant's behavior for one domain.
// Entries are static registry data, immutable at runtime.
type MedicalSpecialty struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"systemPrompt"`
	Color        string `json:"color"`
	Icon         string `json:"icon"`
	Model        string `json:"model"`
}

// Consultation groups the messages a doctor exchanged with one specialty
// assistant.
type Consultation struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	SpecialtyID string             `json:"specialtyId"`
	Title       string             `json:"title"`
	Status      ConsultationStatus `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// CompletionResult is the outcome of one completion exchange: the assistant
// reply plus an opaque correlation token for the exchange.
type CompletionResult struct {
	Message   ChatMessage `json:"message"`
	SessionID string      `json:"sessionId"`
}
