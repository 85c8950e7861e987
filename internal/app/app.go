package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"medportal/internal/util"
	"medportal/pkg/ai"
	"medportal/pkg/auth"
	"medportal/pkg/domain"
	"medportal/pkg/specialty"
	"medportal/pkg/storage"
	"medportal/pkg/store"
)

// demoPassword is the shared password for seeded demo doctors. Demo seeding
// is config-gated and must stay off in production deployments.
const demoPassword = "demo123"

// CompletionClient performs one chat-completion exchange.
type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []ai.Message) (domain.CompletionResult, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store              store.Store
	Sessions           store.SessionStore
	Objects            storage.ObjectStore
	AI                 CompletionClient
	MaxAttachmentBytes int64
	SeedDemoUsers      bool
}

// App is the core application service wiring storage, sessions, attachments
// and the completion client together.
type App struct {
	store    store.Store
	sessions store.SessionStore
	objects  storage.ObjectStore
	ai       CompletionClient
	maxBytes int64
}

// New constructs the application. Store, session store and completion client
// are required; object storage defaults to an in-process store.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.AI == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	objects := cfg.Objects
	if objects == nil {
		objects = storage.NewMemoryStore()
	}
	maxBytes := cfg.MaxAttachmentBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	a := &App{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		objects:  objects,
		ai:       cfg.AI,
		maxBytes: maxBytes,
	}
	if cfg.SeedDemoUsers {
		if err := a.seedDemoUsers(); err != nil {
			return nil, fmt.Errorf("seed demo users: %w", err)
		}
	}
	return a, nil
}

// RegisterParams carries the signup form fields.
type RegisterParams struct {
	Email           string
	Password        string
	ConfirmPassword string
	Name            string
	Specialty       string
	Credentials     string
	LicenseNumber   string
	Hospital        string
}

// Register creates a new doctor account and issues a session token.
// The store is not mutated on any failure.
func (a *App) Register(p RegisterParams) (domain.User, string, error) {
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || p.Password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if strings.TrimSpace(p.Name) == "" {
		return domain.User{}, "", ErrNameRequired
	}
	if p.ConfirmPassword != "" && p.ConfirmPassword != p.Password {
		return domain.User{}, "", ErrPasswordMismatch
	}
	if err := auth.ValidatePassword(p.Password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(p.Password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:            "user_" + util.NewID(),
		Email:         email,
		Name:          strings.TrimSpace(p.Name),
		PasswordHash:  passwordHash,
		Specialty:     strings.TrimSpace(p.Specialty),
		Credentials:   strings.TrimSpace(p.Credentials),
		LicenseNumber: strings.TrimSpace(p.LicenseNumber),
		Hospital:      strings.TrimSpace(p.Hospital),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token. Unknown emails and
// bad passwords fail with distinct errors.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrUserNotFound
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// CurrentUser resolves the user behind a session token. A dangling session
// (user record gone) resolves to none.
func (a *App) CurrentUser(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// Logout clears the server-held session.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// ProfileUpdate carries optional profile fields; nil fields are unchanged.
type ProfileUpdate struct {
	Name          *string
	Specialty     *string
	Credentials   *string
	LicenseNumber *string
	Hospital      *string
}

// UpdateProfile applies a partial profile update.
func (a *App) UpdateProfile(userID string, p ProfileUpdate) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return domain.User{}, ErrNameRequired
		}
		user.Name = strings.TrimSpace(*p.Name)
	}
	if p.Specialty != nil {
		user.Specialty = strings.TrimSpace(*p.Specialty)
	}
	if p.Credentials != nil {
		user.Credentials = strings.TrimSpace(*p.Credentials)
	}
	if p.LicenseNumber != nil {
		user.LicenseNumber = strings.TrimSpace(*p.LicenseNumber)
	}
	if p.Hospital != nil {
		user.Hospital = strings.TrimSpace(*p.Hospital)
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Consult formats the transcript for the given specialty and relays it to the
// completion endpoint. Attachments are resolved to inline data first.
func (a *App) Consult(ctx context.Context, specialtyID string, transcript []domain.ChatMessage, attachments []domain.FileAttachment) (domain.CompletionResult, error) {
	if len(transcript) == 0 {
		return domain.CompletionResult{}, ErrMessagesRequired
	}
	if strings.TrimSpace(specialtyID) == "" {
		return domain.CompletionResult{}, ErrSpecialtyRequired
	}
	sp, ok := specialty.ByID(specialtyID)
	if !ok {
		return domain.CompletionResult{}, ErrUnknownSpecialty
	}
	resolved := a.resolveAttachments(ctx, attachments)
	messages := ai.BuildMessages(transcript, sp, resolved)
	return a.ai.Complete(ctx, sp.Model, messages)
}

// StartConsultation opens a persisted consultation for a user and specialty.
func (a *App) StartConsultation(userID, specialtyID string) (domain.Consultation, error) {
	sp, ok := specialty.ByID(specialtyID)
	if !ok {
		return domain.Consultation{}, ErrUnknownSpecialty
	}
	now := time.Now().UTC()
	c := domain.Consultation{
		ID:          "consult_" + util.NewID(),
		UserID:      userID,
		SpecialtyID: sp.ID,
		Title:       sp.Name + " consultation",
		Status:      domain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveConsultation(c); err != nil {
		return domain.Consultation{}, fmt.Errorf("save consultation: %w", err)
	}
	return c, nil
}

// SendMessage appends the doctor's message to a consultation, relays the
// transcript, and appends the assistant reply. Completion failures are
// recorded as an apology-style assistant message rather than surfaced as an
// error.
func (a *App) SendMessage(ctx context.Context, consultationID, content string, attachments []domain.FileAttachment) (domain.ChatMessage, error) {
	c, ok, err := a.store.GetConsultation(consultationID)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("fetch consultation: %w", err)
	}
	if !ok {
		return domain.ChatMessage{}, ErrConsultationNotFound
	}
	userMsg := domain.ChatMessage{
		ID:          "msg_" + util.NewID(),
		Role:        domain.RoleUser,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		Attachments: attachments,
	}
	if err := a.store.AppendMessage(c.ID, userMsg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	transcript, err := a.store.ListMessages(c.ID, 0)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("load transcript: %w", err)
	}
	var reply domain.ChatMessage
	result, err := a.Consult(ctx, c.SpecialtyID, transcript, attachments)
	if err != nil {
		slog.Warn("completion failed", "consultation_id", c.ID, "error", err)
		reply = domain.ChatMessage{
			ID:        "error_" + util.NewID(),
			Role:      domain.RoleAssistant,
			Content:   fmt.Sprintf("I apologize, but I encountered an error: %v. Please try again.", err),
			Timestamp: time.Now().UTC(),
		}
	} else {
		reply = result.Message
	}
	if err := a.store.AppendMessage(c.ID, reply); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append reply: %w", err)
	}
	if err := a.store.SetConsultationStatus(c.ID, c.Status); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("touch consultation: %w", err)
	}
	return reply, nil
}

// Consultation returns one consultation with its messages.
func (a *App) Consultation(id string) (domain.Consultation, []domain.ChatMessage, error) {
	c, ok, err := a.store.GetConsultation(id)
	if err != nil {
		return domain.Consultation{}, nil, fmt.Errorf("fetch consultation: %w", err)
	}
	if !ok {
		return domain.Consultation{}, nil, ErrConsultationNotFound
	}
	msgs, err := a.store.ListMessages(id, 0)
	if err != nil {
		return domain.Consultation{}, nil, fmt.Errorf("load transcript: %w", err)
	}
	return c, msgs, nil
}

// RecentConsultations lists a user's consultations, most recent first.
func (a *App) RecentConsultations(userID string, limit int) ([]domain.Consultation, error) {
	return a.store.ListConsultationsByUser(userID, limit)
}

// EndConsultation marks a consultation as ended.
func (a *App) EndConsultation(id string) error {
	if _, ok, err := a.store.GetConsultation(id); err != nil {
		return fmt.Errorf("fetch consultation: %w", err)
	} else if !ok {
		return ErrConsultationNotFound
	}
	return a.store.SetConsultationStatus(id, domain.StatusEnded)
}

func (a *App) seedDemoUsers() error {
	count, err := a.store.UserCount()
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashPassword(demoPassword)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}
	seeded := time.Now().UTC()
	demo := []domain.User{
		{
			ID:            "user_demo_1",
			Email:         "doctor@hospital.com",
			Name:          "Dr. Sarah Johnson",
			PasswordHash:  hash,
			Specialty:     "Cardiology",
			Credentials:   "MD, FACC",
			LicenseNumber: "MD123456",
			Hospital:      "General Hospital",
			CreatedAt:     seeded,
			UpdatedAt:     seeded,
		},
		{
			ID:            "user_demo_2",
			Email:         "dr.smith@clinic.com",
			Name:          "Dr. Michael Smith",
			PasswordHash:  hash,
			Specialty:     "Dermatology",
			Credentials:   "MD, FAAD",
			LicenseNumber: "MD789012",
			Hospital:      "Skin Care Clinic",
			CreatedAt:     seeded,
			UpdatedAt:     seeded,
		},
	}
	for _, u := range demo {
		if err := a.store.SaveUser(u); err != nil {
			return fmt.Errorf("save demo user: %w", err)
		}
	}
	slog.Warn("seeded demo doctor accounts with a shared demo password; disable seedDemoUsers in production")
	return nil
}
