package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"medportal/pkg/ai"
	"medportal/pkg/auth"
	"medportal/pkg/domain"
	"medportal/pkg/store"
)

type fakeCompletion struct {
	lastModel    string
	lastMessages []ai.Message
	reply        string
	err          error
}

func (f *fakeCompletion) Complete(_ context.Context, model string, messages []ai.Message) (domain.CompletionResult, error) {
	f.lastModel = model
	f.lastMessages = messages
	if f.err != nil {
		return domain.CompletionResult{}, f.err
	}
	return domain.CompletionResult{
		Message: domain.ChatMessage{
			ID:        "reply-1",
			Role:      domain.RoleAssistant,
			Content:   f.reply,
			Timestamp: time.Now().UTC(),
		},
		SessionID: "session_test",
	}, nil
}

type memorySessions struct {
	tokens map[string]string
	next   int
}

func newMemorySessions() *memorySessions {
	return &memorySessions{tokens: make(map[string]string)}
}

func (s *memorySessions) NewSession(userID string) (string, error) {
	s.next++
	token := fmt.Sprintf("tok-%d", s.next)
	s.tokens[token] = userID
	return token, nil
}

func (s *memorySessions) GetUserIDByToken(token string) (string, bool, error) {
	uid, ok := s.tokens[token]
	return uid, ok, nil
}

func (s *memorySessions) DeleteSession(token string) error {
	delete(s.tokens, token)
	return nil
}

func newTestApp(t *testing.T, completion *fakeCompletion) *App {
	t.Helper()
	if completion == nil {
		completion = &fakeCompletion{reply: "ok"}
	}
	a, err := New(Config{
		Store:    store.NewMemoryStore(),
		Sessions: newMemorySessions(),
		AI:       completion,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func registerTestDoctor(t *testing.T, a *App) (domain.User, string) {
	t.Helper()
	user, token, err := a.Register(RegisterParams{
		Email:     "doc@hospital.test",
		Password:  "Str0ng#Password!",
		Name:      "Dr. Test",
		Specialty: "Cardiology",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user, token
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestApp(t, nil)
	user, token := registerTestDoctor(t, a)
	if user.Email != "doc@hospital.test" || token == "" {
		t.Fatalf("unexpected register result: %+v token=%q", user, token)
	}

	got, gotToken, err := a.Login("doc@hospital.test", "Str0ng#Password!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID || gotToken == "" {
		t.Fatalf("unexpected login result: %+v token=%q", got, gotToken)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	a := newTestApp(t, nil)
	registerTestDoctor(t, a)

	_, _, err := a.Register(RegisterParams{
		Email:    "doc@hospital.test",
		Password: "An0ther#Password!",
		Name:     "Dr. Other",
	})
	if !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
	n, _ := a.store.UserCount()
	if n != 1 {
		t.Fatalf("store mutated on failed register: %d users", n)
	}
}

func TestRegisterRejectsWeakPasswordAndMismatch(t *testing.T) {
	a := newTestApp(t, nil)

	_, _, err := a.Register(RegisterParams{
		Email:    "weak@hospital.test",
		Password: "short",
		Name:     "Dr. Weak",
	})
	if !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	_, _, err = a.Register(RegisterParams{
		Email:           "mismatch@hospital.test",
		Password:        "Str0ng#Password!",
		ConfirmPassword: "Different#Pass1!",
		Name:            "Dr. Mismatch",
	})
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestLoginFailuresAreDistinct(t *testing.T) {
	a := newTestApp(t, nil)
	registerTestDoctor(t, a)

	if _, _, err := a.Login("nobody@hospital.test", "whatever"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, _, err := a.Login("doc@hospital.test", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCurrentUserAndLogout(t *testing.T) {
	a := newTestApp(t, nil)
	user, token := registerTestDoctor(t, a)

	got, ok := a.CurrentUser(token)
	if !ok || got.ID != user.ID {
		t.Fatalf("expected current user, got %+v ok=%v", got, ok)
	}
	if err := a.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := a.CurrentUser(token); ok {
		t.Fatalf("expected no current user after logout")
	}
}

func TestUpdateProfilePartial(t *testing.T) {
	a := newTestApp(t, nil)
	user, _ := registerTestDoctor(t, a)

	hospital := "General Hospital"
	updated, err := a.UpdateProfile(user.ID, ProfileUpdate{Hospital: &hospital})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Hospital != hospital {
		t.Fatalf("hospital = %q, want %q", updated.Hospital, hospital)
	}
	if updated.Name != user.Name || updated.Specialty != user.Specialty {
		t.Fatalf("untouched fields changed: %+v", updated)
	}

	if _, err := a.UpdateProfile("missing", ProfileUpdate{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDemoSeedCreatesTwoDoctors(t *testing.T) {
	completion := &fakeCompletion{reply: "ok"}
	a, err := New(Config{
		Store:         store.NewMemoryStore(),
		Sessions:      newMemorySessions(),
		AI:            completion,
		SeedDemoUsers: true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	n, _ := a.store.UserCount()
	if n != 2 {
		t.Fatalf("expected 2 seeded doctors, got %d", n)
	}
	user, _, err := a.Login("doctor@hospital.com", "demo123")
	if err != nil {
		t.Fatalf("demo login: %v", err)
	}
	if user.Name != "Dr. Sarah Johnson" {
		t.Fatalf("unexpected demo doctor: %+v", user)
	}
}

func TestConsultValidation(t *testing.T) {
	a := newTestApp(t, nil)
	transcript := []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}

	if _, err := a.Consult(context.Background(), "cardiology", nil, nil); !errors.Is(err, ErrMessagesRequired) {
		t.Fatalf("expected ErrMessagesRequired, got %v", err)
	}
	if _, err := a.Consult(context.Background(), "", transcript, nil); !errors.Is(err, ErrSpecialtyRequired) {
		t.Fatalf("expected ErrSpecialtyRequired, got %v", err)
	}
	if _, err := a.Consult(context.Background(), "astrology", transcript, nil); !errors.Is(err, ErrUnknownSpecialty) {
		t.Fatalf("expected ErrUnknownSpecialty, got %v", err)
	}
}

func TestConsultUsesSpecialtyModelAndPrompt(t *testing.T) {
	completion := &fakeCompletion{reply: "take a rest"}
	a := newTestApp(t, completion)

	res, err := a.Consult(context.Background(), "cardiology", []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "chest pain"},
	}, nil)
	if err != nil {
		t.Fatalf("consult: %v", err)
	}
	if res.Message.Content != "take a rest" {
		t.Fatalf("unexpected reply: %+v", res.Message)
	}
	if completion.lastModel == "" {
		t.Fatalf("expected specialty model to be passed")
	}
	if len(completion.lastMessages) != 2 || completion.lastMessages[0].Role != "system" {
		t.Fatalf("expected system prompt first, got %+v", completion.lastMessages)
	}
}

func TestSendMessageAppendsApologyOnFailure(t *testing.T) {
	completion := &fakeCompletion{err: errors.New("AI service error: status 500")}
	a := newTestApp(t, completion)
	user, _ := registerTestDoctor(t, a)

	c, err := a.StartConsultation(user.ID, "cardiology")
	if err != nil {
		t.Fatalf("start consultation: %v", err)
	}
	reply, err := a.SendMessage(context.Background(), c.ID, "chest pain", nil)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if reply.Role != domain.RoleAssistant {
		t.Fatalf("expected assistant apology, got %+v", reply)
	}
	if !strings.Contains(reply.Content, "I apologize") || !strings.Contains(reply.Content, "500") {
		t.Fatalf("apology should embed the failure: %q", reply.Content)
	}
	msgs, err := a.store.ListMessages(c.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user message and apology persisted, got %d", len(msgs))
	}
}

func TestSendMessagePersistsConversation(t *testing.T) {
	completion := &fakeCompletion{reply: "sounds mild"}
	a := newTestApp(t, completion)
	user, _ := registerTestDoctor(t, a)

	c, err := a.StartConsultation(user.ID, "dermatology")
	if err != nil {
		t.Fatalf("start consultation: %v", err)
	}
	if _, err := a.SendMessage(context.Background(), c.ID, "rash on arm", nil); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if _, err := a.SendMessage(context.Background(), c.ID, "it itches", nil); err != nil {
		t.Fatalf("send message: %v", err)
	}

	_, msgs, err := a.Consultation(c.ID)
	if err != nil {
		t.Fatalf("consultation: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	// second request carries the full prior transcript plus the system prompt
	if len(completion.lastMessages) != 4 {
		t.Fatalf("expected 4 formatted messages, got %d", len(completion.lastMessages))
	}

	recent, err := a.RecentConsultations(user.ID, 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent consultations: %+v err=%v", recent, err)
	}

	if err := a.EndConsultation(c.ID); err != nil {
		t.Fatalf("end consultation: %v", err)
	}
	got, _, err := a.Consultation(c.ID)
	if err != nil || got.Status != domain.StatusEnded {
		t.Fatalf("expected ended consultation, got %+v err=%v", got, err)
	}
}
