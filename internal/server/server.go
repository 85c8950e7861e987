package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"medportal/internal/app"
	"medportal/internal/ratelimit"
	"medportal/internal/util"
	"medportal/pkg/domain"
	"medportal/pkg/specialty"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	RedisAddr     string
	RedisPassword string

	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	ChatRateLimitPerMinute   int

	TrustedProxies *util.TrustedProxies
}

// Server exposes the portal's HTTP API.
type Server struct {
	app *app.App
	mux *http.ServeMux

	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
	chatLimiter   *ratelimit.FixedWindowLimiter

	trustedProxies *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	chatLimit := cfg.ChatRateLimitPerMinute
	if chatLimit <= 0 {
		chatLimit = 20
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "medportal:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	chatLimiter, err := newLimiter("chat", chatLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
		chatLimiter:    chatLimiter,
		trustedProxies: cfg.TrustedProxies,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped with ambient middleware.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))

	// specialty registry
	s.mux.HandleFunc("/api/specialties", s.handleSpecialties)
	s.mux.HandleFunc("/api/specialties/", s.handleSpecialtyByID)

	// completion proxy
	s.mux.HandleFunc("/api/chat", s.handleChat)

	// consultations
	s.mux.Handle("/api/consultations", s.authenticated(s.handleConsultations))
	s.mux.Handle("/api/consultations/", s.authenticated(s.handleConsultationByID))

	// attachments
	s.mux.Handle("/api/attachments", s.authenticated(s.handleAttachmentUpload))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "portal.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.CurrentUser(token)
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(app.RegisterParams{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Name:            req.Name,
		Specialty:       req.Specialty,
		Credentials:     req.Credentials,
		LicenseNumber:   req.LicenseNumber,
		Hospital:        req.Hospital,
	})
	if err != nil {
		s.audit(r, "portal.signup", "fail", "reason", err.Error())
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "portal.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "portal.login", "fail")
		status := http.StatusUnauthorized
		if errors.Is(err, app.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	s.audit(r, "portal.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateProfileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.app.UpdateProfile(user.ID, app.ProfileUpdate{
			Name:          req.Name,
			Specialty:     req.Specialty,
			Credentials:   req.Credentials,
			LicenseNumber: req.LicenseNumber,
			Hospital:      req.Hospital,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

// specialty handlers
func (s *Server) handleSpecialties(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items := specialty.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleSpecialtyByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/specialties/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	sp, ok := specialty.ByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown specialty")
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

// handleChat is the completion proxy: it reformats the submitted transcript
// for the requested specialty and relays it to the completion endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.chatLimiter, "too many chat requests") {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 || req.Specialty.ID() == "" {
		writeError(w, http.StatusBadRequest, "Messages and specialty are required")
		return
	}
	var attachments []domain.FileAttachment
	if last := req.Messages[len(req.Messages)-1]; len(last.Attachments) > 0 {
		attachments = last.Attachments
	}
	result, err := s.app.Consult(r.Context(), req.Specialty.ID(), req.Messages, attachments)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMessagesRequired), errors.Is(err, app.ErrSpecialtyRequired):
			writeError(w, http.StatusBadRequest, "Messages and specialty are required")
		case errors.Is(err, app.ErrUnknownSpecialty):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("chat proxy failed", "error", err, "request_id", util.RequestIDFromRequest(r))
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":   err.Error(),
				"message": "Failed to process chat request",
			})
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// consultation handlers
func (s *Server) handleConsultations(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.RecentConsultations(user.ID, 20)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	case http.MethodPost:
		var req startConsultationRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		c, err := s.app.StartConsultation(user.ID, req.Specialty)
		if err != nil {
			if errors.Is(err, app.ErrUnknownSpecialty) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConsultationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/consultations/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	c, msgs, err := s.app.Consultation(id)
	if err != nil {
		if errors.Is(err, app.ErrConsultationNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c.UserID != user.ID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, consultationResponse{Consultation: c, Messages: msgs})
	case "messages":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.allowRate(w, r, s.chatLimiter, "too many chat requests") {
			return
		}
		var req sendMessageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 16<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
			writeError(w, http.StatusBadRequest, "content or attachments required")
			return
		}
		reply, err := s.app.SendMessage(r.Context(), id, req.Content, req.Attachments)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": reply})
	case "export":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		data, filename, err := s.app.ExportConsultation(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case "end":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.app.EndConsultation(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// attachment handlers
func (s *Server) handleAttachmentUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	att, err := s.app.UploadAttachment(r.Context(), header.Filename, contentType, header.Size, file)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrAttachmentTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, app.ErrAttachmentRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.audit(r, "portal.attachment.upload", "success", "user_id", user.ID, "attachment", att.ID)
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// request/response shapes
type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Name            string `json:"name"`
	Specialty       string `json:"specialty"`
	Credentials     string `json:"credentials"`
	LicenseNumber   string `json:"licenseNumber"`
	Hospital        string `json:"hospital"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type updateProfileRequest struct {
	Name          *string `json:"name"`
	Specialty     *string `json:"specialty"`
	Credentials   *string `json:"credentials"`
	LicenseNumber *string `json:"licenseNumber"`
	Hospital      *string `json:"hospital"`
}

type chatRequest struct {
	Messages  []domain.ChatMessage `json:"messages"`
	Specialty specialtyRef         `json:"specialty"`
}

// specialtyRef accepts either a specialty id string or a specialty object
// carrying an id, matching what browser clients send.
type specialtyRef struct {
	id string
}

func (s *specialtyRef) ID() string { return s.id }

func (s *specialtyRef) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		s.id = raw
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.id = obj.ID
	return nil
}

type startConsultationRequest struct {
	Specialty string `json:"specialty"`
}

type sendMessageRequest struct {
	Content     string                  `json:"content"`
	Attachments []domain.FileAttachment `json:"attachments"`
}

type consultationResponse struct {
	Consultation domain.Consultation  `json:"consultation"`
	Messages     []domain.ChatMessage `json:"messages"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
