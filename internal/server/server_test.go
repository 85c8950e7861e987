package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"medportal/internal/app"
	"medportal/pkg/ai"
	"medportal/pkg/domain"
	"medportal/pkg/store"
)

// newMultipart writes a single-file multipart body and returns its content type.
func newMultipart(t *testing.T, buf *bytes.Buffer, filename, contentType string, data []byte) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return mw.FormDataContentType()
}

// newUpstream fakes the completion endpoint.
func newUpstream(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		})
	}))
}

func newTestServer(t *testing.T, upstreamStatus int, reply string) (*httptest.Server, *app.App) {
	t.Helper()
	upstream := newUpstream(t, upstreamStatus, reply)
	t.Cleanup(upstream.Close)
	redis := miniredis.RunT(t)

	client := ai.NewClient(ai.ClientConfig{
		BaseURL:    upstream.URL,
		CustomerID: "cus_test",
		APIKey:     "test-key",
	})
	a, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Sessions:      store.NewRedisSessionStore(redis.Addr(), "", 0),
		AI:            client,
		SeedDemoUsers: true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{
		App:       a,
		RedisAddr: redis.Addr(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, a
}

func postJSON(t *testing.T, url, token string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func loginDemo(t *testing.T, baseURL string) string {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/auth/login", "", map[string]string{
		"email":    "doctor@hospital.com",
		"password": "demo123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("demo login expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &body)
	if body.Token == "" {
		t.Fatalf("expected session token")
	}
	return body.Token
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz expected 200, got %d", resp.StatusCode)
	}
}

func TestChatProxySuccess(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "rest and hydration")

	resp := postJSON(t, ts.URL+"/api/chat", "", map[string]any{
		"messages":  []map[string]string{{"role": "user", "content": "mild fever"}},
		"specialty": map[string]string{"id": "pediatrics"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Message   domain.ChatMessage `json:"message"`
		SessionID string             `json:"sessionId"`
	}
	decodeBody(t, resp, &body)
	if body.Message.Role != domain.RoleAssistant || body.Message.Content != "rest and hydration" {
		t.Fatalf("unexpected message: %+v", body.Message)
	}
	if !strings.HasPrefix(body.SessionID, "session_") {
		t.Fatalf("sessionId = %q, want session_ prefix", body.SessionID)
	}
}

func TestChatProxyAcceptsSpecialtyIDString(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")

	resp := postJSON(t, ts.URL+"/api/chat", "", map[string]any{
		"messages":  []map[string]string{{"role": "user", "content": "hi"}},
		"specialty": "cardiology",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestChatProxyMissingFields(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")

	for _, payload := range []map[string]any{
		{"specialty": "cardiology"},
		{"messages": []map[string]string{{"role": "user", "content": "hi"}}},
	} {
		resp := postJSON(t, ts.URL+"/api/chat", "", payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("payload %v expected 400, got %d", payload, resp.StatusCode)
		}
	}
}

func TestChatProxyDownstreamFailure(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusInternalServerError, "")

	resp := postJSON(t, ts.URL+"/api/chat", "", map[string]any{
		"messages":  []map[string]string{{"role": "user", "content": "hi"}},
		"specialty": "cardiology",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &body)
	if !strings.Contains(body.Error, "500") {
		t.Fatalf("error should embed upstream status: %q", body.Error)
	}
	if body.Message != "Failed to process chat request" {
		t.Fatalf("message = %q", body.Message)
	}
}

func TestSignupLoginMeFlow(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")

	resp := postJSON(t, ts.URL+"/api/auth/signup", "", map[string]string{
		"email":     "new.doc@hospital.test",
		"password":  "Str0ng#Password!",
		"name":      "Dr. New",
		"specialty": "Radiology",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	decodeBody(t, resp, &created)
	if created.User.Email != "new.doc@hospital.test" || created.Token == "" {
		t.Fatalf("unexpected signup response: %+v", created)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	meResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get me: %v", err)
	}
	var me domain.User
	decodeBody(t, meResp, &me)
	if me.ID != created.User.ID {
		t.Fatalf("me = %+v, want %+v", me, created.User)
	}

	// logout invalidates the session
	logoutResp := postJSON(t, ts.URL+"/api/auth/logout", created.Token, struct{}{})
	logoutResp.Body.Close()
	if logoutResp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout expected 204, got %d", logoutResp.StatusCode)
	}
	req2, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/users/me", nil)
	req2.Header.Set("Authorization", "Bearer "+created.Token)
	meResp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("get me after logout: %v", err)
	}
	meResp2.Body.Close()
	if meResp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", meResp2.StatusCode)
	}
}

func TestLoginDistinguishesUnknownEmail(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")

	resp := postJSON(t, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "nobody@hospital.test",
		"password": "whatever",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown email expected 404, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "doctor@hospital.com",
		"password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password expected 401, got %d", resp.StatusCode)
	}
}

func TestUpdateProfilePatch(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")
	token := loginDemo(t, ts.URL)

	body := []byte(`{"hospital":"City Medical Center"}`)
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/api/users/me", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch me: %v", err)
	}
	var updated domain.User
	decodeBody(t, resp, &updated)
	if updated.Hospital != "City Medical Center" {
		t.Fatalf("hospital = %q", updated.Hospital)
	}
	if updated.Name != "Dr. Sarah Johnson" {
		t.Fatalf("untouched name changed: %q", updated.Name)
	}
}

func TestSpecialtyEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")

	resp, err := http.Get(ts.URL + "/api/specialties")
	if err != nil {
		t.Fatalf("list specialties: %v", err)
	}
	var list struct {
		Items []domain.MedicalSpecialty `json:"items"`
		Count int                       `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 6 || len(list.Items) != 6 {
		t.Fatalf("expected 6 specialties, got %d", list.Count)
	}

	resp, err = http.Get(ts.URL + "/api/specialties/neurology")
	if err != nil {
		t.Fatalf("get specialty: %v", err)
	}
	var sp domain.MedicalSpecialty
	decodeBody(t, resp, &sp)
	if sp.ID != "neurology" {
		t.Fatalf("specialty = %+v", sp)
	}

	resp, err = http.Get(ts.URL + "/api/specialties/astrology")
	if err != nil {
		t.Fatalf("get unknown specialty: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown specialty expected 404, got %d", resp.StatusCode)
	}
}

func TestConsultationFlowAndExport(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "looks benign")
	token := loginDemo(t, ts.URL)

	resp := postJSON(t, ts.URL+"/api/consultations", token, map[string]string{"specialty": "dermatology"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start consultation expected 201, got %d", resp.StatusCode)
	}
	var c domain.Consultation
	decodeBody(t, resp, &c)

	msgResp := postJSON(t, ts.URL+"/api/consultations/"+c.ID+"/messages", token, map[string]string{
		"content": "rash on forearm",
	})
	if msgResp.StatusCode != http.StatusOK {
		t.Fatalf("send message expected 200, got %d", msgResp.StatusCode)
	}
	var sent struct {
		Message domain.ChatMessage `json:"message"`
	}
	decodeBody(t, msgResp, &sent)
	if sent.Message.Content != "looks benign" {
		t.Fatalf("unexpected reply: %+v", sent.Message)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/consultations/"+c.ID+"/export", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	expResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer expResp.Body.Close()
	if expResp.StatusCode != http.StatusOK {
		t.Fatalf("export expected 200, got %d", expResp.StatusCode)
	}
	disposition := expResp.Header.Get("Content-Disposition")
	if !strings.Contains(disposition, "consultation-dermatology-") {
		t.Fatalf("Content-Disposition = %q", disposition)
	}
	data, err := io.ReadAll(expResp.Body)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc struct {
		Specialty string `json:"specialty"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("re-parse export: %v", err)
	}
	if doc.Specialty != "Dermatology" || len(doc.Messages) != 2 {
		t.Fatalf("unexpected export: %+v", doc)
	}
}

func TestConsultationOwnership(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, "ok")
	token := loginDemo(t, ts.URL)

	resp := postJSON(t, ts.URL+"/api/consultations", token, map[string]string{"specialty": "cardiology"})
	var c domain.Consultation
	decodeBody(t, resp, &c)

	otherResp := postJSON(t, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "dr.smith@clinic.com",
		"password": "demo123",
	})
	var other struct {
		Token string `json:"token"`
	}
	decodeBody(t, otherResp, &other)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/consultations/"+c.ID, nil)
	req.Header.Set("Authorization", "Bearer "+other.Token)
	got, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get consultation: %v", err)
	}
	got.Body.Close()
	if got.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for another doctor's consultation, got %d", got.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	upstream := newUpstream(t, http.StatusOK, "ok")
	t.Cleanup(upstream.Close)
	redis := miniredis.RunT(t)

	client := ai.NewClient(ai.ClientConfig{BaseURL: upstream.URL, CustomerID: "cus_test", APIKey: "k"})
	a, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Sessions:      store.NewRedisSessionStore(redis.Addr(), "", 0),
		AI:            client,
		SeedDemoUsers: true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{
		App:                     a,
		RedisAddr:               redis.Addr(),
		LoginRateLimitPerMinute: 1,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	payload := map[string]string{"email": "doctor@hospital.com", "password": "demo123"}
	resp1 := postJSON(t, ts.URL+"/api/auth/login", "", payload)
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", resp1.StatusCode)
	}
	resp2 := postJSON(t, ts.URL+"/api/auth/login", "", payload)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp2.StatusCode)
	}
}

func TestServerRequiresRedisRateLimiter(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected redis-backed limiter initialization to fail without redis addr")
	}
}

func TestAttachmentUploadAndChatWithAttachment(t *testing.T) {
	var lastBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "image reviewed"}},
			},
		})
	}))
	t.Cleanup(upstream.Close)
	redis := miniredis.RunT(t)

	client := ai.NewClient(ai.ClientConfig{BaseURL: upstream.URL, CustomerID: "cus_test", APIKey: "k"})
	a, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Sessions:      store.NewRedisSessionStore(redis.Addr(), "", 0),
		AI:            client,
		SeedDemoUsers: true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: a, RedisAddr: redis.Addr()})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	token := loginDemo(t, ts.URL)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "scan.png", "image/png", []byte("PNG!"))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/attachments", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw)
	upResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if upResp.StatusCode != http.StatusCreated {
		t.Fatalf("upload expected 201, got %d", upResp.StatusCode)
	}
	var att domain.FileAttachment
	decodeBody(t, upResp, &att)
	if att.Name != "scan.png" || att.ID == "" {
		t.Fatalf("unexpected attachment: %+v", att)
	}

	chatResp := postJSON(t, ts.URL+"/api/chat", "", map[string]any{
		"messages": []map[string]any{
			{"role": "user", "content": "what does the scan show", "attachments": []domain.FileAttachment{{
				ID:   att.ID,
				Name: att.Name,
				Type: att.Type,
				URL:  fmt.Sprintf("data:image/png;base64,%s", "UE5HIQ=="),
			}}},
		},
		"specialty": "radiology",
	})
	chatResp.Body.Close()
	if chatResp.StatusCode != http.StatusOK {
		t.Fatalf("chat with attachment expected 200, got %d", chatResp.StatusCode)
	}
	if !bytes.Contains(lastBody, []byte("image_url")) {
		t.Fatalf("upstream request should carry a multimodal image part: %s", lastBody)
	}
}
