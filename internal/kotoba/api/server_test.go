package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/bdobrica/Kotoba/internal/kotoba/api"
	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
)

// --- fakes -----------------------------------------------------------------

type fakeSessions struct {
	mu       sync.Mutex
	chats    map[string][]string
	meta     map[string]archive.Meta
	cleared  []string
	chatErr  error
	terminal bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{chats: make(map[string][]string), meta: make(map[string]archive.Meta)}
}

func (f *fakeSessions) status(id string) session.Status {
	return session.Status{
		SessionID:  id,
		State:      session.Active,
		TurnCount:  len(f.chats[id]),
		TurnLimit:  100,
		Terminated: f.terminal,
		Meta:       f.meta[id],
	}
}

func (f *fakeSessions) Chat(_ context.Context, id, text string) (session.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return session.Reply{}, f.chatErr
	}
	f.chats[id] = append(f.chats[id], text)
	return session.Reply{Success: true, Text: "reply:" + text, Status: f.status(id)}, nil
}

func (f *fakeSessions) Clear(_ context.Context, id, reason string) (session.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id+"|"+reason)
	delete(f.chats, id)
	return f.status(id), true
}

func (f *fakeSessions) Status(id string) session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status(id)
}

func (f *fakeSessions) SetMeta(id string, meta archive.Meta) session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[id] = meta
	return f.status(id)
}

func (f *fakeSessions) History(id string) []session.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Turn
	for _, text := range f.chats[id] {
		out = append(out, session.Turn{User: text, Assistant: "reply:" + text})
	}
	return out
}

func (f *fakeSessions) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

type fakeProviders struct {
	mu      sync.Mutex
	current llm.Provider
}

func (f *fakeProviders) Providers() []llm.ProviderInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []llm.ProviderInfo{
		{Name: llm.ProviderMock, Model: "mock", Configured: true, Active: f.current == llm.ProviderMock},
		{Name: llm.ProviderOpenAI, Model: "gpt-4o-mini", Configured: true, Active: f.current == llm.ProviderOpenAI},
	}
}

func (f *fakeProviders) Switch(_ context.Context, p llm.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p != llm.ProviderMock && p != llm.ProviderOpenAI {
		return fmt.Errorf("llm: unknown provider %q", p)
	}
	f.current = p
	return nil
}

func (f *fakeProviders) Current() llm.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeProviders) Model() string { return "mock" }

type fakeArchive struct{}

func (fakeArchive) SessionHistory(_ context.Context, identity string, limit int) ([]archive.Session, error) {
	var out []archive.Session
	for i := 0; i < limit && i < 2; i++ {
		out = append(out, archive.Session{ID: fmt.Sprintf("s%d", i), Identity: identity})
	}
	return out, nil
}

func (fakeArchive) SessionDetail(_ context.Context, id string) (archive.Detail, error) {
	if id != "s0" {
		return archive.Detail{}, archive.ErrNotFound
	}
	return archive.Detail{Session: archive.Session{ID: id}}, nil
}

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

// --- helpers ---------------------------------------------------------------

type fixture struct {
	srv       *api.Server
	sessions  *fakeSessions
	providers *fakeProviders
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sessions: newFakeSessions(), providers: &fakeProviders{current: llm.ProviderMock}}
	f.srv = api.NewServer(api.Deps{
		Sessions:    f.sessions,
		Providers:   f.providers,
		Archive:     fakeArchive{},
		DB:          fakeDB{},
		PersonaName: func() string { return "Zy" },
	}, api.Options{}, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("User-Agent", "kotoba-test/1.0")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, out
}

// --- tests -----------------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("GET /health = %d %v", rec.Code, out)
	}
	if rec.Header().Get(api.TraceHeader) == "" {
		t.Error("response has no trace id header")
	}
}

func TestTraceHeaderEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(api.TraceHeader, "t_fixed")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if got := rec.Header().Get(api.TraceHeader); got != "t_fixed" {
		t.Errorf("trace header = %q, want t_fixed", got)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d", rec.Code)
	}
	if out["database"] != "ok" || out["provider"] != "mock" {
		t.Errorf("status = %v", out)
	}
}

func TestStatus_DatabaseDown(t *testing.T) {
	srv := api.NewServer(api.Deps{Sessions: newFakeSessions(), DB: fakeDB{err: errors.New("disk gone")}}, api.Options{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", out["status"])
	}
}

func TestChat_AssignsSessionID(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodPost, "/chat", map[string]string{"message": "你好"})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat = %d %v", rec.Code, out)
	}
	id, _ := out["session_id"].(string)
	if id == "" {
		t.Fatal("no session_id in response")
	}
	if out["response"] != "reply:你好" || out["success"] != true {
		t.Errorf("response = %v", out)
	}
	if out["virtual_human_name"] != "Zy" {
		t.Errorf("virtual_human_name = %v", out["virtual_human_name"])
	}
	if _, ok := out["identity_status"].(map[string]any); !ok {
		t.Errorf("identity_status missing: %v", out)
	}
	if got := f.sessions.meta[id].Browser; got != "kotoba-test/1.0" {
		t.Errorf("browser meta = %q, want the user agent", got)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodPost, "/chat", map[string]string{"message": "   ", "session_id": "s1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST /chat = %d, want 400", rec.Code)
	}
	if out["error"] != "please enter a message" {
		t.Errorf("error = %v", out["error"])
	}
	if len(f.sessions.chats) != 0 {
		t.Error("an empty message reached the session manager")
	}
}

func TestChat_InvalidInputIsGuidance(t *testing.T) {
	f := newFixture(t)
	f.sessions.chatErr = &session.InvalidInputError{Message: "请输入您的姓名。"}
	rec, out := f.do(t, http.MethodPost, "/chat", map[string]string{"message": "123", "session_id": "s1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat = %d, want 200", rec.Code)
	}
	if out["success"] != false || out["response"] != "请输入您的姓名。" {
		t.Errorf("response = %v", out)
	}
}

func TestChat_InternalError(t *testing.T) {
	f := newFixture(t)
	f.sessions.chatErr = errors.New("boom")
	rec, _ := f.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi", "session_id": "s1"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("POST /chat = %d, want 500", rec.Code)
	}
}

func TestSwitchProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantCode int
		wantCur  llm.Provider
	}{
		{"known", "openai", http.StatusOK, llm.ProviderOpenAI},
		{"case folded", "OpenAI", http.StatusOK, llm.ProviderOpenAI},
		{"unknown keeps current", "nonsense", http.StatusBadRequest, llm.ProviderMock},
		{"missing", "", http.StatusBadRequest, llm.ProviderMock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec, out := f.do(t, http.MethodPost, "/switch_provider", map[string]string{"provider": tt.provider})
			if rec.Code != tt.wantCode {
				t.Fatalf("POST /switch_provider = %d %v, want %d", rec.Code, out, tt.wantCode)
			}
			if got := f.providers.Current(); got != tt.wantCur {
				t.Errorf("current provider = %s, want %s", got, tt.wantCur)
			}
		})
	}
}

func TestProviders(t *testing.T) {
	f := newFixture(t)
	_, out := f.do(t, http.MethodGet, "/providers", nil)
	list, _ := out["providers"].([]any)
	if len(list) != 2 || out["current_provider"] != "mock" {
		t.Errorf("providers = %v", out)
	}
}

func TestHistoryAndClear(t *testing.T) {
	f := newFixture(t)
	for _, msg := range []string{"一", "二"} {
		f.do(t, http.MethodPost, "/chat", map[string]string{"message": msg, "session_id": "s1"})
	}

	_, out := f.do(t, http.MethodGet, "/chat_history?session_id=s1", nil)
	if out["count"] != float64(2) {
		t.Fatalf("history count = %v, want 2", out["count"])
	}

	rec, out := f.do(t, http.MethodPost, "/clear_history", map[string]string{"session_id": "s1"})
	if rec.Code != http.StatusOK || out["archived"] != true {
		t.Fatalf("POST /clear_history = %d %v", rec.Code, out)
	}
	if len(f.sessions.cleared) != 1 || f.sessions.cleared[0] != "s1|" {
		t.Errorf("Clear calls = %v", f.sessions.cleared)
	}

	_, out = f.do(t, http.MethodGet, "/chat_history?session_id=s1", nil)
	if out["count"] != float64(0) {
		t.Errorf("history count after clear = %v, want 0", out["count"])
	}
}

func TestIdentityStatus(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodGet, "/identity_status?session_id=s9", nil)
	if rec.Code != http.StatusOK || out["session_id"] != "s9" || out["success"] != true {
		t.Errorf("GET /identity_status = %d %v", rec.Code, out)
	}
	rec, _ = f.do(t, http.MethodGet, "/identity_status", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing session_id = %d, want 400", rec.Code)
	}
}

func TestSetSessionInfo(t *testing.T) {
	f := newFixture(t)
	_, out := f.do(t, http.MethodPost, "/set_session_info", map[string]string{
		"session_id": "s1",
		"location":   "上海",
	})
	info, _ := out["session_info"].(map[string]any)
	if info["location"] != "上海" || info["browser"] != "kotoba-test/1.0" || info["ip_address"] != "192.0.2.1" {
		t.Errorf("session_info = %v", info)
	}
}

func TestArchiveRoutes(t *testing.T) {
	f := newFixture(t)

	user := "/chat_archive/user/" + url.PathEscape("张三")
	_, out := f.do(t, http.MethodGet, user+"?limit=1", nil)
	list, _ := out["chat_history"].([]any)
	if len(list) != 1 || out["user_identity"] != "张三" {
		t.Errorf("archive history = %v", out)
	}

	rec, _ := f.do(t, http.MethodGet, user+"?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}

	rec, out = f.do(t, http.MethodGet, "/chat_archive/session/s0", nil)
	if rec.Code != http.StatusOK || out["session_detail"] == nil {
		t.Errorf("archive session = %d %v", rec.Code, out)
	}

	rec, out = f.do(t, http.MethodGet, "/chat_archive/session/missing", nil)
	if rec.Code != http.StatusNotFound || out["error"] != "会话不存在" {
		t.Errorf("unknown archive session = %d %v", rec.Code, out)
	}
}

func TestArchiveRoutes_Unconfigured(t *testing.T) {
	srv := api.NewServer(api.Deps{Sessions: newFakeSessions()}, api.Options{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat_archive/session/s0", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}
