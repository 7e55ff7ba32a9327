package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bdobrica/Kotoba/common/trace"
	"github.com/bdobrica/Kotoba/common/version"
	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
)

const pingTimeout = 2 * time.Second

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	Success          bool            `json:"success"`
	Response         string          `json:"response"`
	Intents          []intent.Intent `json:"intents"`
	IdentityStatus   session.Status  `json:"identity_status"`
	ChatTerminated   bool            `json:"chat_terminated"`
	SessionID        string          `json:"session_id"`
	Provider         string          `json:"provider,omitempty"`
	Model            string          `json:"model,omitempty"`
	VirtualHumanName string          `json:"virtual_human_name,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// SessionInfoRequest is the body of POST /set_session_info. Browser and IP
// default to the request's User-Agent and client address.
type SessionInfoRequest struct {
	SessionID string `json:"session_id"`
	Browser   string `json:"browser"`
	IP        string `json:"ip"`
	Location  string `json:"location"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"commit":         version.GitCommit,
		"build_time":     version.BuildTime,
		"started_at":     s.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Sessions != nil {
		out["sessions"] = s.deps.Sessions.Len()
	}
	if s.deps.Providers != nil {
		out["provider"] = string(s.deps.Providers.Current())
		out["model"] = s.deps.Providers.Model()
	}
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			out["status"] = "degraded"
			out["database"] = err.Error()
		} else {
			out["database"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "please enter a message")
		return
	}
	if req.SessionID == "" {
		req.SessionID = session.NewID()
	}
	if st := s.deps.Sessions.Status(req.SessionID); st.Meta.Browser == "" {
		s.deps.Sessions.SetMeta(req.SessionID, archive.Meta{
			Browser:  r.UserAgent(),
			IP:       clientIP(r),
			Location: st.Meta.Location,
		})
	}

	reply, err := s.deps.Sessions.Chat(r.Context(), req.SessionID, req.Message)
	var inv *session.InvalidInputError
	switch {
	case errors.As(err, &inv):
		st := s.deps.Sessions.Status(req.SessionID)
		writeJSON(w, http.StatusOK, ChatResponse{
			Response:       inv.Message,
			Intents:        []intent.Intent{},
			IdentityStatus: st,
			ChatTerminated: st.Terminated,
			SessionID:      req.SessionID,
			Error:          inv.Message,
		})
		return
	case err != nil:
		trace.Logger(r.Context(), s.logger).Error("api: chat failed", "session_id", req.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := ChatResponse{
		Success:        reply.Success,
		Response:       reply.Text,
		Intents:        reply.Intents,
		IdentityStatus: reply.Status,
		ChatTerminated: reply.Status.Terminated,
		SessionID:      req.SessionID,
		Error:          reply.Error,
	}
	if resp.Intents == nil {
		resp.Intents = []intent.Intent{}
	}
	if s.deps.Providers != nil {
		resp.Provider = string(s.deps.Providers.Current())
		resp.Model = s.deps.Providers.Model()
	}
	if s.deps.PersonaName != nil {
		resp.VirtualHumanName = s.deps.PersonaName()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Providers == nil {
		writeError(w, http.StatusServiceUnavailable, "llm providers are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"providers":        s.deps.Providers.Providers(),
		"current_provider": string(s.deps.Providers.Current()),
		"current_model":    s.deps.Providers.Model(),
	})
}

func (s *Server) handleSwitchProvider(w http.ResponseWriter, r *http.Request) {
	if s.deps.Providers == nil {
		writeError(w, http.StatusServiceUnavailable, "llm providers are not configured")
		return
	}
	var req struct {
		Provider string `json:"provider"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := llm.Provider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if p == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if err := s.deps.Providers.Switch(r.Context(), p); err != nil {
		trace.Logger(r.Context(), s.logger).Warn("api: provider switch refused", "provider", p, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trace.Logger(r.Context(), s.logger).Info("api: provider switched", "provider", p)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          fmt.Sprintf("已切换到 %s", p),
		"current_provider": string(s.deps.Providers.Current()),
		"current_model":    s.deps.Providers.Model(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	history := s.deps.Sessions.History(id)
	if history == nil {
		history = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": id,
		"history":    history,
		"count":      len(history),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		EndReason string `json:"end_reason"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	st, archived := s.deps.Sessions.Clear(r.Context(), req.SessionID, req.EndReason)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "聊天历史已清空并归档",
		"archived":        archived,
		"identity_status": st,
	})
}

func (s *Server) handleIdentityStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		session.Status
	}{true, s.deps.Sessions.Status(id)})
}

func (s *Server) handleSetSessionInfo(w http.ResponseWriter, r *http.Request) {
	var req SessionInfoRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	meta := archive.Meta{Browser: req.Browser, IP: req.IP, Location: req.Location}
	if meta.Browser == "" {
		meta.Browser = r.UserAgent()
	}
	if meta.IP == "" {
		meta.IP = clientIP(r)
	}
	st := s.deps.Sessions.SetMeta(req.SessionID, meta)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "会话信息已设置",
		"session_info": st.Meta,
	})
}

func (s *Server) handleArchiveHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive is not configured")
		return
	}
	identity := chi.URLParam(r, "identity")
	limit := archive.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sessions, err := s.deps.Archive.SessionHistory(r.Context(), identity, limit)
	if err != nil {
		trace.Logger(r.Context(), s.logger).Error("api: archive history failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sessions == nil {
		sessions = []archive.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"user_identity": identity,
		"chat_history":  sessions,
	})
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive is not configured")
		return
	}
	detail, err := s.deps.Archive.SessionDetail(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, "会话不存在")
		return
	case err != nil:
		trace.Logger(r.Context(), s.logger).Error("api: archive detail failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"session_detail": detail,
	})
}

// clientIP returns the request's client address. RealIP has already applied
// any forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
