package api

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"signal-insights/internal/advice"
	"signal-insights/internal/auth"
	"signal-insights/internal/config"
	"signal-insights/internal/data"
	"signal-insights/internal/history"
	"signal-insights/internal/llm"
	"signal-insights/internal/metrics"
	"signal-insights/internal/session"
	"signal-insights/internal/source"
	"signal-insights/internal/storage"
	"signal-insights/internal/websocket"
)

//go:embed templates/*.html
var templates embed.FS

const (
	maxBodyBytes   = 64 << 10
	maxHeadRecords = 10_000
)

// Deps are the components the HTTP API fronts.
type Deps struct {
	Sessions   *session.Manager
	Store      *storage.MemoryStore
	Hub        *websocket.Hub
	Chats      *history.Store
	Advisor    *llm.Handler
	Auth       *auth.AuthManager
	Metrics    *metrics.Metrics
	SourcePath string
	Log        *slog.Logger
}

type APIHandler struct {
	Deps
	tmpl *template.Template
}

func NewAPIHandler(d Deps) (*APIHandler, error) {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	tmpl, err := template.ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &APIHandler{Deps: d, tmpl: tmpl}, nil
}

type sessionView struct {
	ID       string                     `json:"id"`
	Created  time.Time                  `json:"created"`
	Params   data.AcquisitionParameters `json:"params"`
	ChatName string                     `json:"chat_name"`
	Messages []llm.Message              `json:"messages"`
}

func viewOf(s *session.Session) sessionView {
	msgs := s.Messages()
	if msgs == nil {
		msgs = []llm.Message{}
	}
	return sessionView{ID: s.ID, Created: s.Created, Params: s.Params(), ChatName: s.ChatName(), Messages: msgs}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// session resolves the {id} URL parameter, answering 404 itself when the
// session does not exist.
func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

// ServeWebUI serves the dashboard page
func (h *APIHandler) ServeWebUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, "index.html", nil); err != nil {
		h.Log.Error("executing template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *APIHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(h.Sessions.List())})
}

func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Auth.AuthenticateUser(req.Username, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	token, err := h.Auth.GenerateJWT(req.Username)
	if err != nil {
		if errors.Is(err, auth.ErrDisabled) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("signing token", "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, viewOf(h.Sessions.Create()))
}

func (h *APIHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	views := []sessionView{}
	for _, s := range h.Sessions.List() {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, viewOf(s))
	}
}

func (h *APIHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var p data.AcquisitionParameters
	if err := decode(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.SetParams(p); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidParams) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Params())
}

func (h *APIHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap := s.Latest()
	if snap == nil {
		writeError(w, http.StatusConflict, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *APIHandler) SnapshotHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Store.GetRecent(s.ID, limit))
}

// Head returns the first records of the watched file.
func (h *APIHandler) Head(w http.ResponseWriter, r *http.Request) {
	n, err := intQuery(r, "n", 100)
	if err != nil || n <= 0 || n > maxHeadRecords {
		writeError(w, http.StatusBadRequest, "n must be between 1 and "+strconv.Itoa(maxHeadRecords))
		return
	}
	records := source.ReadFirst(h.SourcePath, n)
	if records == nil {
		records = []data.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Advice asks the language model about the session's latest statistics.
// Streamed replies are written as plain text chunks as they arrive.
func (h *APIHandler) Advice(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Context string `json:"context"`
		Stream  bool   `json:"stream"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var stats *data.Statistics
	if snap := s.Latest(); snap != nil {
		stats = snap.Stats
	}
	msgs, err := advice.Build(stats, s.Params(), req.Context)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.Log.Info("advice requested", "session", s.ID, "user", requester(r), "stream", req.Stream)
	resp := h.Advisor.Respond(r.Context(), msgs, req.Stream)
	var reply strings.Builder
	if req.Stream {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		rc := http.NewResponseController(w)
		for chunk := range resp.Chunks() {
			reply.WriteString(chunk)
			if _, err := w.Write([]byte(chunk)); err != nil {
				h.Log.Debug("advice stream aborted", "session", s.ID, "error", err)
				return
			}
			rc.Flush()
		}
	} else {
		text, _ := resp.Text()
		reply.WriteString(text)
		writeJSON(w, http.StatusOK, map[string]string{"advice": text})
	}

	s.AppendMessages(msgs[1], llm.Message{Role: llm.RoleAssistant, Content: reply.String()})
}

func (h *APIHandler) SaveChat(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = s.ChatName()
	}
	file, err := h.Chats.Save(name, s.Messages())
	if err != nil {
		if errors.Is(err, history.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("saving chat", "session", s.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save chat")
		return
	}
	s.RenameChat(name)
	h.Log.Info("chat saved", "session", s.ID, "user", requester(r), "file", file)
	writeJSON(w, http.StatusCreated, map[string]string{"name": name, "filename": file})
}

func (h *APIHandler) LoadChat(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	chat, ok := h.chat(w, chi.URLParam(r, "name"))
	if !ok {
		return
	}
	s.LoadChat(chat.Name, chat.Messages)
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *APIHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Chats.List()
	if err != nil {
		h.Log.Error("listing chats", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list chats")
		return
	}
	writeJSON(w, http.StatusOK, history.Categorize(time.Now(), chats))
}

func (h *APIHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	if chat, ok := h.chat(w, chi.URLParam(r, "name")); ok {
		writeJSON(w, http.StatusOK, chat)
	}
}

func (h *APIHandler) chat(w http.ResponseWriter, name string) (*history.Chat, bool) {
	chat, err := h.Chats.Load(name)
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	case errors.Is(err, history.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	case err != nil:
		h.Log.Error("loading chat", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load chat")
		return nil, false
	}
	return chat, true
}

// HandleWebSocket upgrades connections and registers clients with the hub
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Get(r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	client, err := websocket.Upgrade(h.Hub, w, r, s.ID)
	if err != nil {
		h.Log.Warn("websocket upgrade", "error", err)
		return
	}
	if !h.Hub.RegisterClient(client, h.Store.GetRecent(s.ID, 0)) {
		client.Conn.Close()
		return
	}

	// Start read/write pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}

// requester names the authenticated caller for logs.
func requester(r *http.Request) string {
	if u, ok := auth.Username(r.Context()); ok {
		return u
	}
	return "anonymous"
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}
