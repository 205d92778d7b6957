package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signal-insights/internal/auth"
	"signal-insights/internal/config"
	"signal-insights/internal/data"
	"signal-insights/internal/history"
	"signal-insights/internal/llm"
	"signal-insights/internal/metrics"
	"signal-insights/internal/refresh"
	"signal-insights/internal/session"
	"signal-insights/internal/storage"
	"signal-insights/internal/websocket"
)

type completerFunc func(ctx context.Context, messages []llm.Message, stream bool) (*llm.Response, error)

func (f completerFunc) Complete(ctx context.Context, messages []llm.Message, stream bool) (*llm.Response, error) {
	return f(ctx, messages, stream)
}

var defaults = data.AcquisitionParameters{SampleRateHz: 1000, DurationS: 5, BaseFreqHz: 5, NoiseStd: 0.2}

type harness struct {
	srv      *httptest.Server
	sessions *session.Manager
	path     string

	mu      sync.Mutex
	prompts []llm.Message
}

func (h *harness) lastPrompt() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prompts
}

func writeRecords(t *testing.T, path string, n int) {
	t.Helper()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	var b strings.Builder
	for i := 0; i < n; i++ {
		v := 1.0
		if i%2 == 1 {
			v = -1
		}
		fmt.Fprintf(&b, "{\"timestamp\": %q, \"value\": %g}\n", base.Add(time.Duration(i)*10*time.Millisecond).Format(time.RFC3339Nano), v)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func newHarness(t *testing.T, authCfg config.Auth) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{path: filepath.Join(dir, "output.jsonl")}

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)
	store := storage.NewMemoryStore(10)
	m := metrics.New()

	h.sessions = session.NewManager(defaults, func(s *session.Session) session.Runner {
		return refresh.New(s.ID, refresh.Config{Path: h.path, Window: 100, Interval: 5 * time.Millisecond}, s, nil,
			refresh.WithSinks(s, store, hub, m))
	}, nil, session.WithOnClose(store.Drop), session.WithObserver(m.SetActiveSessions))

	advisor := llm.NewHandler(completerFunc(func(_ context.Context, msgs []llm.Message, stream bool) (*llm.Response, error) {
		h.mu.Lock()
		h.prompts = msgs
		h.mu.Unlock()
		if stream {
			return llm.StreamResponse(func(yield func(string, error) bool) {
				_ = yield("- check ", nil) && yield("the sensor", nil)
			}), nil
		}
		return llm.TextResponse("- all good"), nil
	}), nil, llm.WithObserver(m.ObserveLLM))

	handler, err := NewAPIHandler(Deps{
		Sessions:   h.sessions,
		Store:      store,
		Hub:        hub,
		Chats:      history.NewStore(filepath.Join(dir, "chat_history")),
		Advisor:    advisor,
		Auth:       auth.NewAuthManager(authCfg),
		Metrics:    m,
		SourcePath: h.path,
	})
	require.NoError(t, err)

	h.srv = httptest.NewServer(SetupRouter(handler))
	t.Cleanup(func() {
		h.srv.Close()
		h.sessions.CloseAll()
		cancel()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func (h *harness) createSession(t *testing.T) sessionView {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var v sessionView
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func (h *harness) waitForStats(t *testing.T, id string) {
	t.Helper()
	s, err := h.sessions.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap := s.Latest()
		return snap != nil && snap.Stats != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, config.Auth{})
	v := h.createSession(t)
	require.Equal(t, defaults, v.Params)
	require.Equal(t, session.DefaultChatName, v.ChatName)

	resp, _ := h.do(t, http.MethodGet, "/api/sessions/"+v.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.do(t, http.MethodPut, "/api/sessions/"+v.ID+"/params", `{"sample_rate_hz":2000,"duration_s":3,"base_freq_hz":12,"noise_std":0.1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = h.do(t, http.MethodPut, "/api/sessions/"+v.ID+"/params", `{"sample_rate_hz":20,"duration_s":3,"base_freq_hz":12,"noise_std":0.1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "sample_rate_hz")

	resp, _ = h.do(t, http.MethodPut, "/api/sessions/"+v.ID+"/params", `{"bogus":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodDelete, "/api/sessions/"+v.ID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/api/sessions/"+v.ID, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/api/sessions/"+v.ID, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSnapshotAndHistory(t *testing.T) {
	h := newHarness(t, config.Auth{})
	writeRecords(t, h.path, 120)
	v := h.createSession(t)
	h.waitForStats(t, v.ID)

	resp, body := h.do(t, http.MethodGet, "/api/sessions/"+v.ID+"/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap data.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Len(t, snap.Records, 100)
	require.Equal(t, 100, snap.SampleRateHz)
	require.InDelta(t, 50, snap.Stats.DominantFrequency, 1e-9)
	require.True(t, strings.HasPrefix(snap.Text, "Signal Statistics\n- Mean: "))

	resp, body = h.do(t, http.MethodGet, "/api/sessions/"+v.ID+"/history?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []data.Snapshot
	require.NoError(t, json.Unmarshal(body, &hist))
	require.NotEmpty(t, hist)
	require.LessOrEqual(t, len(hist), 2)

	resp, _ = h.do(t, http.MethodGet, "/api/sessions/"+v.ID+"/history?limit=x", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/api/records/head?n=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var head []data.Record
	require.NoError(t, json.Unmarshal(body, &head))
	require.Len(t, head, 3)
	require.Equal(t, 1.0, head[0].Value)
}

func TestAdviceRequiresData(t *testing.T) {
	h := newHarness(t, config.Auth{})
	v := h.createSession(t)
	s, err := h.sessions.Get(v.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Latest() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, body := h.do(t, http.MethodPost, "/api/sessions/"+v.ID+"/advice", `{"context":"x"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))
}

func TestAdvice(t *testing.T) {
	h := newHarness(t, config.Auth{})
	writeRecords(t, h.path, 120)
	v := h.createSession(t)
	h.waitForStats(t, v.ID)

	resp, body := h.do(t, http.MethodPost, "/api/sessions/"+v.ID+"/advice", `{"context":"pump bearing","stream":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"advice":"- all good"}`, string(body))
	prompt := h.lastPrompt()
	require.Len(t, prompt, 2)
	require.Equal(t, llm.RoleSystem, prompt[0].Role)
	require.Contains(t, prompt[1].Content, "Context: pump bearing")
	require.Contains(t, prompt[1].Content, "Sample Rate: 1000 Hz")

	resp, body = h.do(t, http.MethodPost, "/api/sessions/"+v.ID+"/advice", `{"stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "- check the sensor", string(body))
	require.True(t, strings.HasSuffix(h.lastPrompt()[1].Content, "Context: None"))

	resp, body = h.do(t, http.MethodGet, "/api/sessions/"+v.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got sessionView
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Messages, 4)
	require.Equal(t, "- check the sensor", got.Messages[3].Content)
}

func TestChats(t *testing.T) {
	h := newHarness(t, config.Auth{})
	v := h.createSession(t)
	s, err := h.sessions.Get(v.ID)
	require.NoError(t, err)
	s.AppendMessages(llm.Message{Role: llm.RoleUser, Content: "hello"})

	resp, body := h.do(t, http.MethodPost, "/api/sessions/"+v.ID+"/chat", `{"name":"pump"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	require.Equal(t, "pump", s.ChatName())

	resp, _ = h.do(t, http.MethodPost, "/api/sessions/"+v.ID+"/chat", `{"name":"../x"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/api/chats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var groups history.Groups
	require.NoError(t, json.Unmarshal(body, &groups))
	require.Len(t, groups.Today, 1)
	require.Equal(t, "pump", groups.Today[0].Name)

	resp, _ = h.do(t, http.MethodGet, "/api/chats/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	other := h.createSession(t)
	resp, body = h.do(t, http.MethodPost, "/api/sessions/"+other.ID+"/chat/pump", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loaded sessionView
	require.NoError(t, json.Unmarshal(body, &loaded))
	require.Equal(t, "pump", loaded.ChatName)
	require.Equal(t, "hello", loaded.Messages[0].Content)
}

func TestAuthProtectsAdviceAndChats(t *testing.T) {
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	h := newHarness(t, config.Auth{JWTSecret: "secret", APIKeys: []string{"key"}, Users: map[string]string{"ada": hash}})
	v := h.createSession(t)

	resp, _ := h.do(t, http.MethodGet, "/api/chats", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/sessions/"+v.ID+"/chat", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/chats", "", "X-API-Key", "key")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/login", `{"username":"ada","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/api/login", `{"username":"ada","password":"pw"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok struct{ Token string }
	require.NoError(t, json.Unmarshal(body, &tok))

	resp, _ = h.do(t, http.MethodGet, "/api/chats", "", "Authorization", "Bearer "+tok.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Session routes outside the group stay open.
	resp, _ = h.do(t, http.MethodGet, "/api/sessions/"+v.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPageHealthAndMetrics(t *testing.T) {
	h := newHarness(t, config.Auth{})
	h.createSession(t)

	resp, body := h.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "<title>Signal Insights</title>")

	resp, body = h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok","sessions":1}`, string(body))

	resp, body = h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "signal_insights_active_sessions 1")
}

func TestWebSocketUnknownSession(t *testing.T) {
	h := newHarness(t, config.Auth{})
	resp, _ := h.do(t, http.MethodGet, "/ws?session=nope", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequesterNamesTokenUser(t *testing.T) {
	am := auth.NewAuthManager(config.Auth{JWTSecret: "secret"})
	token, err := am.GenerateJWT("ada")
	require.NoError(t, err)

	var got string
	h := am.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requester(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "ada", got)

	require.Equal(t, "anonymous", requester(httptest.NewRequest(http.MethodGet, "/", nil)))
}
