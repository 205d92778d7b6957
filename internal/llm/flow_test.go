package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"text key", `{"text":"hello"}`, "hello"},
		{"key order", `{"content":"late","response":"early"}`, "early"},
		{"non string value", `{"output":{"a":1}}`, `{"a":1}`},
		{"no known key", `{"other":1}`, `{"other":1}`},
		{"bare string", `"just text"`, `"just text"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractReply([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := extractReply([]byte("not json"))
	require.Error(t, err)
}

func TestFlowComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req flowRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "chat", req.InputType)
		require.Equal(t, "chat", req.OutputType)
		require.Equal(t, "system: be kind\nuser: hi", req.InputValue)
		fmt.Fprint(w, `{"result":"flow says hi"}`)
	}))
	defer srv.Close()

	c := NewFlowClient(srv.URL, 0, 0, nil)
	msgs := []Message{{Role: RoleSystem, Content: "be kind"}, {Role: RoleUser, Content: "hi"}}

	resp, err := c.Complete(context.Background(), msgs, false)
	require.NoError(t, err)
	text, _ := resp.Text()
	require.Equal(t, "flow says hi", text)

	resp, err = c.Complete(context.Background(), msgs, true)
	require.NoError(t, err)
	require.True(t, resp.Streaming())
	text, err = resp.Text()
	require.NoError(t, err)
	require.Equal(t, "flow says hi", text)
}

func TestFlowPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewFlowClient(srv.URL, 0, 0, nil).Ping(context.Background())
	require.ErrorContains(t, err, "connection failed")
}

func TestFlowRetriesAndTimesOut(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			fmt.Fprint(w, `{"text":"second try"}`)
		default:
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, `{"text":"too late"}`)
		}
	}))
	defer srv.Close()

	c := NewFlowClient(srv.URL, 50*time.Millisecond, 1, nil)
	resp, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, false)
	require.NoError(t, err)
	text, _ := resp.Text()
	require.Equal(t, "second try", text)
	require.EqualValues(t, 2, calls.Load())

	_, err = NewFlowClient(srv.URL, 50*time.Millisecond, 0, nil).Complete(context.Background(), nil, false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
