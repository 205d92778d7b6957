package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signal-insights/internal/config"
	"signal-insights/internal/data"
	"signal-insights/internal/llm"
)

var defaults = data.AcquisitionParameters{SampleRateHz: 1000, DurationS: 5, BaseFreqHz: 5, NoiseStd: 0.2}

type fakeLoop struct {
	ticks   *atomic.Int32
	stopped chan struct{}
}

func (f fakeLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(f.stopped)
			return ctx.Err()
		case <-time.After(time.Millisecond):
			f.ticks.Add(1)
		}
	}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, map[string]fakeLoop) {
	t.Helper()
	var mu sync.Mutex
	loops := map[string]fakeLoop{}
	m := NewManager(defaults, func(s *Session) Runner {
		l := fakeLoop{ticks: new(atomic.Int32), stopped: make(chan struct{})}
		mu.Lock()
		loops[s.ID] = l
		mu.Unlock()
		return l
	}, nil, opts...)
	t.Cleanup(m.CloseAll)
	return m, loops
}

func TestManagerLifecycle(t *testing.T) {
	var closed []string
	var active atomic.Int32
	m, loops := newTestManager(t,
		WithOnClose(func(id string) { closed = append(closed, id) }),
		WithObserver(func(n int) { active.Store(int32(n)) }))

	s := m.Create()
	require.NotEmpty(t, s.ID)
	require.Equal(t, defaults, s.Params())
	require.Equal(t, DefaultChatName, s.ChatName())
	require.EqualValues(t, 1, active.Load())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	require.Same(t, s, got)

	loop := loops[s.ID]
	require.Eventually(t, func() bool { return loop.ticks.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, m.Close(s.ID))
	<-loop.stopped
	<-s.Done()
	require.Equal(t, []string{s.ID}, closed)
	require.EqualValues(t, 0, active.Load())

	_, err = m.Get(s.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.Close(s.ID), ErrNotFound)
}

func TestManagerSessionsAreIndependent(t *testing.T) {
	m, _ := newTestManager(t)
	a, b := m.Create(), m.Create()
	require.NotEqual(t, a.ID, b.ID)

	p := defaults
	p.BaseFreqHz = 12
	require.NoError(t, a.SetParams(p))
	require.Equal(t, 12.0, a.Params().BaseFreqHz)
	require.Equal(t, defaults, b.Params())

	a.AppendMessages(llm.Message{Role: llm.RoleUser, Content: "hi"})
	require.Len(t, a.Messages(), 1)
	require.Empty(t, b.Messages())
	require.Len(t, m.List(), 2)

	m.CloseAll()
	require.Empty(t, m.List())
}

func TestSetParamsRejectsInvalid(t *testing.T) {
	s := newSession("x", defaults, time.Now())
	p := defaults
	p.SampleRateHz = 10
	require.ErrorIs(t, s.SetParams(p), config.ErrInvalidParams)
	require.Equal(t, defaults, s.Params())
}

func TestChatState(t *testing.T) {
	s := newSession("x", defaults, time.Now())
	s.AppendMessages(llm.Message{Role: llm.RoleUser, Content: "q"}, llm.Message{Role: llm.RoleAssistant, Content: "a"})

	msgs := s.Messages()
	msgs[0].Content = "changed"
	require.Equal(t, "q", s.Messages()[0].Content)

	s.LoadChat("pump study", []llm.Message{{Role: llm.RoleUser, Content: "saved"}})
	require.Equal(t, "pump study", s.ChatName())
	require.Equal(t, "saved", s.Messages()[0].Content)

	s.RenameChat("renamed")
	require.Equal(t, "renamed", s.ChatName())
}

func TestPublishKeepsLatest(t *testing.T) {
	s := newSession("x", defaults, time.Now())
	require.Nil(t, s.Latest())
	snap := &data.Snapshot{SessionID: "x", Text: "t"}
	s.Publish(context.Background(), snap)
	require.Same(t, snap, s.Latest())
}
