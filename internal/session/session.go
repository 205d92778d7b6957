// Package session holds the per-viewer dashboard state that survives across
// refresh ticks, and the manager that owns each session's refresh loop.
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"signal-insights/internal/config"
	"signal-insights/internal/data"
	"signal-insights/internal/llm"
)

// DefaultChatName names a conversation that was never saved.
const DefaultChatName = "Untitled Chat"

// Session is the mutable context of one dashboard viewer.
type Session struct {
	ID      string
	Created time.Time

	mu       sync.RWMutex
	params   data.AcquisitionParameters
	chatName string
	messages []llm.Message
	latest   *data.Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(id string, params data.AcquisitionParameters, created time.Time) *Session {
	return &Session{
		ID:       id,
		Created:  created,
		params:   params,
		chatName: DefaultChatName,
		done:     make(chan struct{}),
	}
}

// Params returns the current acquisition parameters.
func (s *Session) Params() data.AcquisitionParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParams replaces the acquisition parameters; the next tick uses them.
func (s *Session) SetParams(p data.AcquisitionParameters) error {
	if err := config.ValidateParams(p); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	return nil
}

// Publish records snap as the latest view.
func (s *Session) Publish(_ context.Context, snap *data.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
}

// Latest returns the last snapshot, or nil before the first tick.
func (s *Session) Latest() *data.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Session) ChatName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatName
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// AppendMessages adds turns to the conversation.
func (s *Session) AppendMessages(msgs ...llm.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

// LoadChat replaces the conversation with a saved one.
func (s *Session) LoadChat(name string, msgs []llm.Message) {
	s.mu.Lock()
	s.chatName = name
	s.messages = slices.Clone(msgs)
	s.mu.Unlock()
}

// RenameChat sets the name the conversation is saved under.
func (s *Session) RenameChat(name string) {
	s.mu.Lock()
	s.chatName = name
	s.mu.Unlock()
}

// Done is closed once the session's refresh loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
