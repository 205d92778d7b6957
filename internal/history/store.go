// Package history persists named conversations, one JSON document per chat.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"signal-insights/internal/llm"
)

// TimestampLayout is the layout of the timestamp field of a saved chat.
const TimestampLayout = "20060102_150405"

const (
	filePrefix = "chat_"
	fileSuffix = ".json"
)

var (
	ErrNotFound    = errors.New("chat not found")
	ErrInvalidName = errors.New("invalid chat name")
)

// Chat is a saved conversation.
type Chat struct {
	Filename string        `json:"filename"`
	Name     string        `json:"name"`
	Messages []llm.Message `json:"messages"`
	Created  time.Time     `json:"created"`
}

type document struct {
	Name      string        `json:"name"`
	Messages  []llm.Message `json:"messages"`
	Timestamp string        `json:"timestamp"`
}

// Store keeps chats in a directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// ValidateName rejects names that cannot be used as part of a file name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`+"\x00") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func filename(name string) string {
	return filePrefix + name + fileSuffix
}

// Save writes the conversation under name, replacing an earlier save, and
// returns the file name used.
func (s *Store) Save(name string, messages []llm.Message) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("history: create %s: %w", s.dir, err)
	}
	if messages == nil {
		messages = []llm.Message{}
	}
	b, err := json.MarshalIndent(document{
		Name:      name,
		Messages:  messages,
		Timestamp: s.now().Format(TimestampLayout),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("history: encode %q: %w", name, err)
	}

	file := filename(name)
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+file)
	if err != nil {
		return "", fmt.Errorf("history: save %q: %w", name, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("history: save %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("history: save %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, file)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("history: save %q: %w", name, err)
	}
	return file, nil
}

// Load reads the chat saved under name.
func (s *Store) Load(name string) (*Chat, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	chat, err := s.read(filename(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return chat, err
}

// List returns every readable chat, newest first. Files that cannot be
// decoded or carry no valid timestamp are skipped. A missing directory is
// an empty history.
func (s *Store) List() ([]*Chat, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: list %s: %w", s.dir, err)
	}

	var chats []*Chat
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		chat, err := s.read(name)
		if err != nil {
			continue
		}
		chats = append(chats, chat)
	}
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].Created.After(chats[j].Created) })
	return chats, nil
}

func (s *Store) read(file string) (*Chat, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, file))
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", file, err)
	}
	created, err := time.ParseInLocation(TimestampLayout, doc.Timestamp, time.Local)
	if err != nil {
		return nil, fmt.Errorf("history: %s: timestamp: %w", file, err)
	}
	if doc.Name == "" {
		doc.Name = "Untitled Chat"
	}
	return &Chat{Filename: file, Name: doc.Name, Messages: doc.Messages, Created: created}, nil
}

// Groups partitions chats by age.
type Groups struct {
	Today    []*Chat `json:"today"`
	ThisWeek []*Chat `json:"this_week"`
	Older    []*Chat `json:"older"`
}

// Categorize puts chats created since local midnight in Today, those of the
// last seven days in ThisWeek and the rest in Older, keeping their order.
func Categorize(now time.Time, chats []*Chat) Groups {
	y, m, d := now.Date()
	todayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	weekAgo := now.AddDate(0, 0, -7)

	g := Groups{Today: []*Chat{}, ThisWeek: []*Chat{}, Older: []*Chat{}}
	for _, c := range chats {
		switch {
		case !c.Created.Before(todayStart):
			g.Today = append(g.Today, c)
		case !c.Created.Before(weekAgo):
			g.ThisWeek = append(g.ThisWeek, c)
		default:
			g.Older = append(g.Older, c)
		}
	}
	return g
}
