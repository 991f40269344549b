// session.go holds per-conversation message history. The store is injectable
// so tests run against an isolated instance instead of process-wide state, and
// each session carries its own mutex so concurrent requests for the same
// conversation serialize instead of interleaving their read-modify-write.
package operator

import (
	"log/slog"
	"sync"
)

// DefaultMaxSessionMessages bounds per-conversation history. Oldest messages
// are dropped when the bound is exceeded.
const DefaultMaxSessionMessages = 40

// Session is the mutable state of one conversation.
type Session struct {
	ID string

	// mu serializes orchestration runs for this conversation.
	mu sync.Mutex

	messages       []chatMessage
	lastAttachment string
}

// LastAttachment returns the most recent non-text attachment path seen in
// this conversation.
func (s *Session) LastAttachment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttachment
}

// SetLastAttachment records the most recent non-text attachment path.
func (s *Session) SetLastAttachment(path string) {
	s.mu.Lock()
	s.lastAttachment = path
	s.mu.Unlock()
}

// SessionStore hands out sessions by conversation identifier.
type SessionStore interface {
	// GetOrCreate returns the session for the identifier, creating it when
	// absent (restoring from the persister when one is configured).
	GetOrCreate(id string) *Session

	// Persist writes the session's bounded history to durable storage, when
	// a persister is configured. Best effort; failures are logged, not returned.
	Persist(s *Session)
}

// SessionPersister stores session history across process restarts.
type SessionPersister interface {
	Load(id string) (messages []chatMessage, lastAttachment string, err error)
	Save(id string, messages []chatMessage, lastAttachment string) error
}

// MemoryStore is the process-wide in-memory session store, optionally backed
// by a persister. Initialized empty at process start.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxMessages int
	persister   SessionPersister
	logger      *slog.Logger
}

// NewMemoryStore creates a session store. maxMessages <= 0 uses the default
// bound; persister may be nil for memory-only operation.
func NewMemoryStore(maxMessages int, persister SessionPersister, logger *slog.Logger) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxSessionMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		maxMessages: maxMessages,
		persister:   persister,
		logger:      logger.With("component", "sessions"),
	}
}

// GetOrCreate returns the session for id, creating (and restoring) it when
// absent. Double-checked locking keeps the read path on the shared lock.
func (m *MemoryStore) GetOrCreate(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}

	s = &Session{ID: id}
	if m.persister != nil {
		messages, attachment, err := m.persister.Load(id)
		if err != nil {
			m.logger.Warn("restoring session failed, starting empty", "session", id, "error", err)
		} else {
			s.messages = messages
			s.lastAttachment = attachment
		}
	}
	m.sessions[id] = s
	return s
}

// Persist saves the session's history through the persister, if any.
// Caller must hold the session lock.
func (m *MemoryStore) Persist(s *Session) {
	if m.persister == nil {
		return
	}
	if err := m.persister.Save(s.ID, s.messages, s.lastAttachment); err != nil {
		m.logger.Error("persisting session failed", "session", s.ID, "error", err)
	}
}

// MaxMessages returns the history bound.
func (m *MemoryStore) MaxMessages() int {
	return m.maxMessages
}

// trimHistory bounds history to the most recent max messages, dropping oldest
// first. The cut never lands on a tool-result message: a tool result without
// its requesting assistant turn is a protocol violation on resubmission.
func trimHistory(messages []chatMessage, max int) []chatMessage {
	if len(messages) <= max {
		return messages
	}
	cut := len(messages) - max
	for cut < len(messages) && messages[cut].Role == "tool" {
		cut++
	}
	trimmed := make([]chatMessage, len(messages)-cut)
	copy(trimmed, messages[cut:])
	return trimmed
}
