package memory

import (
	"sync"
	"time"
)

// Turn is one conversational exchange kept in a session buffer.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionBuffer holds the recent turns of one session under a token budget.
// When an append would exceed the budget, the oldest turns are evicted first
// until the new turn fits. A single turn larger than the whole budget is
// truncated to fit, so the token total never exceeds the budget.
type SessionBuffer struct {
	mu     sync.Mutex
	budget int
	used   int
	turns  []Turn
}

// NewSessionBuffer creates a buffer with the given token budget.
func NewSessionBuffer(budget int) *SessionBuffer {
	if budget <= 0 {
		budget = 2000
	}
	return &SessionBuffer{budget: budget}
}

// Append adds a turn, evicting oldest turns as needed to stay within budget.
// Content that alone would cost more than the budget is cut down first.
func (b *SessionBuffer) Append(role, content string) Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit := b.budget*4 - 3; len(content) > limit {
		content = content[:limit]
	}
	turn := Turn{
		Role:      role,
		Content:   content,
		Tokens:    EstimateTokens(content),
		CreatedAt: time.Now(),
	}
	for len(b.turns) > 0 && b.used+turn.Tokens > b.budget {
		b.used -= b.turns[0].Tokens
		b.turns = b.turns[1:]
	}
	b.turns = append(b.turns, turn)
	b.used += turn.Tokens
	return turn
}

// Turns returns the buffered turns oldest first.
func (b *SessionBuffer) Turns() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// TokensUsed returns the current token total of the buffer.
func (b *SessionBuffer) TokensUsed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// EstimateTokens approximates the token cost of a text. The estimate only
// has to be stable and roughly proportional, not exact: it drives eviction,
// not billing. Roughly four characters per token.
func EstimateTokens(s string) int {
	n := (len(s) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// SessionManager owns all live session buffers, keyed by session ID.
type SessionManager struct {
	mu       sync.RWMutex
	budget   int
	sessions map[string]*SessionBuffer
}

// NewSessionManager creates a manager whose buffers share one token budget.
func NewSessionManager(budget int) *SessionManager {
	return &SessionManager{
		budget:   budget,
		sessions: make(map[string]*SessionBuffer),
	}
}

// Get returns the buffer for the session, creating it on first use.
func (m *SessionManager) Get(sessionID string) *SessionBuffer {
	m.mu.RLock()
	b, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.sessions[sessionID]; ok {
		return b
	}
	b = NewSessionBuffer(m.budget)
	m.sessions[sessionID] = b
	return b
}

// Peek returns the buffer only if the session already exists.
func (m *SessionManager) Peek(sessionID string) (*SessionBuffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.sessions[sessionID]
	return b, ok
}

// Delete drops a session and reports whether it existed.
func (m *SessionManager) Delete(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return ok
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
