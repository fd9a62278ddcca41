package conversation

import (
	"sync"
	"time"

	"github.com/normanking/avatarstage/internal/chat"
)

// Exchange represents a user-assistant conversation turn.
type Exchange struct {
	UserText      string    `json:"userText"`
	AssistantText string    `json:"assistantText"`
	Timestamp     time.Time `json:"timestamp"`
}

// HistoryConfig configures History behavior.
type HistoryConfig struct {
	// MaxExchanges is the maximum number of exchanges to retain (default: 10)
	MaxExchanges int
	// InactivityTimeout is the duration after which context expires (default: 5 minutes)
	InactivityTimeout time.Duration
}

// History keeps the recent exchanges sent to the chat backend as context.
type History struct {
	mu           sync.RWMutex
	exchanges    []Exchange
	lastActivity time.Time
	config       HistoryConfig
	now          func() time.Time
}

// NewHistory creates a History, replacing zero config values with defaults.
func NewHistory(config HistoryConfig) *History {
	if config.MaxExchanges <= 0 {
		config.MaxExchanges = 10
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = 5 * time.Minute
	}

	return &History{
		exchanges:    make([]Exchange, 0, config.MaxExchanges),
		lastActivity: time.Now(),
		config:       config,
		now:          time.Now,
	}
}

// Add records a user/assistant exchange, trimming the oldest beyond MaxExchanges.
func (h *History) Add(userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isExpiredLocked() {
		h.exchanges = h.exchanges[:0]
	}

	now := h.now()
	h.exchanges = append(h.exchanges, Exchange{
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     now,
	})
	h.lastActivity = now

	if len(h.exchanges) > h.config.MaxExchanges {
		h.exchanges = h.exchanges[len(h.exchanges)-h.config.MaxExchanges:]
	}
}

// Turns returns the live exchanges as chat context; nil once expired.
func (h *History) Turns() []chat.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.isExpiredLocked() || len(h.exchanges) == 0 {
		return nil
	}

	turns := make([]chat.Turn, len(h.exchanges))
	for i, ex := range h.exchanges {
		turns[i] = chat.Turn{User: ex.UserText, Assistant: ex.AssistantText}
	}
	return turns
}

// Exchanges returns a copy of all exchanges.
func (h *History) Exchanges() []Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Exchange, len(h.exchanges))
	copy(result, h.exchanges)
	return result
}

// Len returns the number of stored exchanges.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.exchanges)
}

// Clear removes all conversation history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = make([]Exchange, 0, h.config.MaxExchanges)
}

// isExpiredLocked checks expiry; caller must hold the lock.
func (h *History) isExpiredLocked() bool {
	if len(h.exchanges) == 0 {
		return false
	}
	return h.now().Sub(h.lastActivity) > h.config.InactivityTimeout
}
