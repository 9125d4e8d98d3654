// Package notify surfaces user-visible messages about fetch failures.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity classifies a notification
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Notification is a message shown to the user
type Notification struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Display  bool      `json:"display"`
	Date     time.Time `json:"date"`
}

// Notifier delivers notifications. Notify never blocks on the consumer and
// never fails.
type Notifier interface {
	Notify(n Notification)
}

// Center is a Notifier that logs every notification and keeps the most
// recent ones for later retrieval.
type Center struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	logger   *slog.Logger
}

// DefaultCapacity is how many notifications a Center keeps by default
const DefaultCapacity = 100

// NewCenter creates a Center keeping at most capacity notifications
func NewCenter(capacity int, logger *slog.Logger) *Center {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Center{
		capacity: capacity,
		logger:   logger,
	}
}

// Notify implements Notifier
func (c *Center) Notify(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Severity == "" {
		n.Severity = SeverityError
	}
	if n.Date.IsZero() {
		n.Date = time.Now()
	}

	c.logger.Warn(n.Title, "message", n.Message, "severity", n.Severity, "notification_id", n.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, n)
	if over := len(c.items) - c.capacity; over > 0 {
		c.items = append([]Notification(nil), c.items[over:]...)
	}
}

// List returns the retained notifications, oldest first
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

// Dismiss removes a notification by id and reports whether it existed
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Discard is a Notifier that drops everything
type Discard struct{}

// Notify implements Notifier
func (Discard) Notify(Notification) {}
