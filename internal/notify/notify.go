package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"prompos/terminal/internal/logger"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarn    Severity = "warn"
	SeverityError   Severity = "error"
)

// DefaultLife is how long the UI keeps a toast on screen.
const DefaultLife = 3 * time.Second

type Notification struct {
	ID       string        `json:"id"`
	Severity Severity      `json:"severity"`
	Summary  string        `json:"summary"`
	Detail   string        `json:"detail"`
	Life     time.Duration `json:"life"`
	At       time.Time     `json:"at"`
}

// Notifier receives checkout outcome signals. Nothing is returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	ctx = l.log.WithFields(ctx, map[string]any{
		"severity": string(n.Severity),
		"detail":   n.Detail,
	})
	switch n.Severity {
	case SeverityError:
		l.log.Error(ctx, n.Summary, nil)
	case SeverityWarn:
		l.log.Warn(ctx, n.Summary, nil)
	default:
		l.log.Info(ctx, n.Summary)
	}
}

// Feed keeps the most recent notifications for the UI to poll.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	limit int
	now   func() time.Time
}

func NewFeed(limit int) *Feed {
	if limit < 1 {
		limit = 50
	}
	return &Feed{limit: limit, now: time.Now}
}

func (f *Feed) Notify(_ context.Context, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = f.now().UTC()
	}
	if n.Life <= 0 {
		n.Life = DefaultLife
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Notification(nil), f.items[over:]...)
	}
}

// Drain returns pending notifications oldest first and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.items
	f.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}

type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
