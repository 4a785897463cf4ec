package notify

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Level is the severity of a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Default display durations. Error toasts stay up longer.
const (
	DefaultInfoDuration  = 3 * time.Second
	DefaultErrorDuration = 6 * time.Second
)

// Toast is a transient notification shown to the shopper.
type Toast struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Center holds the toasts of one session. Expired toasts are dropped lazily.
type Center struct {
	mu       sync.Mutex
	toasts   map[string]Toast
	infoTTL  time.Duration
	errorTTL time.Duration

	nowFunc func() time.Time // injectable clock for testing
}

// NewCenter creates a center. Zero durations fall back to the defaults.
func NewCenter(info, errDuration time.Duration) *Center {
	if info <= 0 {
		info = DefaultInfoDuration
	}
	if errDuration <= 0 {
		errDuration = DefaultErrorDuration
	}
	return &Center{
		toasts:   make(map[string]Toast),
		infoTTL:  info,
		errorTTL: errDuration,
		nowFunc:  time.Now,
	}
}

// Info pushes an informational toast.
func (c *Center) Info(message string) Toast {
	return c.push(LevelInfo, message, "")
}

// Success pushes a success toast.
func (c *Center) Success(message string) Toast {
	return c.push(LevelSuccess, message, "")
}

// Error pushes an error toast.
func (c *Center) Error(message string) Toast {
	return c.push(LevelError, message, "")
}

// FromError pushes an error toast describing err. Session expiry is handled
// by the login redirect and produces no toast; the zero Toast is returned.
func (c *Center) FromError(err error) Toast {
	if err == nil || errors.Is(err, apperrors.ErrSessionExpired) {
		return Toast{}
	}
	return c.push(LevelError, MessageFor(err), apperrors.Code(err))
}

// MessageFor is the text shown for err: the server's reason for a rejection,
// a retry prompt for transport failures.
func MessageFor(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNetwork), errors.Is(err, apperrors.ErrParse):
		return apperrors.NetworkFailureMessage
	case errors.Is(err, apperrors.ErrBusy):
		return "Please wait for the previous update to finish."
	default:
		return apperrors.Message(err)
	}
}

func (c *Center) push(level Level, message, code string) Toast {
	now := c.nowFunc()
	ttl := c.infoTTL
	if level == LevelError {
		ttl = c.errorTTL
	}
	t := Toast{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	c.mu.Lock()
	c.pruneLocked(now)
	c.toasts[t.ID] = t
	c.mu.Unlock()
	return t
}

func (c *Center) pruneLocked(now time.Time) {
	for id, t := range c.toasts {
		if !now.Before(t.ExpiresAt) {
			delete(c.toasts, id)
		}
	}
}

// Active returns undismissed, unexpired toasts, oldest first.
func (c *Center) Active() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.nowFunc())
	out := make([]Toast, 0, len(c.toasts))
	for _, t := range c.toasts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Dismiss removes a toast. It reports whether the toast was present.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.toasts[id]
	delete(c.toasts, id)
	return ok
}
