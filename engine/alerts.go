package engine

import (
	"fmt"
	"time"
)

type (
	// Alert is a user-facing message raised by the engine. Alerts with the
	// same Name replace each other rather than stacking, so a repeatedly
	// failing operation shows one message.
	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
		Duration time.Duration
	}

	AlertPriority int
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

const defaultAlertDuration = 3 * time.Second

// alert raises a user-facing message through the listener. Must be called
// with the engine lock held.
func (e *Engine) alert(name string, priority AlertPriority, format string, args ...any) {
	e.notify(AlertRaised{Alert{
		Name:     name,
		Priority: priority,
		Message:  fmt.Sprintf(format, args...),
		Duration: defaultAlertDuration,
	}})
}
