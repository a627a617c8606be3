package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink accepts alerts without blocking the caller and never reports failure.
type Sink interface {
	Notify(subjectID, title, message string)
}

// Dispatcher fans alerts out to notifiers on a background goroutine.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewDispatcher builds a Dispatcher. A non-positive timeout defaults to 15s.
func NewDispatcher(notifiers []Notifier, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		logger:    logger.With().Str("component", "alert_dispatch").Logger(),
		now:       time.Now,
	}
}

// Notify queues the alert for every notifier and returns immediately.
func (d *Dispatcher) Notify(subjectID, title, message string) {
	if len(d.notifiers) == 0 {
		return
	}
	note := Notification{SubjectID: subjectID, Title: title, Message: message, At: d.now()}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		for _, n := range d.notifiers {
			if err := n.Notify(ctx, note); err != nil {
				d.logger.Warn().Err(err).Str("subject", subjectID).Msg("告警发送失败")
			}
		}
	}()
}

// Wait blocks until every queued alert has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

var _ Sink = (*Dispatcher)(nil)
