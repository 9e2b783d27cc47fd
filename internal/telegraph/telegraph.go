package telegraph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
)

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	Adapters []Adapter
	Logger   *zap.Logger
}

// Notifier fans task events out to every connected adapter. Delivery is
// best-effort: failures are logged and never returned to the caller.
type Notifier struct {
	mu        sync.Mutex
	adapters  []Adapter
	connected []Adapter
	log       *zap.Logger
}

// NewNotifier creates a Notifier. At least one adapter is required.
func NewNotifier(opts NotifierOpts) (*Notifier, error) {
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("telegraph: at least one adapter is required")
	}
	return &Notifier{
		adapters: opts.Adapters,
		log:      logging.OrNop(opts.Logger),
	}, nil
}

// Start connects every adapter. Adapters that fail to connect are skipped;
// Start only fails when none connect.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for _, a := range n.adapters {
		if err := a.Connect(ctx); err != nil {
			n.log.Warn("notification adapter unavailable", zap.String("adapter", a.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		n.connected = append(n.connected, a)
	}
	if len(n.connected) == 0 {
		return fmt.Errorf("telegraph: no adapter connected: %w", errors.Join(errs...))
	}
	return nil
}

// TaskConcluded announces a task handed to analysis.
func (n *Notifier) TaskConcluded(ctx context.Context, task *models.Task) {
	evt := FormatTaskConcluded(task)
	n.broadcast(ctx, OutboundMessage{Text: evt.Title, Events: []FormattedEvent{evt}},
		logging.Account(task.AccountID), logging.Request(task.ID))
}

// TaskFailed announces a task moved to ERROR.
func (n *Notifier) TaskFailed(ctx context.Context, task *models.Task, reason string) {
	evt := FormatTaskFailed(task, reason)
	n.broadcast(ctx, OutboundMessage{Text: evt.Title, Events: []FormattedEvent{evt}},
		logging.Account(task.AccountID), logging.Request(task.ID))
}

func (n *Notifier) broadcast(ctx context.Context, msg OutboundMessage, fields ...zap.Field) {
	n.mu.Lock()
	adapters := append([]Adapter(nil), n.connected...)
	n.mu.Unlock()

	for _, a := range adapters {
		if err := a.Send(ctx, msg); err != nil {
			n.log.Warn("notification not delivered",
				append(fields, zap.String("adapter", a.Name()), zap.Error(err))...)
		}
	}
}

// Close closes every connected adapter.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for _, a := range n.connected {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("telegraph: close %s: %w", a.Name(), err))
		}
	}
	n.connected = nil
	return errors.Join(errs...)
}
