// Package notify fans persisted alerts out to downstream notifiers. Delivery
// is best effort: a failing notifier is logged and counted, and never
// affects persistence.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/metrics"
)

// Notifier is implemented by every delivery channel.
type Notifier interface {
	// Name returns the key this notifier is registered under.
	Name() string
	// Notify delivers one persisted batch.
	Notify(ctx context.Context, alerts []alert.Alert) error
}

// Registry maps notifier names to notifiers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{notifiers: make(map[string]Notifier), logger: logger}
}

// Register adds a notifier. Panics on duplicate name to surface misconfiguration early.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.notifiers[n.Name()]; exists {
		panic(fmt.Sprintf("notify registry: duplicate notifier %q", n.Name()))
	}
	r.notifiers[n.Name()] = n
}

// Get returns the notifier registered under name.
func (r *Registry) Get(name string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[name]
	if !ok {
		return nil, fmt.Errorf("no notifier registered as %q", name)
	}
	return n, nil
}

// Names returns all registered notifier names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.notifiers))
	for k := range r.notifiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch hands alerts to every notifier in turn.
func (r *Registry) Dispatch(ctx context.Context, alerts []alert.Alert) {
	if len(alerts) == 0 {
		return
	}
	r.mu.RLock()
	notifiers := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		notifiers = append(notifiers, n)
	}
	r.mu.RUnlock()

	for _, n := range notifiers {
		if err := n.Notify(ctx, alerts); err != nil {
			metrics.Notifications.WithLabelValues(n.Name(), "error").Inc()
			r.logger.Warn("alert notification failed", "notifier", n.Name(), "batch", len(alerts), "err", err)
			continue
		}
		metrics.Notifications.WithLabelValues(n.Name(), "success").Inc()
	}
}
