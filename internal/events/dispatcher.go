package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Gracecr/sacred/internal/metrics"
	"github.com/Gracecr/sacred/pkg/core"
)

// Dispatcher delivers events to a set of observers, highest priority first.
// The token returned by the first observer for queued and started events
// is handed to the remaining observers.
type Dispatcher struct {
	observers []core.RunObserver
	logger    *slog.Logger
	token     string
}

// NewDispatcher creates a dispatcher over observers. Observers with equal
// priority keep their given order.
func NewDispatcher(logger *slog.Logger, observers ...core.RunObserver) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sorted := append([]core.RunObserver(nil), observers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Dispatcher{observers: sorted, logger: logger}
}

// Resumer is implemented by observers that can pick up a run that was
// started by an earlier replay of the same log.
type Resumer interface {
	Resume(ctx context.Context, token string, start time.Time) error
}

// Resume attaches every observer to the existing run token, as if its
// started event had just been dispatched. Observers that do not implement
// Resumer are left untouched.
func (d *Dispatcher) Resume(ctx context.Context, token string, start time.Time) error {
	for _, o := range d.observers {
		r, ok := o.(Resumer)
		if !ok {
			continue
		}
		if err := r.Resume(ctx, token, start); err != nil {
			return fmt.Errorf("failed to resume run %s: %w", token, err)
		}
	}
	d.token = token
	return nil
}

// Token returns the token assigned to the current run.
func (d *Dispatcher) Token() string {
	return d.token
}

// Replay dispatches events in order and then joins every observer.
func (d *Dispatcher) Replay(ctx context.Context, events []Event) error {
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Dispatch(ctx, ev); err != nil {
			return fmt.Errorf("event %d (%s): %w", i+1, ev.Type, err)
		}
	}
	return d.Join(ctx)
}

// Join waits for every observer to finish.
func (d *Dispatcher) Join(ctx context.Context) error {
	for _, o := range d.observers {
		if err := o.Join(ctx); err != nil {
			return fmt.Errorf("failed to join observer: %w", err)
		}
	}
	return nil
}

// Dispatch decodes ev and delivers it to every observer.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	payload, err := ev.Decode()
	if err != nil {
		return err
	}
	d.logger.Debug("dispatching event", slog.String("type", string(ev.Type)))

	switch p := payload.(type) {
	case core.QueuedEvent:
		return d.assignToken(p.Token, func(o core.RunObserver, token string) (string, error) {
			p.Token = token
			return o.QueuedEvent(ctx, p)
		})
	case core.StartedEvent:
		return d.assignToken(p.Token, func(o core.RunObserver, token string) (string, error) {
			p.Token = token
			return o.StartedEvent(ctx, p)
		})
	case core.HeartbeatEvent:
		return d.each(func(o core.RunObserver) error { return o.HeartbeatEvent(ctx, p) })
	case core.CompletedEvent:
		return d.each(func(o core.RunObserver) error { return o.CompletedEvent(ctx, p) })
	case core.InterruptedEvent:
		return d.each(func(o core.RunObserver) error { return o.InterruptedEvent(ctx, p) })
	case core.FailedEvent:
		return d.each(func(o core.RunObserver) error { return o.FailedEvent(ctx, p) })
	case core.ArtifactEvent:
		return d.each(func(o core.RunObserver) error { return o.ArtifactEvent(ctx, p) })
	case string:
		return d.each(func(o core.RunObserver) error { return o.ResourceEvent(ctx, p) })
	case MetricsPayload:
		batch, err := metrics.Linearize(p.Entries)
		if err != nil {
			return err
		}
		return d.each(func(o core.RunObserver) error { return o.LogMetrics(ctx, batch, p.Info) })
	default:
		return fmt.Errorf("%w: unhandled payload %T", core.ErrInvalidPayload, payload)
	}
}

func (d *Dispatcher) assignToken(token string, call func(core.RunObserver, string) (string, error)) error {
	for _, o := range d.observers {
		assigned, err := call(o, token)
		if err != nil {
			return err
		}
		if token == "" {
			token = assigned
		}
	}
	d.token = token
	return nil
}

func (d *Dispatcher) each(call func(core.RunObserver) error) error {
	for _, o := range d.observers {
		if err := call(o); err != nil {
			return err
		}
	}
	return nil
}
