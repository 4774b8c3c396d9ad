package spacetraveling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultRevalidateSubject is the NATS subject revalidations travel on.
const DefaultRevalidateSubject = "spacetraveling.revalidate"

// RevalidateEvent announces that content changed and caches must be dropped.
type RevalidateEvent struct {
	Origin string    `json:"origin"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Revalidator fans revalidations out to every site instance over NATS.
// Each instance ignores its own events.
type Revalidator struct {
	nc      *nats.Conn
	subject string
	origin  string
	log     *slog.Logger
	sub     *nats.Subscription
}

// NewRevalidator uses nc for publishing and subscribing on subject
// (DefaultRevalidateSubject when empty).
func NewRevalidator(nc *nats.Conn, subject string, log *slog.Logger) *Revalidator {
	if subject == "" {
		subject = DefaultRevalidateSubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &Revalidator{
		nc:      nc,
		subject: subject,
		origin:  uuid.NewString(),
		log:     log.With("component", "revalidator"),
	}
}

// Publish announces a revalidation to the other instances.
func (r *Revalidator) Publish(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(RevalidateEvent{Origin: r.origin, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe calls fn for every revalidation published by another instance.
func (r *Revalidator) Subscribe(fn func(RevalidateEvent)) error {
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		r.handle(msg, fn)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	r.sub = sub
	return nil
}

func (r *Revalidator) handle(msg *nats.Msg, fn func(RevalidateEvent)) {
	var ev RevalidateEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("dropping malformed revalidate event", "error", err)
		return
	}
	if ev.Origin == r.origin {
		return
	}
	r.log.Info("revalidate event received", "origin", ev.Origin, "reason", ev.Reason)
	fn(ev)
}

// Close removes the subscription. The connection stays open.
func (r *Revalidator) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}
