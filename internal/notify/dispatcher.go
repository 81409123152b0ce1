package notify

import (
	"context"
	"log/slog"
	"sync"

	"quote-service/internal/observability"
	"quote-service/pkg/kafka"
)

// Well-known template names.
const (
	TemplateQuoteSubmitted  = "quote_submitted"
	TemplateQuoteResponded  = "quote_responded"
	TemplateBookingCreated  = "booking_created"
	TemplateBookingAssigned = "booking_assigned"
)

// Message is one notification trigger: a template name plus the structured
// data the external mailer renders it with.
type Message struct {
	Template  string            `json:"template"`
	Recipient string            `json:"recipient_user_id"`
	Data      map[string]string `json:"data"`
}

// Sender delivers a rendered notification trigger somewhere. Implementations
// must tolerate being called from a single worker goroutine.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// KafkaSender hands messages to the external mailer via the notify.email topic.
type KafkaSender struct {
	Client *kafka.Client
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	return s.Client.Publish(ctx, kafka.TopicNotifyEmail, msg.Recipient, msg)
}

// ConsoleSender logs messages instead of delivering them. Local runs only.
type ConsoleSender struct {
	Log *slog.Logger
}

func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	s.Log.Info("notify", "template", msg.Template, "recipient", msg.Recipient)
	return nil
}

// Dispatcher decouples notification triggers from the request path. Enqueue
// never blocks: provider latency or outage must not propagate backpressure
// into the lifecycle engine, so a full queue drops the message.
type Dispatcher struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
	sender Sender
	log    *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded queue and starts its
// worker goroutine.
func NewDispatcher(sender Sender, queueSize int, log *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		ch:     make(chan Message, queueSize),
		sender: sender,
		log:    log,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue submits a notification trigger. Fire-and-forget: delivery failure,
// queue overflow or an enqueue after Close is logged and suppressed, never
// surfaced to the caller.
func (d *Dispatcher) Enqueue(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		observability.NotificationsDroppedTotal.Inc()
		d.log.Warn("notification enqueued after close, dropping", "template", msg.Template, "recipient", msg.Recipient)
		return
	}
	select {
	case d.ch <- msg:
	default:
		observability.NotificationsDroppedTotal.Inc()
		d.log.Warn("notification queue full, dropping", "template", msg.Template, "recipient", msg.Recipient)
	}
}

// Close stops the worker after draining anything already queued. Enqueues
// arriving after Close are dropped.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
	})
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.ch {
		if err := d.sender.Send(context.Background(), msg); err != nil {
			d.log.Error("notification send failed", "template", msg.Template, "err", err)
		}
	}
}
