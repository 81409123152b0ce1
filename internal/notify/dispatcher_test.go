package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu   sync.Mutex
	got  []Message
	errs int
	fail bool
}

func (s *captureSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		s.errs++
		return errors.New("provider down")
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *captureSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.got))
	copy(out, s.got)
	return out
}

func TestDispatcherDelivers(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, 8, slog.Default())

	d.Enqueue(Message{Template: TemplateQuoteSubmitted, Recipient: "u1"})
	d.Enqueue(Message{Template: TemplateQuoteResponded, Recipient: "u1"})
	d.Close() // drains the queue

	msgs := sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 delivered, got %d", len(msgs))
	}
	if msgs[0].Template != TemplateQuoteSubmitted {
		t.Fatalf("delivery order broken: %+v", msgs)
	}
}

// A dead provider must never block the caller.
func TestEnqueueNeverBlocks(t *testing.T) {
	blocker := make(chan struct{})
	d := NewDispatcher(senderFunc(func(ctx context.Context, msg Message) error {
		<-blocker
		return nil
	}), 2, slog.Default())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Enqueue(Message{Template: TemplateBookingCreated, Recipient: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	close(blocker)
	d.Close()
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, 8, slog.Default())
	d.Close()

	d.Enqueue(Message{Template: TemplateQuoteSubmitted, Recipient: "u1"})

	if got := len(sender.messages()); got != 0 {
		t.Fatalf("nothing should be delivered after close, got %d", got)
	}
}

func TestSendFailureIsSuppressed(t *testing.T) {
	sender := &captureSender{fail: true}
	d := NewDispatcher(sender, 8, slog.Default())

	d.Enqueue(Message{Template: TemplateQuoteSubmitted, Recipient: "u1"})
	d.Close()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.errs != 1 {
		t.Fatalf("expected the worker to attempt delivery once, got %d", sender.errs)
	}
}

type senderFunc func(ctx context.Context, msg Message) error

func (f senderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
