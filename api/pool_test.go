package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"gantt-proxy/domain"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []domain.EventEnvelope
	err     error
	release chan struct{}
}

func (s *recordingSink) Publish(ctx context.Context, envs []domain.EventEnvelope) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, envs...)
	return nil
}

func (s *recordingSink) Events() []domain.EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventEnvelope, len(s.events))
	copy(out, s.events)
	return out
}

func envelopeFor(id string) domain.EventEnvelope {
	return domain.EventEnvelope{ReceivedAt: nextTimestamp(), Event: domain.WebhookEvent{EventID: id, TableID: 1}}
}

// newBlockedPublisher returns a publisher whose only worker is parked
// inside Publish and whose buffer is full.
func newBlockedPublisher(t *testing.T, handoff time.Duration) (*eventPublisher, *recordingSink) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{release: make(chan struct{})}
	p := newEventPublisher(sink, PublisherConfig{Workers: 1, Buffer: 1, Timeout: time.Second, HandoffTimeout: handoff}, logger)
	t.Cleanup(func() {
		select {
		case <-sink.release:
		default:
			close(sink.release)
		}
		p.Close()
	})

	// first job occupies the worker, second fills the buffer
	if !p.tryEnqueue(publishJob{env: envelopeFor("busy")}) {
		t.Fatal("expected first enqueue to succeed")
	}
	deadline := time.Now().Add(time.Second)
	for len(p.jobs) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first job")
		}
		time.Sleep(time.Millisecond)
	}
	if !p.tryEnqueue(publishJob{env: envelopeFor("queued")}) {
		t.Fatal("expected buffered enqueue to succeed")
	}
	return p, sink
}

func TestTryEnqueueWaitsForCapacity(t *testing.T) {
	p, sink := newBlockedPublisher(t, 200*time.Millisecond)

	done := make(chan bool, 1)
	go func() {
		done <- p.tryEnqueue(publishJob{env: envelopeFor("waiting")})
	}()

	select {
	case <-done:
		t.Fatal("tryEnqueue returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	close(sink.release)

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful enqueue after capacity freed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for enqueue completion")
	}
}

func TestTryEnqueueTimesOut(t *testing.T) {
	p, _ := newBlockedPublisher(t, 30*time.Millisecond)
	if p.tryEnqueue(publishJob{env: envelopeFor("late")}) {
		t.Fatal("expected enqueue to fail when timeout elapsed")
	}
}

func TestTryEnqueueNoWaitWhenZeroTimeout(t *testing.T) {
	p, _ := newBlockedPublisher(t, 0)
	start := time.Now()
	if p.tryEnqueue(publishJob{env: envelopeFor("late")}) {
		t.Fatal("expected enqueue to fail when buffer full and no timeout")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("expected enqueue to return immediately")
	}
}

func TestSubmitFallsBackInline(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{}
	p := newEventPublisher(sink, PublisherConfig{Workers: 1, Timeout: time.Second}, logger)
	p.Close()

	if err := p.Submit(context.Background(), envelopeFor("inline")); err != nil {
		t.Fatalf("inline submit: %v", err)
	}
	events := sink.Events()
	if len(events) != 1 || events[0].Event.EventID != "inline" {
		t.Fatalf("expected inline publish, got %#v", events)
	}
}

func TestSubmitInlineReturnsSinkError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	boom := errors.New("queue down")
	p := newEventPublisher(&recordingSink{err: boom}, PublisherConfig{Workers: 1}, logger)
	p.Close()

	if err := p.Submit(context.Background(), envelopeFor("x")); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{}
	p := newEventPublisher(sink, PublisherConfig{Workers: 2, Buffer: 16}, logger)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := p.Submit(context.Background(), envelopeFor(string(rune('a'+i)))); err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	p.Close()
	p.Close()

	if got := len(sink.Events()); got != 10 {
		t.Fatalf("expected 10 published events, got %d", got)
	}
}
