package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"gantt-proxy/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	inFlight int
	max      int
	count    int
	failAt   int
	sleep    time.Duration
	messages []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAt: -1, sleep: 1 * time.Millisecond}
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	idx := f.count
	f.count++
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	f.messages = append(f.messages, content)
	f.mu.Unlock()

	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return azqueue.EnqueueMessagesResponse{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.failAt >= 0 && idx == f.failAt {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	return azqueue.EnqueueMessagesResponse{}, nil
}

func envelopes(n int) []domain.EventEnvelope {
	out := make([]domain.EventEnvelope, n)
	for i := range out {
		out[i] = domain.EventEnvelope{ReceivedAt: int64(i), Event: domain.WebhookEvent{EventID: "e", TableID: 1}}
	}
	return out
}

func TestQueueConcurrencyForCPU(t *testing.T) {
	tests := []struct {
		name string
		cpu  int
		want int
	}{
		{name: "below minimum", cpu: 0, want: defaultQueueConcurrency},
		{name: "single cpu", cpu: 1, want: queuePerCPU},
		{name: "multi cpu scale", cpu: 4, want: 40},
		{name: "cap applied", cpu: 32, want: maxQueueConcurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queueConcurrencyForCPU(tt.cpu); got != tt.want {
				t.Fatalf("queueConcurrencyForCPU(%d) = %d, want %d", tt.cpu, got, tt.want)
			}
		})
	}
}

func TestPublishUsesConcurrency(t *testing.T) {
	fq := newFakeQueue()
	q := &EventQueue{queue: fq, concurrency: 4}

	if err := q.Publish(context.Background(), envelopes(8)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fq.max < 2 {
		t.Fatalf("expected concurrent sends, max in flight: %d", fq.max)
	}
	if fq.count != 8 {
		t.Fatalf("expected 8 sends, got %d", fq.count)
	}
	var env domain.EventEnvelope
	if err := json.Unmarshal([]byte(fq.messages[0]), &env); err != nil {
		t.Fatalf("message is not an envelope: %v", err)
	}
	if env.Event.TableID != 1 {
		t.Fatalf("unexpected envelope %#v", env)
	}
}

func TestPublishPropagatesErrors(t *testing.T) {
	fq := newFakeQueue()
	fq.failAt = 2
	q := &EventQueue{queue: fq, concurrency: 3}

	if err := q.Publish(context.Background(), envelopes(6)); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublishEncodesBeforeSending(t *testing.T) {
	fq := newFakeQueue()
	q := &EventQueue{queue: fq, concurrency: 2}
	envs := envelopes(4)
	envs[3].Event.Items = []json.RawMessage{json.RawMessage("{not json")}

	if err := q.Publish(context.Background(), envs); err == nil {
		t.Fatal("expected encode error")
	}
	if fq.count != 0 {
		t.Fatalf("no message may be sent when an envelope cannot be encoded, sent %d", fq.count)
	}
}

func TestPublishSequentialWhenConfigured(t *testing.T) {
	fq := newFakeQueue()
	q := &EventQueue{queue: fq, concurrency: 1}

	if err := q.Publish(context.Background(), envelopes(5)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fq.max != 1 {
		t.Fatalf("expected sequential sends, observed max in flight: %d", fq.max)
	}
}
