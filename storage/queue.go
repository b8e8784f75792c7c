package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"golang.org/x/sync/errgroup"

	"gantt-proxy/domain"
)

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue forwards webhook events to an Azure Storage queue for
// downstream consumers.
type EventQueue struct {
	queue       queueClient
	concurrency int
}

// NewEventQueue connects to the named queue.
func NewEventQueue(connStr, queue string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q, concurrency: queueConcurrencyForCPU(runtime.NumCPU())}, nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu < 1 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

// Publish enqueues each envelope, sending up to the configured concurrency
// at once. The first failure is returned.
func (q *EventQueue) Publish(ctx context.Context, envs []domain.EventEnvelope) error {
	msgs := make([]string, len(envs))
	for i, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", env.Event.EventID, err)
		}
		msgs[i] = string(data)
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := q.concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, msg := range msgs {
		g.Go(func() error {
			_, err := q.queue.EnqueueMessage(gctx, msg, nil)
			return err
		})
	}
	return g.Wait()
}
