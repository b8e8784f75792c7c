package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gantt-proxy/domain"
)

// PublisherConfig sizes the webhook event publisher.
type PublisherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

type publishJob struct {
	env domain.EventEnvelope
}

// eventPublisher hands webhook events to a bounded set of workers so the
// webhook response does not wait on the queue. When the buffer stays full
// past the handoff timeout the caller publishes inline.
type eventPublisher struct {
	sink   EventSink
	log    *log.Logger
	cfg    PublisherConfig
	jobs   chan publishJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func newEventPublisher(sink EventSink, cfg PublisherConfig, logger *log.Logger) *eventPublisher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := &eventPublisher{
		sink: sink,
		log:  logger,
		cfg:  cfg,
		jobs: make(chan publishJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return p
}

func (p *eventPublisher) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		err := p.sink.Publish(ctx, []domain.EventEnvelope{j.env})
		cancel()
		if err != nil {
			p.log.Errorf("publish failed, err: %v, event: %s, table: %d, worker: %d", err, j.env.Event.EventID, j.env.Event.TableID, id)
		}
	}
}

// Submit queues env for publication, falling back to an inline publish when
// the buffer is saturated.
func (p *eventPublisher) Submit(ctx context.Context, env domain.EventEnvelope) error {
	if p.tryEnqueue(publishJob{env: env}) {
		return nil
	}
	p.log.Warn("publish buffer saturated; processing inline")
	pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	return p.sink.Publish(pctx, []domain.EventEnvelope{env})
}

func (p *eventPublisher) tryEnqueue(job publishJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
	}

	if p.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(p.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- job:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to drain.
func (p *eventPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
