package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/repository"
)

type memMessage struct {
	seq       uint64
	job       domain.OutboundMessageJob
	visibleAt time.Time
	claimed   bool
}

// Memory is a process-local queue with the same visibility semantics as
// the JetStream client. Used by tests and single-node dev.
type Memory struct {
	mu          sync.Mutex
	visibility  time.Duration
	dedupWindow time.Duration
	dlq         repository.DeadLetterRepository
	messages    map[uint64]*memMessage
	dedup       map[string]time.Time
	nextSeq     uint64
	nowFn       func() time.Time
}

func NewMemory(visibilityTimeout, dedupWindow time.Duration, dlq repository.DeadLetterRepository) *Memory {
	return &Memory{
		visibility:  visibilityTimeout,
		dedupWindow: dedupWindow,
		dlq:         dlq,
		messages:    make(map[uint64]*memMessage),
		dedup:       make(map[string]time.Time),
		nowFn:       time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, job *domain.OutboundMessageJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	key := dedupID(job)
	if expiry, seen := m.dedup[key]; seen && now.Before(expiry) {
		return job.JobID, nil
	}
	m.dedup[key] = now.Add(m.dedupWindow)

	m.nextSeq++
	m.messages[m.nextSeq] = &memMessage{
		seq:       m.nextSeq,
		job:       *job,
		visibleAt: now,
	}
	return job.JobID, nil
}

func (m *Memory) ReceiveBatch(_ context.Context, maxMessages int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	visible := make([]*memMessage, 0, maxMessages)
	for _, msg := range m.messages {
		if !now.Before(msg.visibleAt) {
			visible = append(visible, msg)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].seq < visible[j].seq })
	if len(visible) > maxMessages {
		visible = visible[:maxMessages]
	}

	deliveries := make([]Delivery, 0, len(visible))
	for _, msg := range visible {
		msg.visibleAt = now.Add(m.visibility)
		msg.claimed = true
		jobCopy := msg.job
		deliveries = append(deliveries, Delivery{Job: &jobCopy, Token: msg.seq})
	}
	return deliveries, nil
}

func (m *Memory) Acknowledge(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.seq(d)
	if err != nil {
		return err
	}
	if _, ok := m.messages[seq]; !ok {
		return fmt.Errorf("job %s is not in the queue", d.Job.JobID)
	}
	delete(m.messages, seq)
	return nil
}

func (m *Memory) ReleaseWithDelay(_ context.Context, d Delivery, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.seq(d)
	if err != nil {
		return err
	}
	msg, ok := m.messages[seq]
	if !ok {
		return fmt.Errorf("job %s is not in the queue", d.Job.JobID)
	}
	msg.visibleAt = m.nowFn().Add(delay)
	msg.claimed = false
	return nil
}

func (m *Memory) RetryWithDelay(_ context.Context, d Delivery, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.seq(d)
	if err != nil {
		return err
	}
	msg, ok := m.messages[seq]
	if !ok {
		return fmt.Errorf("job %s is not in the queue", d.Job.JobID)
	}
	msg.job = *d.Job // carries the bumped attempt count
	msg.visibleAt = m.nowFn().Add(delay)
	msg.claimed = false
	return nil
}

func (m *Memory) MoveToDeadLetter(ctx context.Context, d Delivery, finalError string) error {
	m.mu.Lock()
	seq, err := m.seq(d)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.messages[seq]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %s is not in the queue", d.Job.JobID)
	}
	m.mu.Unlock()

	rec := &domain.DeadLetterRecord{
		Job:        *d.Job,
		FailedAt:   m.nowFn().UTC(),
		FinalError: finalError,
	}
	if err := m.dlq.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist dead letter for job %s: %w", d.Job.JobID, err)
	}

	m.mu.Lock()
	delete(m.messages, seq)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	var inFlight int64
	for _, msg := range m.messages {
		if msg.claimed && now.Before(msg.visibleAt) {
			inFlight++
		}
	}
	return Stats{Depth: int64(len(m.messages)), InFlight: inFlight}, nil
}

func (m *Memory) seq(d Delivery) (uint64, error) {
	seq, ok := d.Token.(uint64)
	if !ok {
		return 0, fmt.Errorf("delivery for job %s does not belong to this queue client", d.Job.JobID)
	}
	return seq, nil
}
