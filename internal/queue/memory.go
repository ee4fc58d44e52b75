package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryInflight struct {
	msg       Message
	visibleAt time.Time
}

// Memory emulates the queue for tests and local runs: at-least-once delivery,
// per-delivery receipts, visibility timeouts, and a redrive policy that
// dead-letters a message once its receive count exceeds maxReceive.
type Memory struct {
	mu         sync.Mutex
	items      []Message
	inflight   map[string]memoryInflight
	receives   map[string]int
	dead       []Message
	batchSize  int
	visibility time.Duration
	maxReceive int
	counter    uint64
	now        func() time.Time
}

func NewMemory(batchSize int, visibility time.Duration, maxReceive int) *Memory {
	if batchSize <= 0 {
		batchSize = 1
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}
	return &Memory{
		items:      make([]Message, 0, 64),
		inflight:   make(map[string]memoryInflight),
		receives:   make(map[string]int),
		batchSize:  batchSize,
		visibility: visibility,
		maxReceive: maxReceive,
		now:        time.Now,
	}
}

// SetClock replaces the queue clock, for visibility tests.
func (q *Memory) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue adds a message body and returns its id.
func (q *Memory) Enqueue(body string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counter++
	id := fmt.Sprintf("mem-%d", q.counter)
	q.items = append(q.items, Message{ID: id, Body: body})
	return id
}

func (q *Memory) Receive(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	now := q.now()
	q.requeueExpired(now)

	out := make([]Message, 0, q.batchSize)
	for len(out) < q.batchSize && len(q.items) > 0 {
		msg := q.items[0]
		q.items = q.items[1:]
		q.receives[msg.ID]++
		if q.receives[msg.ID] > q.maxReceive {
			q.dead = append(q.dead, msg)
			delete(q.receives, msg.ID)
			continue
		}
		q.counter++
		msg.ReceiptHandle = fmt.Sprintf("receipt-%d", q.counter)
		q.inflight[msg.ReceiptHandle] = memoryInflight{msg: msg, visibleAt: now.Add(q.visibility)}
		out = append(out, msg)
	}
	q.mu.Unlock()

	if len(out) == 0 {
		// emulate a short poll wait so callers do not spin
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return out, nil
}

func (q *Memory) Delete(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[msg.ReceiptHandle]; !ok {
		return fmt.Errorf("unknown receipt %q", msg.ReceiptHandle)
	}
	delete(q.inflight, msg.ReceiptHandle)
	delete(q.receives, msg.ID)
	return nil
}

// requeueExpired returns timed-out inflight deliveries to the visible queue.
// Callers hold q.mu.
func (q *Memory) requeueExpired(now time.Time) {
	for receipt, inf := range q.inflight {
		if inf.visibleAt.After(now) {
			continue
		}
		msg := inf.msg
		msg.ReceiptHandle = ""
		q.items = append(q.items, msg)
		delete(q.inflight, receipt)
	}
}

// DeadLetters returns messages moved by the redrive policy.
func (q *Memory) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Depth counts currently visible messages.
func (q *Memory) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
