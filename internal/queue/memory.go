package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"slackstream/internal/domain"
)

const publishTimeout = 10 * time.Second

// ErrQueueFull is returned when the in-memory queue stays full for longer
// than the publish timeout.
var ErrQueueFull = errors.New("queue full")

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

type memItem struct {
	msg      domain.QueuedMessage
	attempts int
}

// Memory is a channel backed queue for single-process deployments. Failed
// records are redelivered up to maxAttempts times and then dropped.
type Memory struct {
	items       chan memItem
	maxAttempts int
	mu          sync.RWMutex
	closed      bool
	logger      *slog.Logger
}

func NewMemory(bufferSize, maxAttempts int, logger *slog.Logger) *Memory {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		items:       make(chan memItem, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "memory_queue"),
	}
}

func (m *Memory) Ordered() bool { return false }

// Enqueue blocks up to 10 seconds if the queue is full instead of dropping.
func (m *Memory) Enqueue(ctx context.Context, msg domain.QueuedMessage) error {
	return m.push(ctx, memItem{msg: msg})
}

func (m *Memory) push(ctx context.Context, it memItem) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrQueueClosed
	}

	select {
	case m.items <- it:
		return nil
	default:
	}

	m.logger.Warn("queue full, waiting...")
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case m.items <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueFull
	}
}

// Run feeds queued bodies to handler until ctx is cancelled or the queue is
// closed and drained. Failed records wait in a local retry list owned by this
// goroutine, so redelivery never blocks on a full buffer. New records and
// retries alternate.
func (m *Memory) Run(ctx context.Context, handler domain.RecordHandler) {
	var retries []memItem
	for {
		if len(retries) == 0 {
			select {
			case <-ctx.Done():
				return
			case it, ok := <-m.items:
				if !ok {
					return
				}
				retries = m.deliver(ctx, it, handler, retries)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case it, ok := <-m.items:
			if ok {
				retries = m.deliver(ctx, it, handler, retries)
			}
		default:
		}
		it := retries[0]
		retries = retries[1:]
		retries = m.deliver(ctx, it, handler, retries)
	}
}

// deliver runs handler once and returns retries with it appended when it
// failed and has attempts left.
func (m *Memory) deliver(ctx context.Context, it memItem, handler domain.RecordHandler, retries []memItem) []memItem {
	it.attempts++
	err := handler(ctx, it.msg.Body)
	if err == nil {
		return retries
	}
	if it.attempts >= m.maxAttempts {
		m.logger.Error("dropping message after repeated failures", "attempts", it.attempts, "err", err)
		return retries
	}
	m.logger.Warn("redelivering message", "attempt", it.attempts, "err", err)
	return append(retries, it)
}

func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.items)
	}
}
