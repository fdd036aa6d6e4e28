package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
)

const enqueueTimeout = 10 * time.Second

// Queue is the FIFO handoff between the ingestion paths (duplex channel,
// poller) and the single pipeline consumer. Enqueue order is the only
// ordering guarantee; producers sort by message ID before enqueueing.
type Queue struct {
	inbound chan domain.RawMessage
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a Queue with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Queue{
		inbound: make(chan domain.RawMessage, bufferSize),
		logger:  logger,
	}
}

// Enqueue blocks up to 10 seconds if the queue is full instead of dropping.
func (q *Queue) Enqueue(msg domain.RawMessage) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to enqueue to closed queue", "message_id", msg.MessageID)
		return
	}

	select {
	case q.inbound <- msg:
	default:
		// Queue full — wait with timeout instead of dropping
		q.logger.Warn("inbound queue full, waiting...", "message_id", msg.MessageID)
		timer := time.NewTimer(enqueueTimeout)
		defer timer.Stop()
		select {
		case q.inbound <- msg:
			q.logger.Info("message enqueued after wait", "message_id", msg.MessageID)
		case <-timer.C:
			q.logger.Error("message dropped: queue full for 10s",
				"message_id", msg.MessageID,
				"user_id", msg.UserID,
			)
		}
	}
}

// Messages returns the consumer side of the queue.
func (q *Queue) Messages() <-chan domain.RawMessage {
	return q.inbound
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
