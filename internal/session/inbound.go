package session

import (
	"log/slog"
	"sync"
)

// inboundQueue buffers raw PCM chunks between recvLoop (producer) and
// mainLoop (consumer). It enforces a soft byte cap: once exceeded, the
// oldest buffered chunks are dropped and a warning is logged, but the
// queue itself is never blocked on — recvLoop must keep draining the
// WebSocket regardless of how busy mainLoop currently is.
type inboundQueue struct {
	mu         sync.Mutex
	chunks     [][]byte
	totalBytes int
	softCap    int
	logger     *slog.Logger

	notify chan struct{}
}

func newInboundQueue(softCap int, logger *slog.Logger) *inboundQueue {
	return &inboundQueue{
		softCap: softCap,
		logger:  logger,
		notify:  make(chan struct{}, 1),
	}
}

// push appends chunk to the queue, trimming the oldest buffered chunks if
// the soft cap is exceeded, and signals notify.
func (q *inboundQueue) push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	q.mu.Lock()
	q.chunks = append(q.chunks, cp)
	q.totalBytes += len(cp)
	for q.totalBytes > q.softCap && len(q.chunks) > 1 {
		dropped := q.chunks[0]
		q.chunks = q.chunks[1:]
		q.totalBytes -= len(dropped)
		q.logger.Warn("session: inbound audio buffer overflow, trimming oldest chunk",
			"dropped_bytes", len(dropped), "buffered_bytes", q.totalBytes)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns all currently buffered chunks.
func (q *inboundQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	chunks := q.chunks
	q.chunks = nil
	q.totalBytes = 0
	return chunks
}
