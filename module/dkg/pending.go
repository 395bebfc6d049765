package dkg

import (
	"sync"

	"github.com/ef-ds/deque"

	"github.com/mnlabs/quorum-go/model/llq"
)

// PendingMessage is one queued DKG message awaiting batched processing,
// together with the peer it arrived from.
type PendingMessage struct {
	Origin  llq.Identifier
	Message interface{}
}

// PendingMessages buffers incoming messages of one DKG message type.
// Messages are deduplicated by content hash and each origin is capped, so a
// flooding peer cannot crowd out the others. Draining happens in FIFO order.
type PendingMessages struct {
	mu           sync.Mutex
	queue        *deque.Deque
	seen         map[llq.Identifier]struct{}
	perOrigin    map[llq.Identifier]int
	maxPerOrigin int
}

func NewPendingMessages(maxPerOrigin int) *PendingMessages {
	return &PendingMessages{
		queue:        deque.New(),
		seen:         make(map[llq.Identifier]struct{}),
		perOrigin:    make(map[llq.Identifier]int),
		maxPerOrigin: maxPerOrigin,
	}
}

// Push queues the message unless its hash was already seen or the origin
// reached its cap. It reports whether the message was accepted.
func (pm *PendingMessages) Push(origin llq.Identifier, id llq.Identifier, msg interface{}) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.seen[id]; ok {
		return false
	}
	if pm.perOrigin[origin] >= pm.maxPerOrigin {
		return false
	}
	pm.seen[id] = struct{}{}
	pm.perOrigin[origin]++
	pm.queue.PushBack(PendingMessage{Origin: origin, Message: msg})
	return true
}

// PopBatch removes and returns up to max queued messages, oldest first. A
// non-positive max drains the whole queue.
func (pm *PendingMessages) PopBatch(max int) []PendingMessage {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	n := pm.queue.Len()
	if max > 0 && max < n {
		n = max
	}
	batch := make([]PendingMessage, 0, n)
	for i := 0; i < n; i++ {
		v, ok := pm.queue.PopFront()
		if !ok {
			break
		}
		msg := v.(PendingMessage)
		pm.perOrigin[msg.Origin]--
		batch = append(batch, msg)
	}
	return batch
}

func (pm *PendingMessages) Len() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.queue.Len()
}
