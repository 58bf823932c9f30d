package engine

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Events are dropped if a subscriber falls this far behind; the final state
// is always readable from the store.
const subscriberBufferSize = 64

// ProgressEvent is a snapshot of a job's externally visible state.
type ProgressEvent struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

// ProgressBroker fans out per-job progress events to subscribers.
// It is safe for concurrent use.
//
// A topic exists only once someone subscribes. When its job ends the topic
// stays as a closed marker so a late subscriber gets a closed channel;
// Forget drops the marker once the job itself has been evicted. Jobs nobody
// subscribed to leave nothing behind, so a subscriber must re-read the job
// after Subscribe to catch one that already finished.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan ProgressEvent
	nextID int
	closed bool
}

// NewProgressBroker creates an empty broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Subscribe returns a channel of progress events for jobID and an
// unsubscribe function. The channel is already closed if the job finished
// while its topic existed.
func (b *ProgressBroker) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan ProgressEvent)}
		b.topics[jobID] = t
	}

	ch := make(chan ProgressEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish delivers ev to every subscriber of ev.JobID without blocking.
func (b *ProgressBroker) Publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.JobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the stream for jobID. Current subscriber channels are closed
// and later Subscribe calls return a closed channel. A job without a topic
// is left untracked.
func (b *ProgressBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget removes the closed marker for jobID. Open topics are left alone.
func (b *ProgressBroker) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[jobID]; ok && t.closed {
		delete(b.topics, jobID)
	}
}
