package runner

import "sync"

// subscriberBuffer is the per-subscriber queue. Progress events beyond it
// are dropped for that subscriber; the terminal event is always delivered.
const subscriberBuffer = 64

// broadcaster fans the progress of one run out to its subscribers.
type broadcaster struct {
	runID    string
	observer func(ProgressEvent)

	mu     sync.Mutex
	subs   map[int]chan ProgressEvent
	nextID int
	last   *ProgressEvent
	done   bool
}

func newBroadcaster(runID string, observer func(ProgressEvent)) *broadcaster {
	return &broadcaster{
		runID:    runID,
		observer: observer,
		subs:     make(map[int]chan ProgressEvent),
	}
}

// subscribe registers a subscriber. The latest event, if any, is replayed
// first. ok is false once the run has finished.
func (b *broadcaster) subscribe() (ch <-chan ProgressEvent, cancel func(), ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, nil, false
	}

	c := make(chan ProgressEvent, subscriberBuffer)
	id := b.nextID
	b.nextID++
	b.subs[id] = c
	if b.last != nil {
		c <- *b.last
	}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return c, cancel, true
}

// publish delivers a non-terminal event.
func (b *broadcaster) publish(e ProgressEvent) {
	e.RunID = b.runID
	if b.observer != nil {
		b.observer(e)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.last = &e
	for _, c := range b.subs {
		select {
		case c <- e:
		default:
		}
	}
}

// finish delivers the terminal event and closes every subscription.
func (b *broadcaster) finish(e ProgressEvent) {
	e.RunID = b.runID
	if b.observer != nil {
		b.observer(e)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	b.last = &e
	for id, c := range b.subs {
		select {
		case c <- e:
		default:
			// Make room by dropping the oldest queued event.
			select {
			case <-c:
			default:
			}
			c <- e
		}
		close(c)
		delete(b.subs, id)
	}
}
