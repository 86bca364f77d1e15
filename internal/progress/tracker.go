package progress

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber receives state updates. Delivery is synchronous; a slow
// subscriber slows the publisher.
type Subscriber func(State)

// Tracker holds the latest ingestion state and fans updates out to
// subscribers in subscription order. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	state  State
	seq    int
	subs   []subscription
	logger *zap.Logger
}

type subscription struct {
	id int
	fn Subscriber
}

// NewTracker constructs an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logger: logger}
}

// State returns the most recently published state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Publish stores the new state and delivers it to every subscriber before
// returning. A panicking subscriber is logged and skipped; it never affects
// the publisher or the other subscribers.
func (t *Tracker) Publish(state State) {
	t.mu.Lock()
	t.state = state
	subs := append([]subscription(nil), t.subs...)
	t.mu.Unlock()

	for _, sub := range subs {
		t.deliver(sub, state)
	}
}

// Subscribe registers fn and immediately delivers the current state so a
// late observer catches up with an in-flight batch. The returned function
// removes the subscription; it is safe to call more than once.
func (t *Tracker) Subscribe(fn Subscriber) func() {
	t.mu.Lock()
	t.seq++
	id := t.seq
	t.subs = append(t.subs, subscription{id: id, fn: fn})
	current := t.state
	hasState := t.state.Status != ""
	t.mu.Unlock()

	if hasState {
		t.deliver(subscription{id: id, fn: fn}, current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, sub := range t.subs {
				if sub.id == id {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (t *Tracker) deliver(sub subscription, state State) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("progress subscriber panicked",
				zap.Int("subscriber", sub.id),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(state)
}
