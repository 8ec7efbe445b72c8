package venue

import "sync"

// turnstile admits holders one at a time in the order their tickets were
// taken.
type turnstile struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64
	turn uint64
}

func newTurnstile() *turnstile {
	t := &turnstile{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *turnstile) take() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	t.next++
	return n
}

func (t *turnstile) wait(ticket uint64) {
	t.mu.Lock()
	for t.turn != ticket {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// advance passes the turn to the next ticket. Only the current holder calls it.
func (t *turnstile) advance() {
	t.mu.Lock()
	t.turn++
	t.mu.Unlock()
	t.cond.Broadcast()
}
