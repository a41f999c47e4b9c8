package source

import "sync"

// branchBuffer is the per-branch queue depth before chunks are dropped.
const branchBuffer = 16

// Tee fans one live origin out to any number of branch streams, so the same
// capture can feed the analyzer and an encode session at once. Delivery to a
// branch is non-blocking; a slow branch loses chunks rather than stalling the
// others. The origin itself is never closed by the tee.
type Tee struct {
	origin Stream

	mu       sync.Mutex
	branches map[*branch]struct{}
	closed   bool
}

type branch struct {
	tee *Tee
	ch  chan []float32

	once sync.Once
}

// NewTee starts fanning origin's samples out. Branches created later only see
// chunks arriving after their creation.
func NewTee(origin Stream) *Tee {
	t := &Tee{
		origin:   origin,
		branches: make(map[*branch]struct{}),
	}
	go t.run()
	return t
}

func (t *Tee) run() {
	for chunk := range t.origin.Samples() {
		t.mu.Lock()
		for b := range t.branches {
			select {
			case b.ch <- chunk:
			default:
				// Branch lagging; drop rather than stall the siblings.
			}
		}
		t.mu.Unlock()
	}
	t.Close()
}

// Branch returns a new stream fed from the origin. Closing the branch detaches
// it without affecting the tee or its siblings.
func (t *Tee) Branch() Stream {
	b := &branch{tee: t, ch: make(chan []float32, branchBuffer)}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(b.ch)
		return b
	}
	t.branches[b] = struct{}{}
	return b
}

// Close detaches all branches and stops fan-out. The origin stays open; its
// lifetime belongs to the caller. Safe to call repeatedly.
func (t *Tee) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for b := range t.branches {
		close(b.ch)
		delete(t.branches, b)
	}
}

func (b *branch) Samples() <-chan []float32 { return b.ch }

func (b *branch) SampleRate() int { return b.tee.origin.SampleRate() }

func (b *branch) Err() error { return b.tee.origin.Err() }

// Close detaches this branch from the tee.
func (b *branch) Close() error {
	b.once.Do(func() {
		b.tee.mu.Lock()
		if _, attached := b.tee.branches[b]; attached {
			delete(b.tee.branches, b)
			close(b.ch)
		}
		b.tee.mu.Unlock()
	})
	return nil
}
