package lifecycle

import (
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
)

// JobTracker pins epochs while lifecycle jobs read them, so the pruner
// never deletes data out from under an in-progress snapshot, archive run or
// database checkpoint.
type JobTracker struct {
	mu   sync.Mutex
	jobs map[idx.Epoch]int
}

// NewJobTracker creates an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{
		jobs: make(map[idx.Epoch]int),
	}
}

// Begin pins the epoch and returns the matching release. Release is
// idempotent.
func (t *JobTracker) Begin(epoch idx.Epoch) (release func()) {
	t.mu.Lock()
	t.jobs[epoch]++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.jobs[epoch]--
			if t.jobs[epoch] <= 0 {
				delete(t.jobs, epoch)
			}
		})
	}
}

// MinPinned returns the lowest pinned epoch. ok is false when no job is in
// progress.
func (t *JobTracker) MinPinned() (min idx.Epoch, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for e := range t.jobs {
		if !ok || e < min {
			min, ok = e, true
		}
	}
	return
}
