// Package telemetry owns the Job Runner's per-job Progress and the bounded
// Telemetry Ring of recent stdout lines that the UI observes.
package telemetry

import "sync"

// Progress is per-job mutable state: the last (iteration, entropy) pair
// extracted from the child's stdout. Reset when a new job is fetched.
type Progress struct {
	mu             sync.RWMutex
	currentIter    int
	currentEntropy float64
	hasEntropy     bool
}

// Update records a new (iteration, entropy) pair. Per the monotonicity
// invariant, a lower iteration than already recorded is ignored.
func (p *Progress) Update(iteration int, entropy float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if iteration < p.currentIter {
		return
	}
	p.currentIter = iteration
	p.currentEntropy = entropy
	p.hasEntropy = true
}

// Snapshot returns the current iteration, the current entropy (if any has
// been observed), and whether an entropy value has ever been observed.
func (p *Progress) Snapshot() (iteration int, entropy float64, hasEntropy bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentIter, p.currentEntropy, p.hasEntropy
}

// Reset clears Progress for a freshly fetched job.
func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentIter = 0
	p.currentEntropy = 0
	p.hasEntropy = false
}
