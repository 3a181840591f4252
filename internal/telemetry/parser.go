package telemetry

import (
	"regexp"
	"strconv"
	"time"
)

// progressPattern extracts (iteration, entropy) from a child stdout line
// shaped like "[ Iteration 5 ] ... Entropy: 1.2345".
var progressPattern = regexp.MustCompile(`\[\s*Iteration\s*(\d+)\s*\].*Entropy:\s*([\d.]+)`)

// Run consumes stdout until the channel closes (the end-of-stream
// sentinel). For each line it appends to ring and, on a progress-pattern
// match, updates progress. It re-checks stopped on a 1-second cadence so a
// stalled producer doesn't wedge shutdown.
func Run(stdout <-chan string, progress *Progress, ring *Ring, stopped func() bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-stdout:
			if !ok {
				return
			}
			ring.Push(line)
			if m := progressPattern.FindStringSubmatch(line); m != nil {
				iter, err := strconv.Atoi(m[1])
				if err != nil {
					continue
				}
				entropy, err := strconv.ParseFloat(m[2], 64)
				if err != nil {
					continue
				}
				progress.Update(iter, entropy)
			}
		case <-ticker.C:
			if stopped != nil && stopped() {
				return
			}
		}
	}
}
