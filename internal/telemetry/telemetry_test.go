package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	r.Push("a")
	r.Push("b")
	r.Push("c")
	r.Push("d")
	require.Equal(t, []string{"b", "c", "d"}, r.Snapshot())
}

func TestProgressMonotonicity(t *testing.T) {
	p := &Progress{}
	p.Update(3, 1.5)
	p.Update(2, 9.9) // lower iteration, must be ignored
	iter, entropy, has := p.Snapshot()
	require.Equal(t, 3, iter)
	require.Equal(t, 1.5, entropy)
	require.True(t, has)
}

func TestParserExtractsProgress(t *testing.T) {
	stdout := make(chan string, 4)
	stdout <- "starting up"
	stdout <- "[ Iteration 5 ] foo bar Entropy: 1.2345"
	close(stdout)

	progress := &Progress{}
	ring := NewRing(10)

	Run(stdout, progress, ring, func() bool { return false })

	iter, entropy, has := progress.Snapshot()
	require.True(t, has)
	require.Equal(t, 5, iter)
	require.Equal(t, 1.2345, entropy)
	require.Equal(t, []string{"starting up", "[ Iteration 5 ] foo bar Entropy: 1.2345"}, ring.Snapshot())
}
