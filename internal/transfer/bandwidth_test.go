package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterDisabledByDefault(t *testing.T) {
	l := NewLimiter()
	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), 10<<20))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterPacesWhenSet(t *testing.T) {
	l := NewLimiter()
	l.SetLimit(1024)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The bucket starts empty after SetLimit, so the first 1024 bytes take
	// about a second to accrue; a further 1024 need another second, past the
	// tiny deadline.
	require.NoError(t, l.Wait(context.Background(), 1024))
	err := l.Wait(ctx, 1024)
	require.Error(t, err)
}
