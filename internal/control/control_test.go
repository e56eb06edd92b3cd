package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/schedulerd/internal/event"
)

func TestSendEchoesAndEnqueues(t *testing.T) {
	q := event.NewQueue(4)
	ln, err := Listen(q)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	echoed, err := Send(ln.Port(), "report.2021-09-22T08:00:00")
	require.NoError(t, err)
	assert.Equal(t, "report.2021-09-22T08:00:00", echoed)

	require.Eventually(t, func() bool {
		_, ok := q.TryPop()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestSendStopInstruction(t *testing.T) {
	q := event.NewQueue(4)
	ln, err := Listen(q)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	echoed, err := Send(ln.Port(), Stop)
	require.NoError(t, err)
	assert.Equal(t, Stop, echoed)

	require.Eventually(t, func() bool {
		ev, ok := q.TryPop()
		if !ok {
			return false
		}
		cs, ok := ev.(event.ControlString)
		return ok && string(cs) == Stop
	}, time.Second, 5*time.Millisecond)
}
