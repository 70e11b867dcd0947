package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"yogaflow/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweep struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweep) Sweep(ctx context.Context) (*service.SweepResult, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("sweep ran without a deadline")
	}
	return &service.SweepResult{}, c.err
}

func TestRunSweepsOnStartAndStops(t *testing.T) {
	svc := &countingSweep{}
	s := New(svc, "@every 1h", time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestRunRejectsBadSchedule(t *testing.T) {
	s := New(&countingSweep{}, "every now and then", time.Minute, zerolog.Nop())
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
}

func TestRunOnceSkipsCancelledContext(t *testing.T) {
	svc := &countingSweep{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(svc, "@every 1h", time.Minute, zerolog.Nop()).RunOnce(ctx)
	assert.Zero(t, svc.calls.Load())
}

func TestRunOnceSwallowsSweepError(t *testing.T) {
	svc := &countingSweep{err: errors.New("db down")}
	New(svc, "@every 1h", time.Minute, zerolog.Nop()).RunOnce(context.Background())
	assert.Equal(t, int32(1), svc.calls.Load())
}
