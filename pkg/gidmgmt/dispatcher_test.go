package gidmgmt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsInOrder(t *testing.T) {
	d := NewDispatcher(16)

	var log []int
	released := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(&recordWork{id: i, log: &log, released: &released}))
	}

	require.NoError(t, d.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, log)
	assert.Equal(t, 5, released)

	require.NoError(t, d.Stop(ctx))
	st := d.Stats()
	assert.EqualValues(t, 5, st.Enqueued)
	assert.EqualValues(t, 6, st.Processed)
	assert.EqualValues(t, 0, st.Dropped)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(2)

	var log []int
	released := 0
	for i := 0; i < 2; i++ {
		require.NoError(t, d.Enqueue(&recordWork{id: i, log: &log, released: &released}))
	}

	err := d.Enqueue(&recordWork{id: 2, log: &log, released: &released})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, released, "dropped work must be released")
	assert.EqualValues(t, 1, d.Stats().Dropped)

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, []int{0, 1}, log)
	assert.Equal(t, 3, released)
}

func TestDispatcherStopDrains(t *testing.T) {
	d := NewDispatcher(16)
	require.NoError(t, d.Start(context.Background()))

	block := newBlockingWork()
	require.NoError(t, d.Enqueue(block))
	<-block.started

	var log []int
	released := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(&recordWork{id: i, log: &log, released: &released}))
	}

	stopped := make(chan error, 1)
	go func() { stopped <- d.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before queued work ran")
	case <-time.After(20 * time.Millisecond):
	}

	close(block.release)
	require.NoError(t, <-stopped)
	assert.Equal(t, []int{0, 1, 2}, log)

	err := d.Enqueue(&recordWork{id: 9, log: &log, released: &released})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 4, released)
	assert.ErrorIs(t, d.Flush(context.Background()), ErrStopped)
}

func TestDispatcherStopTimeout(t *testing.T) {
	d := NewDispatcher(4)
	require.NoError(t, d.Start(context.Background()))

	block := newBlockingWork()
	require.NoError(t, d.Enqueue(block))
	<-block.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)

	close(block.release)
	d.Wait()
}

func TestDispatcherFlushTimeout(t *testing.T) {
	d := NewDispatcher(4)
	require.NoError(t, d.Start(context.Background()))

	block := newBlockingWork()
	require.NoError(t, d.Enqueue(block))
	<-block.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Flush(ctx), context.DeadlineExceeded)

	close(block.release)
	require.NoError(t, d.Stop(context.Background()))
}

type panicWork struct{ released *bool }

func (w *panicWork) Run()           { panic("boom") }
func (w *panicWork) Release()       { *w.released = true }
func (w *panicWork) String() string { return "panic" }

func TestDispatcherSurvivesPanics(t *testing.T) {
	d := NewDispatcher(4)
	require.NoError(t, d.Start(context.Background()))

	released := false
	require.NoError(t, d.Enqueue(&panicWork{released: &released}))
	require.NoError(t, d.Flush(context.Background()))
	assert.True(t, released)

	require.NoError(t, d.Stop(context.Background()))
}
