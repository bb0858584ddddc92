package framework

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventCoalesces(t *testing.T) {
	e := NewEvent()
	e.Wake()
	e.Wake()
	e.Wake()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
	require.Equal(t, context.DeadlineExceeded, e.Wait(ctx))
}

func TestEventClear(t *testing.T) {
	e := NewEvent()
	e.Wake()
	e.Clear()
	select {
	case <-e.C():
		t.Fatal("event should be cleared")
	default:
	}
}

func TestTask(t *testing.T) {
	runs := make(chan struct{}, 4)
	task := NewTask("test", func(context.Context) { runs <- struct{}{} })
	require.Equal(t, "test", task.Name())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(ctx) }()

	task.Wake()
	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("task not woken")
	}
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}

func TestDeferredRunsOnce(t *testing.T) {
	var count int32
	done := make(chan struct{}, 4)
	d := NewDeferred(func() {
		atomic.AddInt32(&count, 1)
		done <- struct{}{}
	})
	d.Call(20 * time.Millisecond)
	d.Call(10 * time.Millisecond)
	require.True(t, d.Pending())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deferred not called")
	}
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&count))
	require.False(t, d.Pending())
}

func TestDeferredCancel(t *testing.T) {
	called := make(chan struct{}, 1)
	d := NewDeferred(func() { called <- struct{}{} })
	d.Call(10 * time.Millisecond)
	d.Call(-1)
	require.False(t, d.Pending())
	select {
	case <-called:
		t.Fatal("canceled call should not run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeferredWake(t *testing.T) {
	called := make(chan struct{}, 1)
	d := NewDeferred(func() { called <- struct{}{} })
	d.Call(time.Hour)
	d.Wake()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("wake should run immediately")
	}
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Aggregate())
	errs.Add(nil, errors.New("a"), nil, errors.New("b"))
	err := errs.Aggregate()
	require.Error(t, err)
	require.Equal(t, "Multiple errors:\na\nb", err.Error())

	var single AggregatedError
	single.Add(io.EOF)
	require.Equal(t, "EOF", single.Aggregate().Error())
	require.ErrorIs(t, errs.Add(io.EOF).Aggregate(), io.EOF)
}

type errRunnable struct{ err error }

func (r errRunnable) Run(context.Context) error { return r.err }

func TestRunnerWait(t *testing.T) {
	r := NewRunner()
	r.Go(NamedRun("ok", errRunnable{}), errRunnable{err: errors.New("failed")})
	err := r.Wait()
	require.Error(t, err)
	require.Len(t, err.(*AggregatedError).Errors, 1)
	require.Equal(t, "1: failed", err.Error())
}

func TestRunnerStopsOnFailure(t *testing.T) {
	failure := errors.New("failed")
	r := NewRunner()
	r.Go(NamedRun("task", RunnableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})), NamedRun("bad", errRunnable{err: failure}))
	err := r.Wait()
	require.ErrorIs(t, err, failure)
	require.Equal(t, "bad: failed", err.Error())
}

type countCloser struct {
	n  int
	ch chan struct{}
}

func (c *countCloser) Close() error {
	c.n++
	if c.ch != nil {
		close(c.ch)
	}
	return nil
}

func TestRunWithContextCloser(t *testing.T) {
	var c countCloser
	require.NoError(t, RunWithContextCloser(context.Background(), &c, func() error { return nil }))
	require.Equal(t, 1, c.n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = countCloser{ch: make(chan struct{})}
	err := RunWithContextCloser(ctx, &c, func() error {
		<-c.ch
		return nil
	})
	require.Equal(t, context.Canceled, err)
	require.Equal(t, 1, c.n)
}

func TestSystemTime(t *testing.T) {
	before := time.Now()
	now := SystemTime.Time()
	require.False(t, now.Before(before))
}
