package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// NameOf returns the name of a Named runnable, or fallback.
func NameOf(runnable Runnable, fallback string) string {
	if named, ok := runnable.(Named); ok {
		return named.Name()
	}
	return fallback
}

type runResult struct {
	name string
	err  error
}

// Runner runs the tasks of a device or tool together. The first task
// failing stops all the others.
type Runner struct {
	Context context.Context
	Runners []Runnable

	cancel   context.CancelFunc
	resultCh chan runResult
	exitCh   chan struct{}
}

// NewRunner creates a runner with a default background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner derived from ctx.
func NewRunnerWith(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		Context:  ctx,
		cancel:   cancel,
		resultCh: make(chan runResult, 1),
		exitCh:   make(chan struct{}),
	}
}

// HandleSignals stops the runner on Ctrl-C or SIGTERM. A second signal
// makes Wait return immediately.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("stop requested")
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.exitCh)
	}()
	return r
}

// Stop cancels all runnables.
func (r *Runner) Stop() {
	r.cancel()
}

// Go spawns runnables with the runner context.
func (r *Runner) Go(runners ...Runnable) *Runner {
	return r.GoWith(r.Context, runners...)
}

// GoWith spawns runnables with a specified context.
func (r *Runner) GoWith(ctx context.Context, runners ...Runnable) *Runner {
	for _, runner := range runners {
		name := NameOf(runner, strconv.Itoa(len(r.Runners)))
		r.Runners = append(r.Runners, runner)
		go func(runner Runnable, name string) {
			glog.V(4).Infof("Runner[%s] started", name)
			err := runner.Run(ctx)
			glog.V(4).Infof("Runner[%s] stopped: %v", name, err)
			r.resultCh <- runResult{name: name, err: err}
		}(runner, name)
	}
	return r
}

// Wait waits until all runnables stop and aggregates their errors, each
// prefixed with the runnable name.
func (r *Runner) Wait() error {
	defer r.cancel()
	var errs AggregatedError
	for range r.Runners {
		select {
		case <-r.exitCh:
			return errors.New("forced exit")
		case res := <-r.resultCh:
			if res.err == nil || errors.Is(res.err, context.Canceled) {
				continue
			}
			glog.Errorf("Runner[%s] failed: %v", res.name, res.err)
			errs.Add(fmt.Errorf("%s: %w", res.name, res.err))
			r.cancel()
		}
	}
	return errs.Aggregate()
}

// RunWithContextCancel runs fn which doesn't accept a context. onCancel is
// called only when ctx ends first, and must make fn return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return context.Canceled
	case err := <-errCh:
		return err
	}
}

// RunWithContext is the simplified form with no cancel callback.
func RunWithContext(ctx context.Context, fn func() error) error {
	return RunWithContextCancel(ctx, nil, fn)
}

// RunWithContextCloser closes closer exactly once, either when ctx ends or
// after fn returns.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var once sync.Once
	closeFn := func() { once.Do(func() { closer.Close() }) }
	defer closeFn()
	return RunWithContextCancel(ctx, closeFn, fn)
}
