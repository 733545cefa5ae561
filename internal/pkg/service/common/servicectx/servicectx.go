// Package servicectx provides unique ID for a worker process and support for the graceful shutdown.
package servicectx

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/schedule-coordinator/internal/pkg/idgenerator"
	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

type Process struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   log.Logger
	wg       *sync.WaitGroup
	errCh    chan error
	uniqueID string

	lock        *sync.Mutex
	terminating bool
	onShutdown  []OnShutdownFn
}

type Option func(c *config)

// OnShutdownFn is called on the process termination, the context is not cancelled yet.
type OnShutdownFn func(ctx context.Context)

type config struct {
	uniqueID     string
	handleSignal bool
}

// WithUniqueID sets unique ID of the process.
// By default, it is generated from the hostname and PID.
func WithUniqueID(v string) Option {
	return func(c *config) {
		c.uniqueID = v
	}
}

// WithoutSignals disables the SIGINT and SIGTERM handler, it is used in tests.
func WithoutSignals() Option {
	return func(c *config) {
		c.handleSignal = false
	}
}

func New(ctx context.Context, logger log.Logger, opts ...Option) (*Process, error) {
	c := config{handleSignal: true}
	for _, o := range opts {
		o(&c)
	}

	if c.uniqueID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		c.uniqueID = fmt.Sprintf(`%s-%05d`, hostname, os.Getpid())
	}

	// The channel is used by both the signal handler and the operations
	// to notify the main goroutine when to stop.
	errCh := make(chan error)

	// SIGINT and SIGTERM signals cause the process to stop gracefully.
	if c.handleSignal {
		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			errCh <- errors.Errorf("%s", <-sigCh)
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	proc := &Process{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithComponent("process"),
		wg:       &sync.WaitGroup{},
		errCh:    errCh,
		uniqueID: c.uniqueID,
		lock:     &sync.Mutex{},
	}

	proc.logger.With(attribute.String("process.id", proc.uniqueID)).Info(ctx, "process started")
	return proc, nil
}

func NewForTest(t *testing.T) *Process {
	t.Helper()

	proc, err := New(context.Background(), log.NewNopLogger(), WithoutSignals(), WithUniqueID("test_"+idgenerator.StoreNamespaceForTest()))
	if err != nil {
		t.Fatal(err)
		return nil
	}

	t.Cleanup(func() {
		proc.Shutdown(errors.New("test cleanup"))
		proc.WaitForShutdown()
	})

	return proc
}

// Ctx returns context of the Process, it is cancelled after the OnShutdown callbacks.
func (v *Process) Ctx() context.Context {
	return v.ctx
}

// Shutdown triggers termination of the Process.
func (v *Process) Shutdown(err error) {
	go func() {
		v.errCh <- err
	}()
}

// WaitForShutdown blocks until a shutdown is triggered, then runs OnShutdown callbacks and waits for all operations.
func (v *Process) WaitForShutdown() {
	v.logger.Infof(v.ctx, "exiting (%v)", <-v.errCh)

	v.lock.Lock()
	v.terminating = true
	callbacks := v.onShutdown
	v.lock.Unlock()

	// Iterate callbacks in reverse order, LIFO
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i](v.ctx)
	}

	// Send cancellation signal to the operations
	v.cancel()
	v.wg.Wait()

	v.logger.Info(context.Background(), "exited")
}

// UniqueID returns unique process ID.
func (v *Process) UniqueID() string {
	return v.uniqueID
}

// Add an operation.
// The Process is graceful terminated when all operations are completed.
// The ctx parameter can be used to wait for the termination.
// The errCh parameter can be used to stop the process with an error.
func (v *Process) Add(operation func(ctx context.Context, errCh chan<- error)) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		operation(v.ctx, v.errCh)
	}()
}

// OnShutdown registers a callback that is invoked when the process is terminating.
// Callbacks are invoked sequentially in LIFO order.
func (v *Process) OnShutdown(fn OnShutdownFn) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.terminating {
		v.logger.Error(v.ctx, `cannot register OnShutdown callback: the process is terminating`)
		return
	}
	v.onShutdown = append(v.onShutdown, fn)
}
