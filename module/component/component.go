package component

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/util"
)

// Component is a long-running part of a node: engines, the network node, the metrics server.
// Once started, Done must eventually close, either after the context is cancelled or after
// an irrecoverable error was thrown.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

// ReadyFunc is called by a worker once it is able to serve.
type ReadyFunc func()

// ComponentWorker is one goroutine of a component. Errors it cannot handle are thrown on ctx.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder collects workers before the manager is built.
type ComponentManagerBuilder interface {
	AddWorker(ComponentWorker) ComponentManagerBuilder
	Build() *ComponentManager
}

type builder struct {
	workers []ComponentWorker
}

func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &builder{}
}

// AddWorker is not safe for concurrent use.
func (b *builder) AddWorker(w ComponentWorker) ComponentManagerBuilder {
	b.workers = append(b.workers, w)
	return b
}

func (b *builder) Build() *ComponentManager {
	return &ComponentManager{
		workers:  b.workers,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		stopping: make(chan struct{}),
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager runs a fixed set of workers in parallel. Ready closes once every worker
// called its ReadyFunc and Done closes once every worker returned. The first thrown error
// cancels all workers and is forwarded to the parent context.
type ComponentManager struct {
	started  atomic.Bool
	workers  []ComponentWorker
	ready    chan struct{}
	done     chan struct{}
	stopping chan struct{}
}

// Start panics when called twice.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(module.ErrMultipleStartup)
	}

	ctx, cancel := context.WithCancel(parent)
	workerCtx, errs := irrecoverable.WithSignaler(ctx)

	var ready, finished sync.WaitGroup
	ready.Add(len(c.workers))
	finished.Add(len(c.workers))

	returned := make(chan struct{})
	go func() {
		ready.Wait()
		close(c.ready)
	}()
	go func() {
		finished.Wait()
		close(returned)
	}()
	go func() {
		<-ctx.Done()
		close(c.stopping)
	}()
	go func() {
		// Throw exits the goroutine, done must still close once workers returned
		defer func() {
			<-returned
			close(c.done)
		}()
		err := util.WaitError(errs, returned)
		cancel()
		if err != nil {
			parent.Throw(err)
		}
	}()

	for _, w := range c.workers {
		go func(w ComponentWorker) {
			defer finished.Done()
			var once sync.Once
			w(workerCtx, func() { once.Do(ready.Done) })
		}(w)
	}
}

func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}

// ShutdownSignal closes as soon as the manager starts stopping its workers.
func (c *ComponentManager) ShutdownSignal() <-chan struct{} {
	return c.stopping
}
