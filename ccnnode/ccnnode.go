// Package ccnnode wires the sync-engine, processor, and scheduler services
// into one process and coordinates their graceful startup and shutdown.
package ccnnode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aleph-im/go-ccn/log"
)

// ShutdownTimeout bounds how long Shutdown waits for services to stop
// before aborting (spec.md §5: "default 30 s").
const ShutdownTimeout = 30 * time.Second

// Lifecycle is a service a Node starts and stops as a unit: the chain-sync
// consumer, the pending-message processor, or the scheduler's scan loop.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// FuncLifecycle adapts a start/stop pair into a Lifecycle, for services
// that don't otherwise need their own named type.
type FuncLifecycle struct {
	StartFunc func(ctx context.Context) error
	StopFunc  func() error
}

// Start runs StartFunc, or does nothing if it is nil.
func (f FuncLifecycle) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

// Stop runs StopFunc, or does nothing if it is nil.
func (f FuncLifecycle) Stop() error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc()
}

// Node owns the registered Lifecycles and runs them until Shutdown.
type Node struct {
	mu        sync.Mutex
	lifecycles []namedLifecycle
	log       log.Logger
}

type namedLifecycle struct {
	name string
	l    Lifecycle
}

// New returns an empty Node.
func New() *Node {
	return &Node{log: log.New("component", "ccnnode")}
}

// Register adds a Lifecycle under name; Start/Stop will include it.
func (n *Node) Register(name string, l Lifecycle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lifecycles = append(n.lifecycles, namedLifecycle{name: name, l: l})
}

// Start starts every registered Lifecycle in registration order, stopping
// and returning the first error if one fails to start.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, nl := range n.lifecycles {
		if err := nl.l.Start(ctx); err != nil {
			n.stopFrom(i - 1)
			return fmt.Errorf("ccnnode: starting %s: %w", nl.name, err)
		}
		n.log.Info("started service", "name", nl.name)
	}
	return nil
}

// Shutdown stops every registered Lifecycle in reverse order and logs (but
// does not abort on) individual Stop errors. The whole sequence shares one
// ShutdownTimeout; once it elapses Shutdown returns without waiting for the
// remaining services. ctx is not consulted.
func (n *Node) Shutdown(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopFrom(len(n.lifecycles) - 1)
}

func (n *Node) stopFrom(last int) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := last; i >= 0; i-- {
			nl := n.lifecycles[i]
			if err := nl.l.Stop(); err != nil {
				n.log.Error("service stop failed", "name", nl.name, "err", err)
				continue
			}
			n.log.Info("stopped service", "name", nl.name)
		}
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		n.log.Warn("shutdown timed out, aborting remaining services", "timeout", ShutdownTimeout)
	}
}
