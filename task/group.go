// Package task provides a small named-goroutine lifecycle group, modeled
// on the teacher's own task.Group (referenced, not included, in the
// retrieved pack's consumer/service.go as tasks.Queue/tasks.Context). Each
// binary's long-running concerns — an accept loop, a stdin command reader,
// the robot's mesh and forwarder loops — are queued onto one Group so a
// single failure cancels every sibling and the process exits promptly.
package task

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Group runs a fixed set of named goroutines and cancels its Context the
// moment any one of them returns, so siblings can observe that and wind
// down. The first non-nil error is retained and returned from Wait.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	firstErr error
}

// NewGroup constructs a Group whose Context is derived from parent.
func NewGroup(parent context.Context) *Group {
	var ctx, cancel = context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context is cancelled as soon as any queued task returns, nil or not.
func (g *Group) Context() context.Context { return g.ctx }

// Queue starts fn in its own goroutine under the given name. On return, the
// Group's Context is cancelled so other tasks can begin shutting down.
func (g *Group) Queue(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.cancel()

		var err = fn()
		if err != nil {
			log.WithError(err).WithField("task", name).Error("task exited with error")
		} else {
			log.WithField("task", name).Info("task exited")
		}

		g.mu.Lock()
		if g.firstErr == nil && err != nil {
			g.firstErr = errors.Wrapf(err, "task %q", name)
		}
		g.mu.Unlock()
	}()
}

// Wait blocks until every queued task has returned, then returns the first
// non-nil error any of them produced.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}
