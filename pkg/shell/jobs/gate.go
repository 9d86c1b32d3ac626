package jobs

import (
	"context"
	"sync"
)

// SignalError is the cancellation cause of a builtin task ended by a
// logical signal.
type SignalError struct {
	Signal Signal
}

func (e *SignalError) Error() string {
	switch e.Signal {
	case Interrupt:
		return "interrupted"
	case Terminate:
		return "terminated"
	case Kill:
		return "killed"
	case Hangup:
		return "hangup"
	}
	return "signal " + e.Signal.String()
}

// Status is the exit status of a task ended by the signal.
func (e *SignalError) Status() int {
	if s, ok := signalStatus[e.Signal]; ok {
		return s
	}
	return 128
}

// Gate is the cooperative control point of a builtin task. Pass blocks
// while the task is stopped and fails once the task is cancelled.
type Gate struct {
	ctx  context.Context
	mu   sync.Mutex
	cond *sync.Cond
	stop bool
}

// NewGate returns an open gate that fails once ctx is done.
func NewGate(ctx context.Context) *Gate {
	g := &Gate{ctx: ctx}
	g.cond = sync.NewCond(&g.mu)
	context.AfterFunc(ctx, g.wake)
	return g
}

func (g *Gate) wake() {
	g.mu.Lock()
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Context returns the task context.
func (g *Gate) Context() context.Context { return g.ctx }

// Pass returns nil when the task may proceed. It blocks while the task is
// stopped and returns the cancellation cause once the task is cancelled.
func (g *Gate) Pass() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.stop && g.ctx.Err() == nil {
		g.cond.Wait()
	}
	if g.ctx.Err() != nil {
		return context.Cause(g.ctx)
	}
	return nil
}

// Stopped reports whether the gate is closed.
func (g *Gate) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stop
}

func (g *Gate) set(stopped bool) {
	g.mu.Lock()
	g.stop = stopped
	g.cond.Broadcast()
	g.mu.Unlock()
}
