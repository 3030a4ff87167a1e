package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lazypower/aide/internal/clock"
)

// LoopStatus is the health of one periodic loop.
type LoopStatus struct {
	Running    bool          `json:"running"`
	Interval   time.Duration `json:"interval"`
	LastTick   *time.Time    `json:"last_tick,omitempty"`
	TickCount  int64         `json:"tick_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// loop runs fn on every tick of its own ticker. A tick runs to completion
// before the next is read, so ticks of one loop never overlap; ticks that
// arrive meanwhile are dropped by the ticker.
type loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	o        *Orchestrator

	mu     sync.Mutex
	status LoopStatus
}

func newLoop(o *Orchestrator, name string, interval time.Duration, fn func(ctx context.Context) error) *loop {
	return &loop{name: name, interval: interval, fn: fn, o: o, status: LoopStatus{Interval: interval}}
}

func (l *loop) run(ctx context.Context, clk clock.Clock, wg *sync.WaitGroup) {
	ticker := clk.NewTicker(l.interval)
	l.setRunning(true)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		defer l.setRunning(false)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				l.tick(ctx)
			}
		}
	}()
}

// tick runs fn once. Errors and panics are counted and logged; neither
// escapes the tick.
func (l *loop) tick(ctx context.Context) {
	err := l.safe(ctx)
	now := l.o.clk.Now()

	l.mu.Lock()
	l.status.TickCount++
	l.status.LastTick = &now
	if err != nil {
		l.status.ErrorCount++
		l.status.LastError = err.Error()
	}
	l.mu.Unlock()

	l.o.metrics.tick(ctx, l.name)
	if err != nil {
		l.o.metrics.tickError(ctx, l.name)
		l.o.logger.Error("tick failed", "loop", l.name, "err", err)
	}
}

func (l *loop) safe(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return l.fn(ctx)
}

func (l *loop) setRunning(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Running = v
}

func (l *loop) snapshot() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.status
	if s.LastTick != nil {
		t := *s.LastTick
		s.LastTick = &t
	}
	return s
}
