package rebalance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Worker drives the state machine on a fixed interval. Tasks are
// processed concurrently within a tick; a tick that starts while the
// previous one is still running is skipped, never overlapped.
type Worker struct {
	machine *Machine
	store   TaskStore
	log     *zap.Logger
	ticker  time.Duration
	busy    atomic.Bool
}

func NewWorker(machine *Machine, store TaskStore, interval time.Duration, log *zap.Logger) *Worker {
	return &Worker{
		machine: machine,
		store:   store,
		log:     log,
		ticker:  interval,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.ticker)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick reloads every task's durable row and steps each one. The
// reload is what picks up operator toggles: a row whose
// isAutoRebalancing flag was cleared simply stops appearing.
func (w *Worker) Tick(ctx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		w.log.Debug("previous tick still running, skipping")
		return
	}
	defer w.busy.Store(false)

	tasks, err := w.store.ActiveTasks(ctx)
	if err != nil {
		w.log.Warn("task reload failed", zap.Error(err))
		return
	}
	var wg sync.WaitGroup
	for i := range tasks {
		task := tasks[i]
		if !task.AutoRebalancing {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.machine.Step(ctx, &task); err != nil {
				w.machine.metrics.RebalancesFailed.Inc()
				// Leave the task at its current status; the next
				// tick retries the same step.
				w.log.Warn("rebalance step failed",
					zap.String("position_id", task.PositionID),
					zap.String("status", string(task.Status)),
					zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
