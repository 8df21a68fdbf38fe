// Package worker hosts the long-running loops of the orchestrator: the agent that pulls run
// tasks from the queue and the periodic loops that drive the watchdog and the scheduler.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/juju/clock"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID            string
	Concurrency   int
	PollInterval  time.Duration
	MaxBackoff    time.Duration // cap of the backoff while the queue is empty
	LeaseDuration time.Duration // how long a dequeued task stays hidden from other agents
}

// Agent runs the pull loop that hands queued runs to the executor.
type Agent struct {
	queue    portsrepo.RunQueue
	executor portssvc.RunExecutorSvc
	clock    clock.Clock
	config   AgentConfig
	done     chan struct{}
}

// NewAgent creates a worker agent.
func NewAgent(q portsrepo.RunQueue, executor portssvc.RunExecutorSvc, clk clock.Clock, config AgentConfig) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxBackoff < config.PollInterval {
		config.MaxBackoff = config.PollInterval
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = 2 * time.Minute
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Agent{
		queue:    q,
		executor: executor,
		clock:    clk,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Run starts the pull loop and blocks until ctx is cancelled. It then stops dequeuing and
// waits for in-flight runs to finish.
func (a *Agent) Run(ctx context.Context) error {
	logger := middleware.GetLoggerFromCtx(ctx).With(slog.String("component", "worker_agent"), slog.String("worker_id", a.config.ID))
	ctx = middleware.WithLogger(ctx, logger)
	logger.Info("Worker agent starting", slog.Int("concurrency", a.config.Concurrency))

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	pollNow := make(chan struct{}, 1)
	backoff := a.config.PollInterval
	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker agent draining in-flight runs")
			wg.Wait()
			close(a.done)
			return ctx.Err()
		case <-a.clock.After(backoff):
			triggerPoll()
		case <-pollNow:
			available := a.config.Concurrency - len(sem)
			if available <= 0 {
				continue
			}
			tasks, err := a.queue.Dequeue(ctx, available, a.config.LeaseDuration)
			if err != nil {
				logger.Error("Failed to dequeue run tasks", slog.String("error", err.Error()))
				continue
			}
			if len(tasks) == 0 {
				backoff = min(backoff*2, a.config.MaxBackoff)
				continue
			}
			backoff = a.config.PollInterval
			logger.Debug("Claimed run tasks", slog.Int("count", len(tasks)))

			for _, task := range tasks {
				sem <- struct{}{}
				wg.Add(1)
				go func(task domain.RunTask) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.process(ctx, task)
				}(task)
			}
			// A full batch may have left more work queued; a short one drained the queue.
			if len(tasks) == available {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// process executes one task. A task that fails here stays in the queue and is delivered
// again once its lease runs out.
func (a *Agent) process(ctx context.Context, task domain.RunTask) {
	logger := middleware.GetLoggerFromCtx(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Run task panicked", slog.String("run_id", task.RunID), slog.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := a.executor.ExecuteTask(ctx, task, a.config.ID); err != nil {
		logger.Error("Run task failed, leaving it for redelivery",
			slog.String("run_id", task.RunID),
			slog.Int("attempt", task.Attempt),
			slog.String("error", err.Error()))
	}
}
