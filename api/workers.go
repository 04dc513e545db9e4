package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"synscope/config"
	"synscope/logging"
	"synscope/scanner"
)

// queueWait is how long a worker blocks on the queue before re-checking for
// shutdown.
const queueWait = time.Second

// ScanRunner executes the scan described by a task.
type ScanRunner interface {
	Run(ctx context.Context, task *ScanTask) (*scanner.ScanReport, error)
}

// SynRunner runs tasks with the SYN probe engine. The packet transport is
// opened once, by Open at startup or by the first task, and shared by every
// worker of the process.
type SynRunner struct {
	capture  string
	services *scanner.ServiceTable
	open     func(kind string) (scanner.PacketTransport, error)

	once      sync.Once
	transport scanner.PacketTransport
	openErr   error
}

// NewSynRunner creates a runner capturing replies with the given backend.
func NewSynRunner(capture string, services *scanner.ServiceTable) *SynRunner {
	return &SynRunner{capture: capture, services: services, open: scanner.OpenTransport}
}

// Run validates the task and scans it.
func (r *SynRunner) Run(ctx context.Context, task *ScanTask) (*scanner.ScanReport, error) {
	target, err := scanner.ResolveTarget(task.Target)
	if err != nil {
		return nil, err
	}
	ports := scanner.ParsePortSpec(task.Ports)
	if len(ports) == 0 {
		return nil, scanner.ErrNoPorts
	}
	timeout, err := config.TimeoutFromSeconds(task.TimeoutSeconds)
	if err != nil {
		return nil, err
	}

	if err := r.Open(); err != nil {
		return nil, err
	}

	engine := scanner.NewEngine(r.transport, r.services, timeout)
	return scanner.NewScanner(engine, task.Workers).Scan(ctx, target, ports), nil
}

// Open opens the shared transport once. Later calls return the first
// outcome, so a privilege problem reported at startup is also what every
// task fails with.
func (r *SynRunner) Open() error {
	r.once.Do(func() {
		r.transport, r.openErr = r.open(r.capture)
		if errors.Is(r.openErr, scanner.ErrPrivilege) {
			r.openErr = fmt.Errorf("%w: run the server as root or grant it CAP_NET_RAW", r.openErr)
		}
	})
	return r.openErr
}

// Close releases the shared transport, if one was opened.
func (r *SynRunner) Close() error {
	if r.transport == nil {
		return nil
	}
	return r.transport.Close()
}

// StartWorkers launches background goroutines that process scan tasks until
// ctx is cancelled. The returned WaitGroup is done once every worker exited.
func StartWorkers(ctx context.Context, store TaskStore, runner ScanRunner, numWorkers int) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerLoop(ctx, store, runner)
		}()
	}
	return &wg
}

func workerLoop(ctx context.Context, store TaskStore, runner ScanRunner) {
	logger := logging.Logger()
	for ctx.Err() == nil {
		taskID, err := store.PopFromQueue(ctx, queueWait)
		if errors.Is(err, ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("worker failed to pop task", "error", err)
			sleep(ctx, time.Second)
			continue
		}

		processTask(ctx, store, runner, taskID)
	}
}

func processTask(ctx context.Context, store TaskStore, runner ScanRunner, taskID string) {
	logger := logging.Logger()

	// The ID is off the queue now; store calls must not be cut short by shutdown.
	storeCtx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		requeueTask(storeCtx, store, taskID)
		return
	}

	task, err := store.GetTask(storeCtx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			logger.Warn("worker task disappeared", "task_id", taskID)
			return
		}
		logger.Error("worker failed to load task", "task_id", taskID, "error", err)
		return
	}

	task.Status = StatusRunning
	task.Error = ""
	task.Report = nil
	task.CompletedAt = nil
	if err := store.UpdateTask(storeCtx, task); err != nil {
		logger.Error("worker failed to mark task running", "task_id", taskID, "error", err)
		requeueTask(storeCtx, store, taskID)
		return
	}

	report, err := runner.Run(ctx, task)
	if err != nil {
		failTask(task, store, err)
		return
	}

	task.Status = StatusCompleted
	task.Report = report
	now := time.Now().UTC()
	task.CompletedAt = &now

	// The scan may have been cut short by shutdown; persist what we have.
	if err := store.UpdateTask(storeCtx, task); err != nil {
		logger.Error("worker failed to update task", "task_id", task.ID, "error", err)
		return
	}
	logger.Info("worker task completed",
		"task_id", task.ID,
		"target", task.Target,
		"open", report.Count(scanner.StateOpen),
		"cancelled", report.Cancelled,
	)
}

// requeueTask puts a popped task back so that another worker, or the next
// server process, picks it up.
func requeueTask(ctx context.Context, store TaskStore, taskID string) {
	if err := store.PushToQueue(ctx, taskID); err != nil {
		logging.Logger().Error("worker failed to requeue task", "task_id", taskID, "error", err)
		return
	}
	logging.Logger().Info("worker requeued task", "task_id", taskID)
}

func failTask(task *ScanTask, store TaskStore, err error) {
	logger := logging.Logger()
	logger.Error("worker task failed", "task_id", task.ID, "error", err)
	task.Status = StatusFailed
	task.Error = err.Error()
	task.Report = nil
	now := time.Now().UTC()
	task.CompletedAt = &now
	if updateErr := store.UpdateTask(context.Background(), task); updateErr != nil {
		logger.Error("worker failed to persist failed task", "task_id", task.ID, "error", updateErr)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
