// Package coordinator is the Task Coordinator: it owns the
// TaskRecord state machine, serializes execution per manager, and bounds
// total concurrency across managers. It knows nothing about what a task
// does — callers supply a Work closure and get back a queued TaskRecord.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/pkg/logger"
	"github.com/jasoncavinder/helm/internal/pkg/metrics"
	"github.com/jasoncavinder/helm/internal/repository"
)

// Work performs one task's side effects. It must respect ctx cancellation —
// adapters wired through internal/procrunner already do, via SIGTERM/SIGKILL
// escalation on the underlying subprocess.
type Work func(ctx context.Context) error

const defaultMaxConcurrent = 4

// persistAttempts and persistBackoff bound the retry loop around task
// status writes. A transient SQLITE_BUSY must not strand a task in a
// non-terminal state.
const (
	persistAttempts = 3
	persistBackoff  = 50 * time.Millisecond
)

// Coordinator dispatches Work under a per-manager lane (so two tasks for the
// same manager never run concurrently — shells out to the same CLI, which
// is frequently not safe for concurrent invocation, e.g. Homebrew's cellar
// lock) and a process-wide worker budget.
type Coordinator struct {
	store   *repository.Store
	logger  *slog.Logger
	sem     chan struct{}
	lanes   sync.Map // managerID -> *sync.Mutex
	cancels sync.Map // taskID -> context.CancelFunc

	obsMu    sync.RWMutex
	observer func(models.TaskRecord)
}

// SetObserver registers a callback invoked after every task state
// transition (queued, running, terminal) with the record's current state.
// Used to drive the websocket push side of task status without the
// coordinator knowing websocket exists.
func (c *Coordinator) SetObserver(fn func(models.TaskRecord)) {
	c.obsMu.Lock()
	c.observer = fn
	c.obsMu.Unlock()
}

func (c *Coordinator) notify(task models.TaskRecord) {
	c.obsMu.RLock()
	fn := c.observer
	c.obsMu.RUnlock()
	if fn != nil {
		fn(task)
	}
}

func New(store *repository.Store, logger *slog.Logger, maxConcurrent int) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Coordinator{
		store:  store,
		logger: logger,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

func (c *Coordinator) laneFor(managerID string) *sync.Mutex {
	v, _ := c.lanes.LoadOrStore(managerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Submit creates a Queued TaskRecord and schedules work to run asynchronously.
// It returns as soon as the record is persisted; callers poll GetTask/ListTasks
// or read task_logs for progress.
func (c *Coordinator) Submit(managerID string, taskType models.TaskType, labelKey string, labelArgs map[string]string, work Work) (*models.TaskRecord, error) {
	ctx := context.Background()
	task := &models.TaskRecord{
		ManagerID: managerID,
		TaskType:  taskType,
		Status:    models.StatusQueued,
		LabelKey:  labelKey,
		LabelArgs: labelArgs,
	}
	if task.LabelArgs == nil {
		task.LabelArgs = map[string]string{}
	}
	if err := c.store.CreateTask(ctx, task); err != nil {
		return nil, errs.Wrap(models.ErrStorageFailure, managerID, taskType, "submit_task", err)
	}
	metrics.TaskQueueDepth.WithLabelValues(managerID).Inc()

	runCtx, cancel := context.WithCancel(logger.WithTaskID(context.Background(), task.ID))
	c.cancels.Store(task.ID, cancel)
	c.notify(*task)
	go c.run(runCtx, task, work)
	return task, nil
}

// Cancel requests cancellation of a task by id. Returns false if the task id
// is unknown to the coordinator (already terminal, or never existed).
func (c *Coordinator) Cancel(taskID uint64) bool {
	v, ok := c.cancels.Load(taskID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

func (c *Coordinator) run(ctx context.Context, task *models.TaskRecord, work Work) {
	defer c.cancels.Delete(task.ID)

	select {
	case <-ctx.Done():
		c.terminal(task, models.StatusQueued, models.StatusCancelled, nil)
		return
	case c.sem <- struct{}{}:
	}
	defer func() { <-c.sem }()

	lane := c.laneFor(task.ManagerID)
	lane.Lock()
	defer lane.Unlock()

	select {
	case <-ctx.Done():
		c.terminal(task, models.StatusQueued, models.StatusCancelled, nil)
		return
	default:
	}

	if err := c.persistStatus(task.ID, models.StatusRunning, nil); err != nil {
		// The task cannot truthfully claim to be Running. The only legal
		// edge out of Queued besides Running is Cancelled; take it, tagged
		// with the storage failure, so no observer ever sees the task
		// stuck in Queued.
		kind := models.ErrStorageFailure
		c.terminal(task, models.StatusQueued, models.StatusCancelled, &kind)
		return
	}
	running := *task
	running.Status = models.StatusRunning
	c.notify(running)

	start := time.Now()
	err := work(ctx)
	metrics.TaskExecDurationSeconds.WithLabelValues(task.ManagerID, string(task.TaskType)).Observe(time.Since(start).Seconds())

	// Cancellation wins over whatever the work closure reported: a
	// cancelled task never reports Completed, and its real error is the
	// cancellation itself.
	if ctx.Err() != nil || errs.KindOf(err) == models.ErrCancelled {
		c.terminal(task, models.StatusRunning, models.StatusCancelled, nil)
		return
	}
	if err != nil {
		kind := errs.KindOf(err)
		c.logger.Warn("task failed", "task_id", task.ID, "manager_id", task.ManagerID, "error", err)
		c.terminal(task, models.StatusRunning, models.StatusFailed, &kind)
		return
	}
	c.terminal(task, models.StatusRunning, models.StatusCompleted, nil)
}

// persistStatus writes a status transition with bounded retry, shielding
// tasks from transient storage hiccups.
func (c *Coordinator) persistStatus(taskID uint64, status models.TaskStatus, kind *models.ErrorKind) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(persistBackoff << (attempt - 1))
		}
		if err = c.store.UpdateTaskStatus(context.Background(), taskID, status, kind); err == nil {
			return nil
		}
	}
	c.logger.Error("task status persist failed", "task_id", taskID, "status", status, "error", err)
	return err
}

func (c *Coordinator) terminal(task *models.TaskRecord, from, to models.TaskStatus, kind *models.ErrorKind) {
	if !models.CanTransition(from, to) {
		c.logger.Error("invalid task transition", "task_id", task.ID, "from", from, "to", to)
		return
	}
	if err := c.persistStatus(task.ID, to, kind); err != nil {
		// Retries exhausted: the terminal payload could not be recorded, so
		// the task is declared Failed with a storage attribution. Observers
		// are never left watching a phantom Running task; the stale row
		// itself is repaired by ReconcileInterruptedTasks on next startup.
		storage := models.ErrStorageFailure
		to = models.StatusFailed
		kind = &storage
	}
	metrics.TaskQueueDepth.WithLabelValues(task.ManagerID).Dec()
	metrics.TaskExecTotal.WithLabelValues(task.ManagerID, string(task.TaskType), taskOutcome(to)).Inc()
	final := *task
	final.Status = to
	final.ErrorKind = kind
	c.notify(final)
}

func taskOutcome(s models.TaskStatus) string {
	switch s {
	case models.StatusCompleted:
		return "completed"
	case models.StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Log appends a structured line to a task's log stream.
func (c *Coordinator) Log(ctx context.Context, taskID uint64, level, message string) error {
	return c.store.AppendTaskLog(ctx, models.LogRecord{TaskID: taskID, Level: level, Message: message})
}
