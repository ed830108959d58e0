// Package scrape triggers asynchronous scrapes on an external worker and
// tracks their progress by polling the worker's status endpoint. Task state is
// held in memory only; a restart forgets in-flight batches and the worker
// pushes results through the webhook regardless.
package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/ratepulse/ratepulse/pkg/metrics"
	"github.com/ratepulse/ratepulse/pkg/tracing"
)

// TaskStatus is the per-task state machine:
// pending -> processing -> {completed | failed}. Terminal states never change.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// parseStatus maps a worker-reported status string onto the state machine.
// Unknown strings are ignored so a confused worker cannot corrupt local state.
func parseStatus(raw string) (TaskStatus, bool) {
	switch TaskStatus(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return TaskStatus(raw), true
	}
	return "", false
}

// Task is the tracked state of one scrape unit.
type Task struct {
	TaskID   string     `json:"task_id"`
	Type     string     `json:"type"`
	Name     string     `json:"name"`
	Status   TaskStatus `json:"status"`
	Progress *int       `json:"progress,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// BatchOutcome is the terminal result of a batch's poll loop.
type BatchOutcome string

const (
	OutcomeRunning   BatchOutcome = "running"
	OutcomeCompleted BatchOutcome = "completed" // every task reached a terminal state
	OutcomeTimedOut  BatchOutcome = "timed_out" // max rounds exhausted with tasks still pending
	OutcomeStopped   BatchOutcome = "stopped"   // explicitly cancelled
)

// BatchView is a point-in-time snapshot of a batch, safe to serialize.
type BatchView struct {
	ID      uuid.UUID    `json:"id"`
	Outcome BatchOutcome `json:"outcome"`
	Rounds  int          `json:"rounds"`
	Tasks   []Task       `json:"tasks"`
}

type batch struct {
	id      uuid.UUID
	tasks   map[string]*Task
	order   []string
	outcome BatchOutcome
	rounds  int

	stopCh   chan struct{}
	stoppedC chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

// StatusClient is the slice of the worker client the tracker polls with.
type StatusClient interface {
	Status(ctx context.Context, taskID string) (*StatusResponse, error)
}

const (
	// DefaultPollInterval is the delay between status poll rounds
	DefaultPollInterval = 3 * time.Second

	// DefaultMaxRounds bounds the poll loop; with the default interval a
	// batch is abandoned as timed out after five minutes
	DefaultMaxRounds = 100

	// DefaultWaitAttempts bounds the single-task wait flow
	DefaultWaitAttempts = 30

	// DefaultWaitInterval is the delay between single-task wait attempts
	DefaultWaitInterval = time.Second

	// DefaultRetainFinished is how long a finished batch stays queryable
	// before it is evicted from the registry
	DefaultRetainFinished = 15 * time.Minute
)

// Config holds tracker timing configuration.
type Config struct {
	PollInterval   time.Duration
	MaxRounds      int
	WaitAttempts   int
	WaitInterval   time.Duration
	RetainFinished time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		MaxRounds:      DefaultMaxRounds,
		WaitAttempts:   DefaultWaitAttempts,
		WaitInterval:   DefaultWaitInterval,
		RetainFinished: DefaultRetainFinished,
	}
}

// Tracker owns the in-memory batch registry and the per-batch poll loops.
type Tracker struct {
	client StatusClient
	config Config
	logger ectologger.Logger

	mu      sync.RWMutex
	batches map[uuid.UUID]*batch
}

func NewTracker(client StatusClient, config Config, logger ectologger.Logger) *Tracker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = DefaultMaxRounds
	}
	if config.WaitAttempts <= 0 {
		config.WaitAttempts = DefaultWaitAttempts
	}
	if config.WaitInterval <= 0 {
		config.WaitInterval = DefaultWaitInterval
	}
	if config.RetainFinished <= 0 {
		config.RetainFinished = DefaultRetainFinished
	}

	return &Tracker{
		client:  client,
		config:  config,
		logger:  logger,
		batches: make(map[uuid.UUID]*batch),
	}
}

// StartBatch registers the tasks announced by a trigger response and starts
// polling them in the background. The returned id is the handle for status
// queries and cancellation.
func (t *Tracker) StartBatch(ctx context.Context, tasks []TaskInfo) uuid.UUID {
	b := &batch{
		id:       uuid.New(),
		tasks:    make(map[string]*Task, len(tasks)),
		outcome:  OutcomeRunning,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
	for _, info := range tasks {
		b.tasks[info.TaskID] = &Task{
			TaskID: info.TaskID,
			Type:   info.Type,
			Name:   info.Name,
			Status: StatusPending,
		}
		b.order = append(b.order, info.TaskID)
	}

	t.mu.Lock()
	t.batches[b.id] = b
	t.mu.Unlock()
	metrics.ScrapeTasksTracked.Add(float64(len(tasks)))

	// polling outlives the request that triggered the batch
	go t.pollLoop(context.WithoutCancel(ctx), b)

	return b.id
}

// GetBatch returns a snapshot of one batch, or false if the id is unknown.
func (t *Tracker) GetBatch(id uuid.UUID) (BatchView, bool) {
	t.mu.RLock()
	b, ok := t.batches[id]
	t.mu.RUnlock()
	if !ok {
		return BatchView{}, false
	}
	return b.snapshot(), true
}

// StopBatch cancels a batch's poll loop. Already-terminal batches are
// unaffected. Returns false if the id is unknown.
func (t *Tracker) StopBatch(id uuid.UUID) bool {
	t.mu.RLock()
	b, ok := t.batches[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	b.stop()
	return true
}

// pollLoop drives one batch to a terminal outcome. Rounds are strictly
// sequential; the polls within a round run in parallel.
func (t *Tracker) pollLoop(ctx context.Context, b *batch) {
	defer close(b.stoppedC)

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		select {
		case <-b.stopCh:
			t.finish(ctx, b, OutcomeStopped)
			return
		case <-ticker.C:
		}

		remaining := b.nonTerminal()
		if len(remaining) == 0 {
			t.finish(ctx, b, OutcomeCompleted)
			return
		}

		t.pollRound(ctx, b, remaining)
		b.mu.Lock()
		b.rounds = round
		b.mu.Unlock()

		if len(b.nonTerminal()) == 0 {
			t.finish(ctx, b, OutcomeCompleted)
			return
		}
		if round >= t.config.MaxRounds {
			t.finish(ctx, b, OutcomeTimedOut)
			return
		}
	}
}

// pollRound queries the worker for every still-running task in parallel and
// merges the answers. A failed poll leaves that task's last-known state
// untouched for this round.
func (t *Tracker) pollRound(ctx context.Context, b *batch, taskIDs []string) {
	ctx, span := tracing.StartSpan(ctx, "scrape.Tracker.pollRound")
	defer span.End()

	degraded := false
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, taskID := range taskIDs {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			status, err := t.client.Status(ctx, taskID)
			if err != nil {
				t.logger.WithContext(ctx).WithError(err).WithField("task_id", taskID).Debug("Status poll failed")
				mu.Lock()
				degraded = true
				mu.Unlock()
				return
			}
			b.merge(taskID, status)
		}(taskID)
	}
	wg.Wait()

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	metrics.ScrapePollRounds.WithLabelValues(outcome).Inc()
}

func (t *Tracker) finish(ctx context.Context, b *batch, outcome BatchOutcome) {
	b.mu.Lock()
	b.outcome = outcome
	taskCount := len(b.tasks)
	b.mu.Unlock()

	metrics.ScrapeTasksTracked.Sub(float64(taskCount))
	t.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id": b.id,
		"outcome":  string(outcome),
		"rounds":   b.rounds,
	}).Info("Scrape batch finished")

	// the snapshot stays queryable for a grace period, then the batch is
	// dropped so the registry does not grow for the life of the process
	time.AfterFunc(t.config.RetainFinished, func() { t.remove(b.id) })
}

func (t *Tracker) remove(id uuid.UUID) {
	t.mu.Lock()
	delete(t.batches, id)
	t.mu.Unlock()
}

// WaitForTask polls one task until it reaches a terminal state, up to a
// bounded number of attempts. When the budget runs out the task is reported
// as still running rather than failed; the worker may well finish later and
// deliver through the webhook.
func (t *Tracker) WaitForTask(ctx context.Context, taskID string) (*StatusResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "scrape.Tracker.WaitForTask")
	defer span.End()

	var last *StatusResponse
	for attempt := 0; attempt < t.config.WaitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.config.WaitInterval):
			}
		}

		status, err := t.client.Status(ctx, taskID)
		if err != nil {
			continue
		}
		last = status
		if s, ok := parseStatus(status.Status); ok && s.IsTerminal() {
			return status, nil
		}
	}

	if last == nil {
		last = &StatusResponse{Status: string(StatusPending)}
	}
	last.Message = "scrape is taking longer than expected and is likely still running"
	return last, nil
}

func (b *batch) nonTerminal() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []string
	for _, id := range b.order {
		if !b.tasks[id].Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// merge folds a poll answer into local task state. Terminal tasks are frozen;
// unknown status strings are dropped.
func (b *batch) merge(taskID string, status *StatusResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		return
	}

	if next, ok := parseStatus(status.Status); ok {
		task.Status = next
	}
	if status.Progress != nil {
		task.Progress = status.Progress
	}
	if status.Message != "" {
		task.Message = status.Message
	}
}

func (b *batch) snapshot() BatchView {
	b.mu.RLock()
	defer b.mu.RUnlock()

	view := BatchView{
		ID:      b.id,
		Outcome: b.outcome,
		Rounds:  b.rounds,
		Tasks:   make([]Task, 0, len(b.order)),
	}
	for _, id := range b.order {
		view.Tasks = append(view.Tasks, *b.tasks[id])
	}
	return view
}

func (b *batch) stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}
