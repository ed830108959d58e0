package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratepulse/ratepulse/pkg/httpclient"
	"github.com/ratepulse/ratepulse/pkg/ingesterr"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testConfig() Config {
	return Config{
		PollInterval:   5 * time.Millisecond,
		MaxRounds:      50,
		WaitAttempts:   5,
		WaitInterval:   time.Millisecond,
		RetainFinished: time.Minute,
	}
}

// scriptedClient answers status polls from a per-task script keyed by call
// number, so tests can stage transitions across rounds.
type scriptedClient struct {
	mu     sync.Mutex
	calls  map[string]int
	script func(taskID string, call int) (*StatusResponse, error)
}

func newScriptedClient(script func(taskID string, call int) (*StatusResponse, error)) *scriptedClient {
	return &scriptedClient{calls: make(map[string]int), script: script}
}

func (c *scriptedClient) Status(_ context.Context, taskID string) (*StatusResponse, error) {
	c.mu.Lock()
	c.calls[taskID]++
	call := c.calls[taskID]
	c.mu.Unlock()
	return c.script(taskID, call)
}

func (c *scriptedClient) callCount(taskID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[taskID]
}

func threeTasks() []TaskInfo {
	return []TaskInfo{
		{TaskID: "a", Type: "property", Name: "Seaside Hotel"},
		{TaskID: "b", Type: "competitor", Name: "Grand Palace"},
		{TaskID: "c", Type: "competitor", Name: "Rival Inn"},
	}
}

func TestTracker_BatchCompletes(t *testing.T) {
	progress := 50
	client := newScriptedClient(func(taskID string, call int) (*StatusResponse, error) {
		switch taskID {
		case "a":
			return &StatusResponse{Status: "completed"}, nil
		case "b":
			if call == 1 {
				return &StatusResponse{Status: "processing", Progress: &progress}, nil
			}
			return &StatusResponse{Status: "failed", Message: "blocked by captcha"}, nil
		default:
			if call < 2 {
				return &StatusResponse{Status: "pending"}, nil
			}
			return &StatusResponse{Status: "completed"}, nil
		}
	})

	tracker := NewTracker(client, testConfig(), testLogger())
	id := tracker.StartBatch(context.Background(), threeTasks())

	require.Eventually(t, func() bool {
		view, ok := tracker.GetBatch(id)
		return ok && view.Outcome == OutcomeCompleted
	}, time.Second, 5*time.Millisecond)

	view, ok := tracker.GetBatch(id)
	require.True(t, ok)
	require.Len(t, view.Tasks, 3)
	assert.Equal(t, StatusCompleted, view.Tasks[0].Status)
	assert.Equal(t, StatusFailed, view.Tasks[1].Status)
	assert.Equal(t, "blocked by captcha", view.Tasks[1].Message)
	assert.Equal(t, StatusCompleted, view.Tasks[2].Status)
}

func TestTracker_TerminalTasksAreNotPolledAgain(t *testing.T) {
	client := newScriptedClient(func(taskID string, _ int) (*StatusResponse, error) {
		if taskID == "a" {
			return &StatusResponse{Status: "completed"}, nil
		}
		return &StatusResponse{Status: "pending"}, nil
	})

	cfg := testConfig()
	cfg.MaxRounds = 5
	tracker := NewTracker(client, cfg, testLogger())
	id := tracker.StartBatch(context.Background(), threeTasks())

	require.Eventually(t, func() bool {
		view, ok := tracker.GetBatch(id)
		return ok && view.Outcome == OutcomeTimedOut
	}, time.Second, 5*time.Millisecond)

	// task a went terminal on round 1 and was excluded from later rounds
	assert.Equal(t, 1, client.callCount("a"))
	assert.Equal(t, 5, client.callCount("b"))
}

func TestTracker_TimesOutWithPendingTasks(t *testing.T) {
	client := newScriptedClient(func(_ string, _ int) (*StatusResponse, error) {
		return &StatusResponse{Status: "pending"}, nil
	})

	cfg := testConfig()
	cfg.MaxRounds = 3
	tracker := NewTracker(client, cfg, testLogger())
	id := tracker.StartBatch(context.Background(), threeTasks()[:1])

	require.Eventually(t, func() bool {
		view, ok := tracker.GetBatch(id)
		return ok && view.Outcome == OutcomeTimedOut
	}, time.Second, 5*time.Millisecond)

	view, _ := tracker.GetBatch(id)
	assert.Equal(t, 3, view.Rounds)
	assert.Equal(t, StatusPending, view.Tasks[0].Status)
}

func TestTracker_StopBatch(t *testing.T) {
	client := newScriptedClient(func(_ string, _ int) (*StatusResponse, error) {
		return &StatusResponse{Status: "processing"}, nil
	})

	tracker := NewTracker(client, testConfig(), testLogger())
	id := tracker.StartBatch(context.Background(), threeTasks())

	require.True(t, tracker.StopBatch(id))
	require.Eventually(t, func() bool {
		view, ok := tracker.GetBatch(id)
		return ok && view.Outcome == OutcomeStopped
	}, time.Second, 5*time.Millisecond)

	assert.False(t, tracker.StopBatch(uuid.New()))
}

func TestTracker_FinishedBatchIsEvicted(t *testing.T) {
	client := newScriptedClient(func(_ string, _ int) (*StatusResponse, error) {
		return &StatusResponse{Status: "completed"}, nil
	})

	cfg := testConfig()
	cfg.RetainFinished = 100 * time.Millisecond
	tracker := NewTracker(client, cfg, testLogger())
	id := tracker.StartBatch(context.Background(), threeTasks()[:1])

	require.Eventually(t, func() bool {
		view, ok := tracker.GetBatch(id)
		return ok && view.Outcome == OutcomeCompleted
	}, time.Second, 5*time.Millisecond)

	// after the retention window the batch is forgotten entirely
	require.Eventually(t, func() bool {
		_, ok := tracker.GetBatch(id)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, tracker.StopBatch(id))
}

func TestTracker_FailedPollLeavesStateUnchanged(t *testing.T) {
	client := newScriptedClient(func(taskID string, call int) (*StatusResponse, error) {
		if call == 1 {
			return nil, errors.New("connection refused")
		}
		return &StatusResponse{Status: "completed"}, nil
	})

	tracker := NewTracker(client, testConfig(), testLogger())
	id := tracker.StartBatch(context.Background(), threeTasks()[:1])

	require.Eventually(t, func() bool {
		view, ok := tracker.GetBatch(id)
		return ok && view.Outcome == OutcomeCompleted
	}, time.Second, 5*time.Millisecond)

	// the failed first round did not mark the task failed
	view, _ := tracker.GetBatch(id)
	assert.Equal(t, StatusCompleted, view.Tasks[0].Status)
	assert.GreaterOrEqual(t, view.Rounds, 2)
}

func TestTracker_UnknownStatusIsIgnored(t *testing.T) {
	client := newScriptedClient(func(_ string, call int) (*StatusResponse, error) {
		if call == 1 {
			return &StatusResponse{Status: "exploded"}, nil
		}
		return &StatusResponse{Status: "completed"}, nil
	})

	tracker := NewTracker(client, testConfig(), testLogger())
	id := tracker.StartBatch(context.Background(), threeTasks()[:1])

	require.Eventually(t, func() bool {
		view, ok := tracker.GetBatch(id)
		return ok && view.Outcome == OutcomeCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestWaitForTask_ReturnsOnTerminal(t *testing.T) {
	client := newScriptedClient(func(_ string, call int) (*StatusResponse, error) {
		if call < 3 {
			return &StatusResponse{Status: "processing"}, nil
		}
		return &StatusResponse{Status: "completed"}, nil
	})

	tracker := NewTracker(client, testConfig(), testLogger())
	status, err := tracker.WaitForTask(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 3, client.callCount("a"))
}

func TestWaitForTask_BudgetExhausted(t *testing.T) {
	client := newScriptedClient(func(_ string, _ int) (*StatusResponse, error) {
		return &StatusResponse{Status: "processing"}, nil
	})

	tracker := NewTracker(client, testConfig(), testLogger())
	status, err := tracker.WaitForTask(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "processing", status.Status)
	assert.Contains(t, status.Message, "still running")
	assert.Equal(t, 5, client.callCount("a"))
}

func TestWorkerClient_Trigger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/scrape", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_tasks":2,"tasks":[{"task_id":"a","type":"property","name":"Seaside Hotel"},{"task_id":"b","type":"competitor","name":"Rival Inn"}]}`))
	}))
	defer server.Close()

	client := NewWorkerClient(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), server.URL, testLogger())
	resp, err := client.Trigger(context.Background(), TriggerRequest{Property: "Seaside Hotel", Adults: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalTasks)
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "a", resp.Tasks[0].TaskID)
}

func TestWorkerClient_StatusNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewWorkerClient(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), server.URL, testLogger())
	_, err := client.Status(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, ingesterr.IsKind(err, ingesterr.KindWorker))
}
