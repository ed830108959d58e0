package scrape

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Gobusters/ectologger"

	"github.com/ratepulse/ratepulse/pkg/httpclient"
	"github.com/ratepulse/ratepulse/pkg/ingesterr"
	"github.com/ratepulse/ratepulse/pkg/metrics"
	"github.com/ratepulse/ratepulse/pkg/tracing"
)

// TriggerRequest is the payload forwarded to the external scrape worker.
type TriggerRequest struct {
	Property    string   `json:"property"`
	Competitors []string `json:"competitors"`
	DateFrom    string   `json:"date_from"`
	DateTo      string   `json:"date_to"`
	Adults      int      `json:"adults"`
	UserID      string   `json:"user_id"`
}

// TaskInfo is one scrape unit as announced by the worker's trigger response.
type TaskInfo struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"` // property or competitor
	Name   string `json:"name"`
}

// TriggerResponse is the worker's answer to a trigger call.
type TriggerResponse struct {
	TotalTasks int        `json:"total_tasks"`
	Tasks      []TaskInfo `json:"tasks"`
}

// StatusResponse is the worker's answer to a per-task status poll.
type StatusResponse struct {
	Status   string `json:"status"`
	Progress *int   `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

// WorkerClient talks to the external scrape worker over HTTP.
type WorkerClient struct {
	http    *httpclient.Client
	baseURL string
	logger  ectologger.Logger
}

func NewWorkerClient(http *httpclient.Client, baseURL string, logger ectologger.Logger) *WorkerClient {
	return &WorkerClient{
		http:    http,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Trigger asks the worker to start scraping a property and its competitors
// over a date window. The worker answers with the task list to poll.
func (c *WorkerClient) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "scrape.WorkerClient.Trigger")
	defer span.End()

	resp, err := c.http.PostJSON(ctx, c.baseURL+"/scrape", req, nil)
	if err != nil {
		metrics.WorkerRequests.WithLabelValues("trigger", "error").Inc()
		return nil, ingesterr.NewWorkerError("scrape worker unreachable", err)
	}
	metrics.WorkerRequests.WithLabelValues("trigger", strconv.Itoa(resp.StatusCode)).Inc()

	if !resp.IsSuccess() {
		return nil, ingesterr.NewWorkerError(fmt.Sprintf("scrape worker returned status %d", resp.StatusCode), nil)
	}

	var trigger TriggerResponse
	if err := resp.DecodeJSON(&trigger); err != nil {
		return nil, ingesterr.NewWorkerError("scrape worker returned malformed response", err)
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"property": req.Property,
		"tasks":    len(trigger.Tasks),
	}).Info("Triggered scrape batch")

	return &trigger, nil
}

// Status polls the worker for one task's state.
func (c *WorkerClient) Status(ctx context.Context, taskID string) (*StatusResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "scrape.WorkerClient.Status")
	defer span.End()

	resp, err := c.http.Get(ctx, c.baseURL+"/status/"+taskID, nil)
	if err != nil {
		metrics.WorkerRequests.WithLabelValues("status", "error").Inc()
		return nil, ingesterr.NewWorkerError("scrape worker unreachable", err)
	}
	metrics.WorkerRequests.WithLabelValues("status", strconv.Itoa(resp.StatusCode)).Inc()

	if !resp.IsSuccess() {
		return nil, ingesterr.NewWorkerError(fmt.Sprintf("status poll for task %s returned %d", taskID, resp.StatusCode), nil)
	}

	var status StatusResponse
	if err := resp.DecodeJSON(&status); err != nil {
		return nil, ingesterr.NewWorkerError("scrape worker returned malformed status", err)
	}

	return &status, nil
}
