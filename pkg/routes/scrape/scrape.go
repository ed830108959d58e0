package scrape

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ratepulse/ratepulse/internal/repositories/competitor"
	"github.com/ratepulse/ratepulse/internal/repositories/property"
	"github.com/ratepulse/ratepulse/internal/scrape"
	"github.com/ratepulse/ratepulse/pkg/appcontext"
	"github.com/ratepulse/ratepulse/pkg/models"
)

// Handler triggers scrape batches on the external worker and exposes their
// tracked progress.
type Handler struct {
	worker      *scrape.WorkerClient
	tracker     *scrape.Tracker
	properties  *property.Repository
	competitors *competitor.Repository
	logger      ectologger.Logger
}

func NewHandler(
	worker *scrape.WorkerClient,
	tracker *scrape.Tracker,
	properties *property.Repository,
	competitors *competitor.Repository,
	logger ectologger.Logger,
) *Handler {
	return &Handler{
		worker:      worker,
		tracker:     tracker,
		properties:  properties,
		competitors: competitors,
		logger:      logger,
	}
}

// Register registers scrape trigger and progress routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/scrape", h.TriggerScrape)
	g.GET("/scrape/batches/:id", h.GetBatch)
	g.DELETE("/scrape/batches/:id", h.StopBatch)
	g.GET("/scrape/tasks/:id/wait", h.WaitForTask)
}

// TriggerRequest is the request body for starting a scrape batch.
type TriggerRequest struct {
	PropertyID uuid.UUID `json:"property_id" validate:"required"`
	DateFrom   string    `json:"date_from" validate:"required,datetime=2006-01-02"`
	DateTo     string    `json:"date_to" validate:"required,datetime=2006-01-02"`
	Adults     int       `json:"adults" validate:"omitempty,min=1,max=8"`
}

// TriggerResponse wraps the worker's answer together with the tracking handle.
type TriggerResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    TriggerPayload `json:"data"`
}

type TriggerPayload struct {
	BatchID    uuid.UUID         `json:"batch_id"`
	TotalTasks int               `json:"total_tasks"`
	Tasks      []scrape.TaskInfo `json:"tasks"`
}

// TriggerScrape forwards a scrape request for a property and its competitors
// to the external worker and starts tracking the announced tasks.
func (h *Handler) TriggerScrape(c echo.Context) error {
	ctx := c.Request().Context()
	userID := appcontext.GetUserID(ctx)

	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "property_id, date_from and date_to are required")
	}
	if req.Adults == 0 {
		req.Adults = models.DefaultAdults
	}

	prop, err := h.properties.GetByID(ctx, userID, req.PropertyID)
	if err != nil {
		return err
	}
	comps, err := h.competitors.ListByProperty(ctx, userID, prop.ID)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(comps))
	for _, comp := range comps {
		names = append(names, comp.Name)
	}

	trigger, err := h.worker.Trigger(ctx, scrape.TriggerRequest{
		Property:    prop.Name,
		Competitors: names,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		Adults:      req.Adults,
		UserID:      userID,
	})
	if err != nil {
		return err
	}

	batchID := h.tracker.StartBatch(ctx, trigger.Tasks)

	return c.JSON(http.StatusAccepted, TriggerResponse{
		Success: true,
		Message: "scrape started",
		Data: TriggerPayload{
			BatchID:    batchID,
			TotalTasks: trigger.TotalTasks,
			Tasks:      trigger.Tasks,
		},
	})
}

// GetBatch returns a snapshot of one tracked batch
func (h *Handler) GetBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid batch id")
	}

	view, ok := h.tracker.GetBatch(id)
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "batch %s not found", id)
	}

	return c.JSON(http.StatusOK, view)
}

// StopBatch cancels a tracked batch's poll loop
func (h *Handler) StopBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid batch id")
	}

	if !h.tracker.StopBatch(id) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "batch %s not found", id)
	}

	return c.NoContent(http.StatusNoContent)
}

// WaitForTask blocks for one task up to the bounded wait budget and reports
// its final (or assumed) state.
func (h *Handler) WaitForTask(c echo.Context) error {
	ctx := c.Request().Context()

	taskID := c.Param("id")
	if taskID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "task id is required")
	}

	status, err := h.tracker.WaitForTask(ctx, taskID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}
