package uploads

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ratepulse/ratepulse/internal/reconciler"
	"github.com/ratepulse/ratepulse/internal/repositories/upload"
	"github.com/ratepulse/ratepulse/pkg/appcontext"
	"github.com/ratepulse/ratepulse/pkg/models"
)

// Handler serves the upload history.
type Handler struct {
	uploads    *upload.Repository
	reconciler *reconciler.Reconciler
	logger     ectologger.Logger
}

func NewHandler(uploads *upload.Repository, rec *reconciler.Reconciler, logger ectologger.Logger) *Handler {
	return &Handler{
		uploads:    uploads,
		reconciler: rec,
		logger:     logger,
	}
}

// Register registers upload history routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/uploads", h.ListUploads)
	g.GET("/uploads/:id", h.GetUpload)
	g.DELETE("/uploads/:id", h.DeleteUpload)
}

// ListUploads returns the caller's upload history, newest first
func (h *Handler) ListUploads(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	uploads, err := h.uploads.ListRecent(ctx, appcontext.GetUserID(ctx), limit)
	if err != nil {
		return err
	}
	if uploads == nil {
		uploads = []models.Upload{}
	}

	return c.JSON(http.StatusOK, uploads)
}

// GetUpload returns one upload audit record
func (h *Handler) GetUpload(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid upload id")
	}

	record, err := h.uploads.GetByID(ctx, appcontext.GetUserID(ctx), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// DeleteUpload removes an upload audit record and its archived file
func (h *Handler) DeleteUpload(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid upload id")
	}

	if err := h.reconciler.DeleteUpload(ctx, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
