package rates

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ratepulse/ratepulse/internal/reconciler"
	"github.com/ratepulse/ratepulse/internal/repositories/competitor"
	"github.com/ratepulse/ratepulse/internal/repositories/property"
	"github.com/ratepulse/ratepulse/internal/repositories/rate"
	"github.com/ratepulse/ratepulse/pkg/appcontext"
	"github.com/ratepulse/ratepulse/pkg/models"
)

// Handler serves CSV ingestion and rate queries.
type Handler struct {
	reconciler  *reconciler.Reconciler
	rates       *rate.Repository
	properties  *property.Repository
	competitors *competitor.Repository
	logger      ectologger.Logger
}

func NewHandler(
	rec *reconciler.Reconciler,
	rates *rate.Repository,
	properties *property.Repository,
	competitors *competitor.Repository,
	logger ectologger.Logger,
) *Handler {
	return &Handler{
		reconciler:  rec,
		rates:       rates,
		properties:  properties,
		competitors: competitors,
		logger:      logger,
	}
}

// Register registers rate ingestion and query routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/properties/:id/rates/csv", h.UploadPropertyCSV)
	g.POST("/competitors/:id/rates/csv", h.UploadCompetitorCSV)
	g.POST("/properties/:id/rates/refresh", h.RefreshProperty)
	g.GET("/rates", h.ListRates)
}

// UploadCSVRequest is the request body for a CSV ingest.
type UploadCSVRequest struct {
	FileName string `json:"file_name" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

// UploadPropertyCSV replaces a property's rates with an uploaded CSV
func (h *Handler) UploadPropertyCSV(c echo.Context) error {
	ctx := c.Request().Context()

	propertyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid property id")
	}

	var req UploadCSVRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file_name and content are required")
	}

	prop, err := h.properties.GetByID(ctx, appcontext.GetUserID(ctx), propertyID)
	if err != nil {
		return err
	}

	owner := models.NewPropertyOwner(prop.ID, prop.Name)
	result, err := h.reconciler.ReconcileEntity(ctx, owner, req.FileName, req.Content, reconciler.SourceUpload)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// UploadCompetitorCSV replaces a competitor's rates with an uploaded CSV
func (h *Handler) UploadCompetitorCSV(c echo.Context) error {
	ctx := c.Request().Context()

	competitorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid competitor id")
	}

	var req UploadCSVRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file_name and content are required")
	}

	comp, err := h.competitors.GetByID(ctx, appcontext.GetUserID(ctx), competitorID)
	if err != nil {
		return err
	}

	owner := models.NewCompetitorOwner(comp.ID, comp.Name)
	result, err := h.reconciler.ReconcileEntity(ctx, owner, req.FileName, req.Content, reconciler.SourceUpload)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// RefreshProperty re-ingests the latest archived CSV for a property and every
// one of its competitors.
func (h *Handler) RefreshProperty(c echo.Context) error {
	ctx := c.Request().Context()
	userID := appcontext.GetUserID(ctx)

	propertyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid property id")
	}

	prop, err := h.properties.GetByID(ctx, userID, propertyID)
	if err != nil {
		return err
	}

	comps, err := h.competitors.ListByProperty(ctx, userID, prop.ID)
	if err != nil {
		return err
	}

	batch, err := h.reconciler.RefreshAll(ctx, prop, comps)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, batch)
}

// ListRates returns the stored rates for one property or one competitor,
// optionally narrowed to a check-in date window.
func (h *Handler) ListRates(c echo.Context) error {
	ctx := c.Request().Context()
	userID := appcontext.GetUserID(ctx)

	owner, err := h.resolveOwner(c, userID)
	if err != nil {
		return err
	}

	filter := models.RateFilter{Owner: owner}
	if filter.From, err = parseDateParam(c.QueryParam("from")); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
	}
	if filter.To, err = parseDateParam(c.QueryParam("to")); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
	}

	rates, err := h.rates.ListByFilter(ctx, filter)
	if err != nil {
		return err
	}
	if rates == nil {
		rates = []models.Rate{}
	}

	return c.JSON(http.StatusOK, rates)
}

// resolveOwner validates the one-of {property_id, competitor_id} query pair
// and checks that the entity belongs to the caller.
func (h *Handler) resolveOwner(c echo.Context, userID string) (models.Owner, error) {
	ctx := c.Request().Context()
	propertyParam := c.QueryParam("property_id")
	competitorParam := c.QueryParam("competitor_id")

	switch {
	case propertyParam != "" && competitorParam != "":
		return models.Owner{}, httperror.NewHTTPError(http.StatusBadRequest, "provide either property_id or competitor_id, not both")
	case propertyParam != "":
		id, err := uuid.Parse(propertyParam)
		if err != nil {
			return models.Owner{}, httperror.NewHTTPError(http.StatusBadRequest, "invalid property_id")
		}
		prop, err := h.properties.GetByID(ctx, userID, id)
		if err != nil {
			return models.Owner{}, err
		}
		return models.NewPropertyOwner(prop.ID, prop.Name), nil
	case competitorParam != "":
		id, err := uuid.Parse(competitorParam)
		if err != nil {
			return models.Owner{}, httperror.NewHTTPError(http.StatusBadRequest, "invalid competitor_id")
		}
		comp, err := h.competitors.GetByID(ctx, userID, id)
		if err != nil {
			return models.Owner{}, err
		}
		return models.NewCompetitorOwner(comp.ID, comp.Name), nil
	default:
		return models.Owner{}, httperror.NewHTTPError(http.StatusBadRequest, "property_id or competitor_id query parameter is required")
	}
}

func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
