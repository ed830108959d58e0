// Package webhook accepts rate rows pushed by the external scrape worker.
// Delivery is at least once: the worker owns retry and dedup policy, the
// ingestor just validates and appends.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ratepulse/ratepulse/pkg/kafka"
	"github.com/ratepulse/ratepulse/pkg/metrics"
	"github.com/ratepulse/ratepulse/pkg/models"
)

// fieldAliases maps each canonical field to the names upstream payloads are
// known to use for it.
var fieldAliases = map[string][]string{
	"price_amount":   {"price_amount", "price", "amount"},
	"check_in_date":  {"check_in_date", "checkIn", "check_in"},
	"check_out_date": {"check_out_date", "checkOut", "check_out"},
}

// RateStore is the slice of the rate repository the ingestor appends through.
type RateStore interface {
	InsertMany(ctx context.Context, rates []models.Rate) (int, error)
}

// EventPublisher emits the ingest event after a batch commits. Nil disables
// events.
type EventPublisher interface {
	PublishRateEvent(ctx context.Context, event *kafka.RateEvent) error
}

// Handler ingests pushed rate batches.
type Handler struct {
	rates  RateStore
	events EventPublisher
	logger ectologger.Logger
}

func NewHandler(rates RateStore, events EventPublisher, logger ectologger.Logger) *Handler {
	return &Handler{
		rates:  rates,
		events: events,
		logger: logger,
	}
}

// Register registers the webhook ingestion route. The group must carry the
// shared-secret middleware.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/rates", h.IngestRates)
}

// IngestResponse reports how the pushed batch was applied.
type IngestResponse struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// IngestRates validates and bulk-inserts pushed rate records. Records that
// fail validation are skipped silently; a batch where everything is skipped
// still succeeds with zero inserted. A store failure fails the whole batch.
func (h *Handler) IngestRates(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	records, err := normalizeBody(body)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "body must be a record, a {data: [...]} object or an array")
	}

	now := time.Now().UTC()
	rows := make([]models.Rate, 0, len(records))
	skipped := 0
	for _, record := range records {
		row, ok := buildRate(record, now)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	metrics.WebhookRecords.WithLabelValues("skipped").Add(float64(skipped))

	inserted := 0
	if len(rows) > 0 {
		inserted, err = h.rates.InsertMany(ctx, rows)
		if err != nil {
			return err
		}
		metrics.WebhookRecords.WithLabelValues("inserted").Add(float64(inserted))
		h.publishPerOwner(c, rows)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"received": len(records),
		"inserted": inserted,
		"skipped":  skipped,
	}).Info("Ingested webhook batch")

	return c.JSON(http.StatusOK, IngestResponse{Inserted: inserted, Skipped: skipped})
}

func (h *Handler) publishPerOwner(c echo.Context, rows []models.Rate) {
	if h.events == nil {
		return
	}
	ctx := c.Request().Context()

	counts := make(map[models.Owner]int)
	for _, row := range rows {
		owner, err := models.OwnerFromIDs(row.PropertyID, row.CompetitorID)
		if err != nil {
			continue
		}
		counts[owner]++
	}
	for owner, count := range counts {
		if err := h.events.PublishRateEvent(ctx, kafka.NewIngestEvent(owner, count)); err != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("Failed to publish ingest event")
		}
	}
}

// normalizeBody accepts a single record object, an object wrapping a data
// array, or a bare array, and returns a flat record list.
func normalizeBody(body []byte) ([]map[string]any, error) {
	var asList []map[string]any
	if err := json.Unmarshal(body, &asList); err == nil {
		return asList, nil
	}

	var asObject map[string]any
	if err := json.Unmarshal(body, &asObject); err != nil {
		return nil, err
	}

	if data, ok := asObject["data"]; ok {
		items, ok := data.([]any)
		if !ok {
			return nil, fmt.Errorf("data field is not an array")
		}
		records := make([]map[string]any, 0, len(items))
		for _, item := range items {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			records = append(records, record)
		}
		return records, nil
	}

	return []map[string]any{asObject}, nil
}

// buildRate validates one pushed record. A record without a positive price,
// either date, or exactly one owning id is rejected.
func buildRate(record map[string]any, now time.Time) (models.Rate, bool) {
	price, ok := aliasedNumber(record, "price_amount")
	if !ok || price <= 0 {
		return models.Rate{}, false
	}

	checkIn, ok := aliasedDate(record, "check_in_date")
	if !ok {
		return models.Rate{}, false
	}
	checkOut, ok := aliasedDate(record, "check_out_date")
	if !ok || !checkOut.After(checkIn) {
		return models.Rate{}, false
	}

	propertyID := uuidField(record, "property_id")
	competitorID := uuidField(record, "competitor_id")
	if _, err := models.OwnerFromIDs(propertyID, competitorID); err != nil {
		return models.Rate{}, false
	}

	currency := models.DefaultCurrency
	if raw, ok := record["currency"].(string); ok && len(raw) == 3 {
		currency = raw
	}

	adults := models.DefaultAdults
	if raw, ok := numberValue(record["adults"]); ok && raw >= 1 {
		adults = int(raw)
	}

	var roomType *string
	if raw, ok := record["room_type"].(string); ok && raw != "" {
		roomType = &raw
	}

	return models.Rate{
		PropertyID:   propertyID,
		CompetitorID: competitorID,
		CheckInDate:  checkIn,
		CheckOutDate: checkOut,
		PriceAmount:  price,
		Currency:     currency,
		RoomType:     roomType,
		Adults:       adults,
		ScrapedAt:    now,
	}, true
}

func aliasedNumber(record map[string]any, canonical string) (float64, bool) {
	for _, alias := range fieldAliases[canonical] {
		if value, present := record[alias]; present {
			return numberValue(value)
		}
	}
	return 0, false
}

func aliasedDate(record map[string]any, canonical string) (time.Time, bool) {
	for _, alias := range fieldAliases[canonical] {
		raw, ok := record[alias].(string)
		if !ok || raw == "" {
			continue
		}
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func numberValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func uuidField(record map[string]any, key string) *uuid.UUID {
	raw, ok := record[key].(string)
	if !ok {
		return nil
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &parsed
}
