package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratepulse/ratepulse/internal/reconciler"
	"github.com/ratepulse/ratepulse/internal/repositories/competitor"
	"github.com/ratepulse/ratepulse/internal/repositories/property"
	"github.com/ratepulse/ratepulse/internal/repositories/rate"
	"github.com/ratepulse/ratepulse/internal/repositories/upload"
	"github.com/ratepulse/ratepulse/pkg/blob"
	"github.com/ratepulse/ratepulse/pkg/database"
	"github.com/ratepulse/ratepulse/pkg/middleware"
	"github.com/ratepulse/ratepulse/pkg/models"
	ratesroutes "github.com/ratepulse/ratepulse/pkg/routes/rates"
	uploadsroutes "github.com/ratepulse/ratepulse/pkg/routes/uploads"
)

const testUserID = "integration-user"

// Harness wires the real repositories, reconciler and routes against a live
// postgres instance. Tests are skipped unless TEST_DB_HOST is set.
type Harness struct {
	t  *testing.T
	e  *echo.Echo
	db database.DB
}

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

func NewHarness(t *testing.T) *Harness {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set; skipping integration test")
	}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	db, err := database.Connect(context.Background(), database.ConnectConfig{
		Driver:          "postgres",
		Host:            host,
		Port:            envOr("TEST_DB_PORT", "5432"),
		UserName:        envOr("TEST_DB_USER", "postgres"),
		Password:        envOr("TEST_DB_PASSWORD", "postgres"),
		Name:            envOr("TEST_DB_NAME", "ratepulse_test"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	blobs, err := blob.NewFSStore(t.TempDir(), logger)
	require.NoError(t, err)

	rateRepo := rate.NewRepository(db, logger)
	uploadRepo := upload.NewRepository(db, logger)
	propertyRepo := property.NewRepository(db, logger)
	competitorRepo := competitor.NewRepository(db, logger)
	rec := reconciler.New(db, rateRepo, uploadRepo, blobs, nil, logger)

	e := echo.New()
	e.Validator = &requestValidator{validator: validator.New()}
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())

	api := e.Group("/api/v1")
	ratesroutes.NewHandler(rec, rateRepo, propertyRepo, competitorRepo, logger).Register(api)
	uploadsroutes.NewHandler(uploadRepo, rec, logger).Register(api)

	return &Harness{t: t, e: e, db: db}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (h *Harness) Request(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.HeaderUserID, testUserID)
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

// SeedProperty inserts a property owned by the test user.
func (h *Harness) SeedProperty(name string) uuid.UUID {
	id := uuid.New()
	_, err := h.db.ExecContext(context.Background(),
		`INSERT INTO properties (id, user_id, name, currency) VALUES ($1, $2, $3, 'THB')`,
		id, testUserID, name)
	require.NoError(h.t, err)
	h.t.Cleanup(func() {
		_, _ = h.db.ExecContext(context.Background(), `DELETE FROM uploads WHERE property_id = $1`, id)
		_, _ = h.db.ExecContext(context.Background(), `DELETE FROM rates WHERE property_id = $1`, id)
		_, _ = h.db.ExecContext(context.Background(), `DELETE FROM properties WHERE id = $1`, id)
	})
	return id
}

func TestPipeline_UploadReplaceAndQuery(t *testing.T) {
	h := NewHarness(t)
	propertyID := h.SeedProperty("Seaside Hotel")

	csv := "Date,Room_A1,Price_A1,Room_A2,Price_A2\n" +
		"2025-03-01,Standard,1200,Double,1800\n" +
		"2025-03-02,Standard,1250,Double,1850\n"

	// first upload
	rec := h.Request(http.MethodPost, fmt.Sprintf("/api/v1/properties/%s/rates/csv", propertyID),
		map[string]string{"file_name": "march.csv", "content": csv})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result reconciler.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 4, result.Inserted)
	assert.Equal(t, int64(0), result.Deleted)

	// the stored rows are queryable
	rec = h.Request(http.MethodGet, "/api/v1/rates?property_id="+propertyID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rates []models.Rate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	assert.Len(t, rates, 4)

	// a re-upload replaces, never merges
	smaller := "Date,Room_A1,Price_A1\n2025-04-01,Standard,1300\n"
	rec = h.Request(http.MethodPost, fmt.Sprintf("/api/v1/properties/%s/rates/csv", propertyID),
		map[string]string{"file_name": "april.csv", "content": smaller})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, int64(4), result.Deleted)

	rec = h.Request(http.MethodGet, "/api/v1/rates?property_id="+propertyID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	require.Len(t, rates, 1)
	assert.Equal(t, "2025-04-01", rates[0].CheckInDate.Format("2006-01-02"))

	// upload history has both audit records, newest first
	rec = h.Request(http.MethodGet, "/api/v1/uploads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var uploads []models.Upload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploads))
	require.GreaterOrEqual(t, len(uploads), 2)
	assert.Equal(t, "april.csv", uploads[0].FileName)
}

func TestPipeline_BadCSVLeavesDataUntouched(t *testing.T) {
	h := NewHarness(t)
	propertyID := h.SeedProperty("Seaside Hotel")

	good := "Date,Room_A1,Price_A1\n2025-03-01,Standard,1200\n"
	rec := h.Request(http.MethodPost, fmt.Sprintf("/api/v1/properties/%s/rates/csv", propertyID),
		map[string]string{"file_name": "good.csv", "content": good})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// no Date column: 422 and the previous rows survive
	bad := "Day,Room_A1,Price_A1\n2025-03-01,Standard,1200\n"
	rec = h.Request(http.MethodPost, fmt.Sprintf("/api/v1/properties/%s/rates/csv", propertyID),
		map[string]string{"file_name": "bad.csv", "content": bad})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.Request(http.MethodGet, "/api/v1/rates?property_id="+propertyID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rates []models.Rate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	assert.Len(t, rates, 1)
}

func TestPipeline_DeleteUpload(t *testing.T) {
	h := NewHarness(t)
	propertyID := h.SeedProperty("Seaside Hotel")

	csv := "Date,Room_A1,Price_A1\n2025-03-01,Standard,1200\n"
	rec := h.Request(http.MethodPost, fmt.Sprintf("/api/v1/properties/%s/rates/csv", propertyID),
		map[string]string{"file_name": "once.csv", "content": csv})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result reconciler.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = h.Request(http.MethodDelete, "/api/v1/uploads/"+result.UploadID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// the audit record is gone; rate rows stay
	rec = h.Request(http.MethodGet, "/api/v1/uploads/"+result.UploadID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.Request(http.MethodGet, "/api/v1/rates?property_id="+propertyID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rates []models.Rate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	assert.Len(t, rates, 1)
}
