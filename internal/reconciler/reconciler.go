// Package reconciler replaces an entity's stored rates with the contents of an
// uploaded CSV. The replace is transactional: the full-table delete for the
// owner, the bulk insert and the upload audit record commit together or not at
// all, so a failed upload never leaves an entity with partial or empty data.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/ratepulse/ratepulse/pkg/appcontext"
	"github.com/ratepulse/ratepulse/pkg/blob"
	"github.com/ratepulse/ratepulse/pkg/csvrate"
	"github.com/ratepulse/ratepulse/pkg/database"
	"github.com/ratepulse/ratepulse/pkg/ingesterr"
	"github.com/ratepulse/ratepulse/pkg/kafka"
	"github.com/ratepulse/ratepulse/pkg/metrics"
	"github.com/ratepulse/ratepulse/pkg/models"
	"github.com/ratepulse/ratepulse/pkg/tracing"
)

// Ingestion sources recorded on events and audit logs.
const (
	SourceUpload  = "csv_upload"
	SourceRefresh = "refresh"
)

// RateStore is the slice of the rate repository the reconciler needs.
type RateStore interface {
	DeleteByOwner(ctx context.Context, owner models.Owner) (int64, error)
	InsertMany(ctx context.Context, rates []models.Rate) (int, error)
}

// UploadStore is the slice of the upload repository the reconciler needs.
type UploadStore interface {
	Create(ctx context.Context, upload *models.Upload) error
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Upload, error)
	GetLatestByOwner(ctx context.Context, userID string, owner models.Owner) (*models.Upload, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

// EventPublisher emits rate lifecycle events after a replace commits. A nil
// publisher disables events.
type EventPublisher interface {
	PublishRateEvent(ctx context.Context, event *kafka.RateEvent) error
}

type txBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// Reconciler drives CSV ingestion for single entities and refresh batches.
type Reconciler struct {
	db      txBeginner
	rates   RateStore
	uploads UploadStore
	blobs   blob.Store
	events  EventPublisher
	logger  ectologger.Logger
}

func New(db txBeginner, rates RateStore, uploads UploadStore, blobs blob.Store, events EventPublisher, logger ectologger.Logger) *Reconciler {
	return &Reconciler{
		db:      db,
		rates:   rates,
		uploads: uploads,
		blobs:   blobs,
		events:  events,
		logger:  logger,
	}
}

// Result summarizes one committed replace.
type Result struct {
	Owner    models.Owner `json:"-"`
	UploadID uuid.UUID    `json:"upload_id"`
	FilePath string       `json:"file_path"`
	Deleted  int64        `json:"deleted"`
	Inserted int          `json:"inserted"`
}

// ReconcileEntity ingests one CSV for one owning entity: parse, archive the
// raw file, then transactionally replace the entity's rates and write the
// audit record. The raw file is archived before the replace so a storage
// failure aborts the ingest without touching rate data.
func (r *Reconciler) ReconcileEntity(ctx context.Context, owner models.Owner, fileName, csvText, source string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "reconciler.ReconcileEntity")
	defer span.End()

	start := time.Now()
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"owner":     owner.String(),
		"file_name": fileName,
		"source":    source,
	})

	userID := appcontext.GetUserID(ctx)
	if userID == "" {
		return nil, ingesterr.NewAuthError("no authenticated user on request")
	}

	entries, err := csvrate.Parse(csvText)
	if err != nil {
		r.observe(owner, err, start)
		if ingErr, ok := ingesterr.AsError(err); ok {
			return nil, ingErr.AddEntity(owner.Name())
		}
		return nil, err
	}
	if len(entries) == 0 {
		err := ingesterr.NewEmptyDatasetError("csv '%s' contained no usable rate rows", fileName).AddEntity(owner.Name())
		r.observe(owner, err, start)
		return nil, err
	}
	metrics.CSVRowsParsed.Add(float64(len(entries)))

	now := time.Now().UTC()
	rows, err := buildRates(owner, entries, now)
	if err != nil {
		r.observe(owner, err, start)
		return nil, err
	}

	filePath := blob.ObjectPath(userID, owner, now)
	if err := r.blobs.Put(ctx, filePath, []byte(csvText)); err != nil {
		storageErr := ingesterr.NewStorageError("failed to archive csv", err).AddEntity(owner.Name())
		r.observe(owner, storageErr, start)
		return nil, storageErr
	}

	result, err := r.replace(ctx, owner, rows, &models.Upload{
		UserID:       userID,
		PropertyID:   owner.PropertyID(),
		CompetitorID: owner.CompetitorID(),
		FileName:     fileName,
		FilePath:     filePath,
		RecordCount:  len(rows),
	})
	r.observe(owner, err, start)
	if err != nil {
		// the archived file is kept; it records what was attempted
		log.WithError(err).Error("Rate replace failed")
		return nil, err
	}

	log.WithFields(map[string]any{
		"deleted":  result.Deleted,
		"inserted": result.Inserted,
	}).Info("Replaced rates from csv")

	r.publish(ctx, kafka.NewReplaceEvent(userID, owner, result.Inserted, source))
	return result, nil
}

// replace runs the delete, insert and audit write inside one transaction.
func (r *Reconciler) replace(ctx context.Context, owner models.Owner, rows []models.Rate, upload *models.Upload) (result *Result, err error) {
	txCtx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, ingesterr.NewStoreError("failed to open transaction", err).AddEntity(owner.Name())
	}
	defer func() {
		if closeErr := database.CloseTx(txCtx, tx, err); closeErr != nil && err == nil {
			err = ingesterr.NewStoreError("failed to commit replace", closeErr).AddEntity(owner.Name())
			result = nil
		}
	}()

	deleted, err := r.rates.DeleteByOwner(txCtx, owner)
	if err != nil {
		return nil, err
	}

	inserted, err := r.rates.InsertMany(txCtx, rows)
	if err != nil {
		return nil, err
	}

	if err = r.uploads.Create(txCtx, upload); err != nil {
		return nil, err
	}

	return &Result{
		Owner:    owner,
		UploadID: upload.ID,
		FilePath: upload.FilePath,
		Deleted:  deleted,
		Inserted: inserted,
	}, nil
}

// buildRates converts parsed entries into rate rows for one owner. Check-out
// is always the night after check-in; the sheets quote per-night prices.
func buildRates(owner models.Owner, entries []csvrate.Entry, scrapedAt time.Time) ([]models.Rate, error) {
	rows := make([]models.Rate, 0, len(entries))
	for _, entry := range entries {
		checkIn, err := time.Parse("2006-01-02", entry.CheckInDate)
		if err != nil {
			return nil, ingesterr.NewFormatError("invalid normalized date %q", entry.CheckInDate).AddEntity(owner.Name())
		}

		roomType := entry.RoomType
		rows = append(rows, models.Rate{
			PropertyID:   owner.PropertyID(),
			CompetitorID: owner.CompetitorID(),
			CheckInDate:  checkIn,
			CheckOutDate: checkIn.AddDate(0, 0, 1),
			PriceAmount:  entry.PriceAmount,
			Currency:     models.DefaultCurrency,
			RoomType:     &roomType,
			Adults:       entry.Adults,
			ScrapedAt:    scrapedAt,
		})
	}
	return rows, nil
}

// BatchResult summarizes a refresh across one property and its competitors.
type BatchResult struct {
	Total     int      `json:"total"`
	Refreshed int      `json:"refreshed"`
	Inserted  int      `json:"inserted"`
	Errors    []string `json:"errors,omitempty"`
	Outcome   string   `json:"outcome"` // success, partial, no_data
}

// RefreshAll re-ingests the most recent archived CSV for a property and each
// of its competitors. Entities are independent: one failure is recorded and
// the batch moves on.
func (r *Reconciler) RefreshAll(ctx context.Context, property *models.Property, competitors []models.Competitor) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconciler.RefreshAll")
	defer span.End()

	userID := appcontext.GetUserID(ctx)
	if userID == "" {
		return nil, ingesterr.NewAuthError("no authenticated user on request")
	}

	owners := make([]models.Owner, 0, len(competitors)+1)
	owners = append(owners, models.NewPropertyOwner(property.ID, property.Name))
	for _, competitor := range competitors {
		owners = append(owners, models.NewCompetitorOwner(competitor.ID, competitor.Name))
	}

	batch := &BatchResult{Total: len(owners)}
	for _, owner := range owners {
		inserted, err := r.refreshOne(ctx, userID, owner)
		if err != nil {
			batch.Errors = append(batch.Errors, err.Error())
			continue
		}
		batch.Refreshed++
		batch.Inserted += inserted
	}

	switch {
	case batch.Refreshed == 0:
		batch.Outcome = "no_data"
	case len(batch.Errors) > 0:
		batch.Outcome = "partial"
	default:
		batch.Outcome = "success"
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"property":  property.ID,
		"total":     batch.Total,
		"refreshed": batch.Refreshed,
		"outcome":   batch.Outcome,
	}).Info("Refresh batch finished")

	return batch, nil
}

func (r *Reconciler) refreshOne(ctx context.Context, userID string, owner models.Owner) (int, error) {
	latest, err := r.uploads.GetLatestByOwner(ctx, userID, owner)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, fmt.Errorf("No CSV uploaded for %s", owner.Name())
	}

	content, err := r.blobs.Get(ctx, latest.FilePath)
	if err != nil {
		return 0, ingesterr.NewStorageError("failed to read archived csv", err).AddEntity(owner.Name())
	}

	result, err := r.ReconcileEntity(ctx, owner, latest.FileName, string(content), SourceRefresh)
	if err != nil {
		return 0, err
	}
	return result.Inserted, nil
}

// DeleteUpload removes one upload audit record and its archived file. Rate
// rows are untouched; they describe current state, not upload history.
func (r *Reconciler) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "reconciler.DeleteUpload")
	defer span.End()

	userID := appcontext.GetUserID(ctx)
	if userID == "" {
		return ingesterr.NewAuthError("no authenticated user on request")
	}

	upload, err := r.uploads.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := r.uploads.Delete(ctx, userID, id); err != nil {
		return err
	}

	if err := r.blobs.Delete(ctx, upload.FilePath); err != nil {
		// record is gone; an orphaned file is a cleanup concern, not a failure
		r.logger.WithContext(ctx).WithError(err).WithField("path", upload.FilePath).Warn("Failed to delete archived csv")
	}

	owner, err := models.OwnerFromIDs(upload.PropertyID, upload.CompetitorID)
	if err == nil {
		r.publish(ctx, &kafka.RateEvent{
			EventType: kafka.EventUploadDeleted,
			UserID:    userID,
			OwnerKind: string(owner.Kind()),
			OwnerID:   owner.ID().String(),
			Source:    SourceUpload,
		})
	}

	return nil
}

func (r *Reconciler) publish(ctx context.Context, event *kafka.RateEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishRateEvent(ctx, event); err != nil {
		// events are best effort; the replace already committed
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to publish rate event")
	}
}

func (r *Reconciler) observe(owner models.Owner, err error, start time.Time) {
	outcome := "replaced"
	if err != nil {
		outcome = "error"
		if kind := ingesterr.KindOf(err); kind != "" {
			outcome = string(kind)
		}
	}
	metrics.ReconcileRuns.WithLabelValues(string(owner.Kind()), outcome).Inc()
	metrics.ReconcileDuration.WithLabelValues(string(owner.Kind())).Observe(time.Since(start).Seconds())
}
