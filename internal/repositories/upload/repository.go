package upload

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ratepulse/ratepulse/pkg/database"
	"github.com/ratepulse/ratepulse/pkg/ingesterr"
	"github.com/ratepulse/ratepulse/pkg/models"
	"github.com/ratepulse/ratepulse/pkg/tracing"
)

var uploadColumns = []string{
	"id", "user_id", "property_id", "competitor_id", "file_name", "file_path",
	"record_count", "uploaded_at",
}

// Repository handles upload audit-record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new upload repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create writes the audit record for one ingested CSV. Joins the transaction
// carried by ctx if one is open, so the record commits with the rate replace;
// without one the insert autocommits.
func (r *Repository) Create(ctx context.Context, upload *models.Upload) error {
	ctx, span := tracing.StartSpan(ctx, "upload.Repository.Create")
	defer span.End()

	if upload.ID == uuid.Nil {
		upload.ID = uuid.New()
	}
	if upload.UploadedAt.IsZero() {
		upload.UploadedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("uploads")
	sb.Cols(uploadColumns...)
	sb.Values(
		upload.ID, upload.UserID, upload.PropertyID, upload.CompetitorID,
		upload.FileName, upload.FilePath, upload.RecordCount, upload.UploadedAt,
	)

	query, args := sb.Build()
	if _, err := r.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("file_name", upload.FileName).Error("Failed to create upload record")
		return ingesterr.NewStoreError("failed to create upload record", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":           upload.ID,
		"file_name":    upload.FileName,
		"record_count": upload.RecordCount,
	}).Info("Created upload record")

	return nil
}

// execer routes statements to the transaction carried by ctx, or to the
// pooled connection when none is open.
func (r *Repository) execer(ctx context.Context) database.Execer {
	if tx, ok := database.TxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// GetByID retrieves one upload record scoped to its owning user.
func (r *Repository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Upload, error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(uploadColumns...)
	sb.From("uploads")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("user_id", userID),
	)

	query, args := sb.Build()
	var upload models.Upload
	if err := r.db.GetContext(ctx, &upload, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "upload %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get upload")
		return nil, ingesterr.NewStoreError("failed to get upload", err)
	}

	return &upload, nil
}

// GetLatestByOwner returns the most recent upload for the owning entity, or
// nil when the entity has never had a CSV ingested.
func (r *Repository) GetLatestByOwner(ctx context.Context, userID string, owner models.Owner) (*models.Upload, error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Repository.GetLatestByOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(uploadColumns...)
	sb.From("uploads")

	where := []string{sb.Equal("user_id", userID)}
	if owner.Kind() == models.OwnerKindCompetitor {
		where = append(where, sb.Equal("competitor_id", owner.ID()))
	} else {
		where = append(where, sb.Equal("property_id", owner.ID()))
	}
	sb.Where(where...)
	sb.OrderBy("uploaded_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var upload models.Upload
	if err := r.db.GetContext(ctx, &upload, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("owner", owner.String()).Error("Failed to get latest upload")
		return nil, ingesterr.NewStoreError("failed to get latest upload", err).AddEntity(owner.String())
	}

	return &upload, nil
}

// ListRecent returns the user's upload history, newest first.
func (r *Repository) ListRecent(ctx context.Context, userID string, limit int) ([]models.Upload, error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Repository.ListRecent")
	defer span.End()

	if limit < 1 || limit > 200 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(uploadColumns...)
	sb.From("uploads")
	sb.Where(sb.Equal("user_id", userID))
	sb.OrderBy("uploaded_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var uploads []models.Upload
	if err := r.db.SelectContext(ctx, &uploads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list uploads")
		return nil, ingesterr.NewStoreError("failed to list uploads", err)
	}

	return uploads, nil
}

// Delete removes one upload audit record. The caller is responsible for
// removing the backing blob.
func (r *Repository) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "upload.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("uploads")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("user_id", userID),
	)

	query, args := sb.Build()
	result, err := r.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete upload")
		return ingesterr.NewStoreError("failed to delete upload", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "upload %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted upload record")
	return nil
}
