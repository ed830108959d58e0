package property

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ratepulse/ratepulse/pkg/database"
	"github.com/ratepulse/ratepulse/pkg/ingesterr"
	"github.com/ratepulse/ratepulse/pkg/models"
	"github.com/ratepulse/ratepulse/pkg/tracing"
)

var propertyColumns = []string{
	"id", "user_id", "name", "location", "currency", "created_at", "updated_at", "deleted_at",
}

// Repository handles property lookups for ownership checks and batch refresh.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new property repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a property scoped to its owning user.
func (r *Repository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Property, error) {
	ctx, span := tracing.StartSpan(ctx, "property.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(propertyColumns...)
	sb.From("properties")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("user_id", userID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var property models.Property
	if err := r.db.GetContext(ctx, &property, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "property %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get property")
		return nil, ingesterr.NewStoreError("failed to get property", err)
	}

	return &property, nil
}
