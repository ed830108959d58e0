package competitor

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

var competitorColumns = []string{
	"c.id", "c.property_id", "c.name", "c.booking_url", "c.created_at", "c.updated_at", "c.deleted_at",
}

// Repository handles competitor lookups. Competitor ownership is transitive
// (competitor -> property -> user), so every query joins properties.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new competitor repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a competitor, verifying through its property that it
// belongs to the user.
func (r *Repository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Competitor, error) {
	ctx, span := tracing.StartSpan(ctx, "competitor.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(competitorColumns...)
	sb.From("competitors c")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "properties p", "p.id = c.property_id")
	sb.Where(
		sb.Equal("c.id", id),
		sb.Equal("p.user_id", userID),
		sb.IsNull("c.deleted_at"),
		sb.IsNull("p.deleted_at"),
	)

	query, args := sb.Build()
	var competitor models.Competitor
	if err := r.db.GetContext(ctx, &competitor, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "competitor %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get competitor")
		return nil, ingesterr.NewStoreError("failed to get competitor", err)
	}

	return &competitor, nil
}

// ListByProperty returns the competitors tracked against one property.
func (r *Repository) ListByProperty(ctx context.Context, userID string, propertyID uuid.UUID) ([]models.Competitor, error) {
	ctx, span := tracing.StartSpan(ctx, "competitor.Repository.ListByProperty")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(competitorColumns...)
	sb.From("competitors c")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "properties p", "p.id = c.property_id")
	sb.Where(
		sb.Equal("c.property_id", propertyID),
		sb.Equal("p.user_id", userID),
		sb.IsNull("c.deleted_at"),
		sb.IsNull("p.deleted_at"),
	)
	sb.OrderBy("c.name ASC")

	query, args := sb.Build()
	var competitors []models.Competitor
	if err := r.db.SelectContext(ctx, &competitors, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list competitors")
		return nil, ingesterr.NewStoreError("failed to list competitors", err)
	}

	return competitors, nil
}
