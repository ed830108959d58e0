package rate

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ratepulse/ratepulse/pkg/database"
	"github.com/ratepulse/ratepulse/pkg/ingesterr"
	"github.com/ratepulse/ratepulse/pkg/models"
	"github.com/ratepulse/ratepulse/pkg/tracing"
)

var rateColumns = []string{
	"id", "property_id", "competitor_id", "check_in_date", "check_out_date",
	"price_amount", "currency", "room_type", "adults", "scraped_at", "created_at",
}

// Repository handles rate persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new rate repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DeleteByOwner removes every rate row for the owning entity, regardless of
// date range or source. Joins the transaction carried by ctx if one is open,
// otherwise the delete autocommits.
func (r *Repository) DeleteByOwner(ctx context.Context, owner models.Owner) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "rate.Repository.DeleteByOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("rates")
	sb.Where(ownerWhere(&sb.Cond, owner))

	query, args := sb.Build()
	result, err := r.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("owner", owner.String()).Error("Failed to delete rates")
		return 0, ingesterr.NewStoreError("failed to delete rates", err).AddEntity(owner.String())
	}

	deleted, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"owner":   owner.String(),
		"deleted": deleted,
	}).Debug("Deleted rates for owner")

	return deleted, nil
}

// InsertMany bulk inserts rate rows in a single statement, stamping ids and
// created_at. Joins the transaction carried by ctx if one is open, otherwise
// the insert autocommits.
func (r *Repository) InsertMany(ctx context.Context, rates []models.Rate) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "rate.Repository.InsertMany")
	defer span.End()

	if len(rates) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("rates")
	sb.Cols(rateColumns...)
	for i := range rates {
		rate := &rates[i]
		if rate.ID == uuid.Nil {
			rate.ID = uuid.New()
		}
		if rate.CreatedAt.IsZero() {
			rate.CreatedAt = now
		}
		sb.Values(
			rate.ID, rate.PropertyID, rate.CompetitorID, rate.CheckInDate, rate.CheckOutDate,
			rate.PriceAmount, rate.Currency, rate.RoomType, rate.Adults, rate.ScrapedAt, rate.CreatedAt,
		)
	}

	query, args := sb.Build()
	if _, err := r.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert rates")
		return 0, ingesterr.NewStoreError("failed to insert rates", err)
	}

	return len(rates), nil
}

// ListByFilter returns the rate rows for one owner, optionally narrowed to a
// check-in date window, ordered by check-in date then room type.
func (r *Repository) ListByFilter(ctx context.Context, filter models.RateFilter) ([]models.Rate, error) {
	ctx, span := tracing.StartSpan(ctx, "rate.Repository.ListByFilter")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(rateColumns...)
	sb.From("rates")

	where := []string{ownerWhere(&sb.Cond, filter.Owner)}
	if filter.From != nil {
		where = append(where, sb.GreaterEqualThan("check_in_date", *filter.From))
	}
	if filter.To != nil {
		where = append(where, sb.LessEqualThan("check_in_date", *filter.To))
	}
	sb.Where(where...)
	sb.OrderBy("check_in_date ASC", "room_type ASC NULLS LAST", "adults ASC")

	query, args := sb.Build()
	var rates []models.Rate
	if err := r.db.SelectContext(ctx, &rates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("owner", filter.Owner.String()).Error("Failed to list rates")
		return nil, ingesterr.NewStoreError("failed to list rates", err).AddEntity(filter.Owner.String())
	}

	return rates, nil
}

// CountByOwner returns the number of rate rows currently stored for the owner.
func (r *Repository) CountByOwner(ctx context.Context, owner models.Owner) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "rate.Repository.CountByOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("rates")
	sb.Where(ownerWhere(&sb.Cond, owner))

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count rates")
		return 0, ingesterr.NewStoreError("failed to count rates", err).AddEntity(owner.String())
	}

	return count, nil
}

// execer routes statements to the transaction carried by ctx, or to the
// pooled connection when none is open.
func (r *Repository) execer(ctx context.Context) database.Execer {
	if tx, ok := database.TxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// ownerWhere builds the owner foreign-key predicate for the one-of
// {property_id, competitor_id} pair.
func ownerWhere(cond *sqlbuilder.Cond, owner models.Owner) string {
	if owner.Kind() == models.OwnerKindCompetitor {
		return cond.Equal("competitor_id", owner.ID())
	}
	return cond.Equal("property_id", owner.ID())
}
