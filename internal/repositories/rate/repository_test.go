package rate

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratepulse/ratepulse/pkg/database"
	"github.com/ratepulse/ratepulse/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeDB records statements hitting the pooled connection and fails the test
// path if anything tries to begin a transaction on it.
type fakeDB struct {
	execs []string
	begun bool
}

func (f *fakeDB) BeginTxx(context.Context, *sql.TxOptions) (*sqlx.Tx, error) {
	f.begun = true
	return nil, errors.New("unexpected begin")
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return driver.RowsAffected(1), nil
}

func (f *fakeDB) GetContext(context.Context, any, string, ...any) error { return nil }

func (f *fakeDB) NamedExecContext(context.Context, string, any) (sql.Result, error) {
	return nil, nil
}

func (f *fakeDB) Ping() error { return nil }

func (f *fakeDB) PingContext(context.Context) error { return nil }

func (f *fakeDB) Rebind(query string) string { return query }

func (f *fakeDB) SetConnMaxLifetime(time.Duration) {}

func (f *fakeDB) SetMaxIdleConns(int) {}

func (f *fakeDB) SetMaxOpenConns(int) {}

func (f *fakeDB) Stats() sql.DBStats { return sql.DBStats{} }

func (f *fakeDB) Unsafe() *sqlx.DB { return nil }

func (f *fakeDB) QueryxContext(context.Context, string, ...any) (*sqlx.Rows, error) {
	return nil, nil
}

func (f *fakeDB) SelectContext(context.Context, any, string, ...any) error { return nil }

func (f *fakeDB) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	f.begun = true
	return ctx, nil, errors.New("unexpected transaction")
}

// fakeTx records statements routed to an ambient transaction.
type fakeTx struct {
	execs []string
}

func (f *fakeTx) IsOpen() bool { return true }

func (f *fakeTx) Commit(context.Context) error { return nil }

func (f *fakeTx) Rollback(context.Context) error { return nil }

func (f *fakeTx) Rebind(query string) string { return query }

func (f *fakeTx) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return driver.RowsAffected(1), nil
}

func (f *fakeTx) GetContext(context.Context, any, string, ...any) error { return nil }

func (f *fakeTx) SelectContext(context.Context, any, string, ...any) error { return nil }

func sampleRates(owner models.Owner) []models.Rate {
	checkIn := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return []models.Rate{
		{
			PropertyID:   owner.PropertyID(),
			CompetitorID: owner.CompetitorID(),
			CheckInDate:  checkIn,
			CheckOutDate: checkIn.AddDate(0, 0, 1),
			PriceAmount:  1200,
			Currency:     models.DefaultCurrency,
			Adults:       models.DefaultAdults,
			ScrapedAt:    time.Now().UTC(),
		},
	}
}

func TestInsertMany_AutocommitsWithoutAmbientTransaction(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, testLogger())
	owner := models.NewPropertyOwner(uuid.New(), "Seaside Hotel")

	inserted, err := repo.InsertMany(context.Background(), sampleRates(owner))
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	// the insert ran on the pooled connection; no transaction was begun and
	// left dangling
	require.Len(t, db.execs, 1)
	assert.True(t, strings.HasPrefix(db.execs[0], "INSERT INTO rates"))
	assert.False(t, db.begun)
}

func TestInsertMany_JoinsAmbientTransaction(t *testing.T) {
	db := &fakeDB{}
	tx := &fakeTx{}
	repo := NewRepository(db, testLogger())
	owner := models.NewPropertyOwner(uuid.New(), "Seaside Hotel")
	ctx := database.ContextWithTx(context.Background(), tx)

	inserted, err := repo.InsertMany(ctx, sampleRates(owner))
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	require.Len(t, tx.execs, 1)
	assert.Empty(t, db.execs)
}

func TestDeleteByOwner_AutocommitsWithoutAmbientTransaction(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, testLogger())
	owner := models.NewCompetitorOwner(uuid.New(), "Rival Inn")

	deleted, err := repo.DeleteByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	require.Len(t, db.execs, 1)
	assert.True(t, strings.HasPrefix(db.execs[0], "DELETE FROM rates"))
	assert.False(t, db.begun)
}

func TestDeleteByOwner_JoinsAmbientTransaction(t *testing.T) {
	db := &fakeDB{}
	tx := &fakeTx{}
	repo := NewRepository(db, testLogger())
	owner := models.NewPropertyOwner(uuid.New(), "Seaside Hotel")
	ctx := database.ContextWithTx(context.Background(), tx)

	_, err := repo.DeleteByOwner(ctx, owner)
	require.NoError(t, err)

	require.Len(t, tx.execs, 1)
	assert.Empty(t, db.execs)
}
