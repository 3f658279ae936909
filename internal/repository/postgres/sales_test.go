package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoldSeatsRetriesSerializationFailure(t *testing.T) {
	db := &flakyQueryDB{
		failures: 1,
		failWith: &pgconn.PgError{Code: "40001"},
		rows: func() pgx.Rows {
			return &seatRows{rows: [][]any{{"A1"}}}
		},
	}

	repo := (&SaleRepo{}).With(db)

	sold, err := repo.SoldSeats(context.Background(), 7, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, 2, db.calls)
	assert.True(t, sold["A1"])
	assert.False(t, sold["A2"])
}
