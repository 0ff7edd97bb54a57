package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkUpsert_RequiresColumnsAndKeys(t *testing.T) {
	rows := [][]any{{"a"}}

	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t"}, rows)
	assert.Error(t, err)

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", Columns: []string{"c"}}, rows)
	assert.Error(t, err)
}

func TestBulkUpsert_MergesThroughTempTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "competitor_products",
		Columns:      []string{"competitor_id", "external_id", "title", "price"},
		ConflictKeys: []string{"competitor_id", "external_id"},
	}
	rows := [][]any{
		{"c1", "ext-1", "Gaggia Classic", 449.0},
		{"c1", "ext-2", "Baratza Encore", 169.95},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_competitor_products"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_competitor_products"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "competitor_products" .+ ON CONFLICT \("competitor_id", "external_id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, cfg, rows)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
