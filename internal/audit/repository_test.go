package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuditMock(t *testing.T) (*Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB)

	closer := func() { sqlxDB.Close() }
	return repo, mock, closer
}

func TestRecord(t *testing.T) {
	repo, mock, close := setupAuditMock(t)
	defer close()

	actor := "admin-1"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, details) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs(&actor, ActionTransactionReversed, EntityTransaction, "tx-1", types.JSONText(`{"amount":"200.00"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Record(context.Background(), "admin-1", ActionTransactionReversed, EntityTransaction, "tx-1", map[string]any{"amount": "200.00"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_SystemActor(t *testing.T) {
	repo, mock, close := setupAuditMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(nil, ActionTransactionFlagged, EntityTransaction, "tx-2", types.JSONText("{}")).
		WillReturnResult(sqlmock.NewResult(2, 1))

	err := repo.Record(context.Background(), "", ActionTransactionFlagged, EntityTransaction, "tx-2", nil)
	require.NoError(t, err)
}

func TestRecord_Error(t *testing.T) {
	repo, mock, close := setupAuditMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnError(errors.New("connection reset"))

	err := repo.Record(context.Background(), "admin-1", ActionTransactionReversed, EntityTransaction, "tx-1", nil)
	assert.Error(t, err)
}

func TestListForEntity(t *testing.T) {
	repo, mock, close := setupAuditMock(t)
	defer close()

	rows := sqlmock.NewRows([]string{"id", "actor_id", "action", "entity_type", "entity_id", "details", "created_at"}).
		AddRow(1, nil, ActionTransactionFlagged, EntityTransaction, "tx-1", []byte(`{}`), time.Now()).
		AddRow(2, "admin-1", ActionTransactionReversed, EntityTransaction, "tx-1", []byte(`{"amount":"5.00"}`), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE entity_type = $1 AND entity_id = $2")).
		WithArgs(EntityTransaction, "tx-1").
		WillReturnRows(rows)

	entries, err := repo.ListForEntity(context.Background(), EntityTransaction, "tx-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].ActorID)
	require.NotNil(t, entries[1].ActorID)
	assert.Equal(t, "admin-1", *entries[1].ActorID)
}
