package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdornseif/authkit/pkg/audit"
)

func newStoreMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Config{}), mock
}

func eventRow(e audit.Event) *sqlmock.Rows {
	return sqlmock.NewRows(eventColumns).
		AddRow(e.ID, e.Timestamp, string(e.Kind), e.UID, e.Via, e.Remote, e.Detail)
}

func TestStoreRecord(t *testing.T) {
	store, mock := newStoreMock(t)

	event := audit.NewEvent(audit.KindLogin, "u1").WithVia("form").WithRemote("10.0.0.1")
	mock.ExpectExec(`INSERT INTO audit_events \(id,timestamp,kind,uid,via,remote,detail\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7\)`).
		WithArgs(event.ID, event.Timestamp, "login", "u1", "form", "10.0.0.1", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Record(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreQuery(t *testing.T) {
	store, mock := newStoreMock(t)

	event := audit.NewEvent(audit.KindLoginFailed, "u1").WithRemote("10.0.0.1")
	mock.ExpectQuery(`SELECT id, timestamp, kind, uid, via, remote, detail FROM audit_events WHERE kind = \$1 AND uid = \$2 ORDER BY timestamp DESC LIMIT 10`).
		WithArgs("login_failed", "u1").
		WillReturnRows(eventRow(event))

	events, err := store.Query(context.Background(), audit.Filter{
		Kind:  audit.KindLoginFailed,
		UID:   "u1",
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.KindLoginFailed, events[0].Kind)
	assert.Equal(t, "u1", events[0].UID)
	assert.Equal(t, "10.0.0.1", events[0].Remote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreQueryTimeWindow(t *testing.T) {
	store, mock := newStoreMock(t)

	start := time.Now().Add(-time.Hour)
	end := time.Now()
	mock.ExpectQuery(`SELECT id, timestamp, kind, uid, via, remote, detail FROM audit_events WHERE timestamp >= \$1 AND timestamp <= \$2 ORDER BY timestamp DESC`).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	events, err := store.Query(context.Background(), audit.Filter{
		StartTime: &start,
		EndTime:   &end,
	})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCleanup(t *testing.T) {
	store, mock := newStoreMock(t)

	mock.ExpectExec(`DELETE FROM audit_events WHERE timestamp < \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	require.NoError(t, store.Cleanup(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCloseWithoutRoutine(t *testing.T) {
	store, _ := newStoreMock(t)
	assert.NoError(t, store.Close())
}
