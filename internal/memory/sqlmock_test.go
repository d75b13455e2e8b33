package memory

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// TestDeleteIssuesExpectedSQL asserts the exact statement Delete issues,
// without touching a real database file, per SPEC_FULL §11's use of
// go-sqlmock for a handful of memory-store edge cases.
func TestDeleteIssuesExpectedSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newStoreWithDB(db)

	mock.ExpectExec(`DELETE FROM records WHERE id = \? AND scope = \?`).
		WithArgs("rec-1", string(ScopeGlobal)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(context.Background(), "rec-1", ScopeGlobal))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCleanupIssuesExpectedSQL asserts the retention sweep's predicate
// shape matches §4.D's strict three-way conjunction.
func TestCleanupIssuesExpectedSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newStoreWithDB(db)

	mock.ExpectExec(`DELETE FROM records\s+WHERE importance < \? AND created_at < \? AND access_count < 3`).
		WithArgs(0.3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.Cleanup(context.Background(), 0.3, 14)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
