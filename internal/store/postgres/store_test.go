package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestInsertManyBuildsMultiRowInsert(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO events \(hash, doc\) VALUES \(\$1, \$2::jsonb\), \(\$3, \$4::jsonb\) ON CONFLICT \(hash\) DO NOTHING`).
		WithArgs("h1", []byte(`{"event_link":"e1","hash":"h1"}`), "h2", []byte(`{"event_link":"e2","hash":"h2"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := s.InsertMany(context.Background(), "events", []store.Document{
		{"hash": "h1", "event_link": "e1"},
		{"hash": "h2", "event_link": "e2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertManyPropagatesFailure(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	boom := errors.New("connection reset by peer")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS participants").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO participants").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)

	_, err := s.InsertMany(context.Background(), "participants", []store.Document{{"hash": "h1"}})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func chunkDocs(n int) []store.Document {
	docs := make([]store.Document, n)
	for i := range docs {
		docs[i] = store.Document{"hash": fmt.Sprintf("h%d", i), "link": fmt.Sprintf("https://example.com/p/%d", i)}
	}
	return docs
}

func TestInsertManyChunksLargeBatchInTransaction(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	docs := chunkDocs(2*maxRowsPerStatement + 1)
	fullChunk := fmt.Sprintf(`INSERT INTO participants \(hash, doc\) VALUES \(\$1, \$2::jsonb\), .*\(\$%d, \$%d::jsonb\) ON CONFLICT`,
		2*maxRowsPerStatement-1, 2*maxRowsPerStatement)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS participants").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec(fullChunk).WillReturnResult(pgxmock.NewResult("INSERT", maxRowsPerStatement))
	mock.ExpectExec(fullChunk).WillReturnResult(pgxmock.NewResult("INSERT", maxRowsPerStatement-3))
	mock.ExpectExec(`INSERT INTO participants \(hash, doc\) VALUES \(\$1, \$2::jsonb\) ON CONFLICT`).
		WithArgs(fmt.Sprintf("h%d", 2*maxRowsPerStatement), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.InsertMany(context.Background(), "participants", docs)
	require.NoError(t, err)
	assert.Equal(t, 2*maxRowsPerStatement-2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertManyRollsBackFailedChunk(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	boom := errors.New("deadlock detected")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS participants").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO participants").WillReturnResult(pgxmock.NewResult("INSERT", maxRowsPerStatement))
	mock.ExpectExec("INSERT INTO participants").WillReturnError(boom)
	mock.ExpectRollback()

	n, err := s.InsertMany(context.Background(), "participants", chunkDocs(maxRowsPerStatement+1))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableCreatedOnce(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS events_event_link_idx ON events \(\(doc->>'event_link'\)\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureIndex(ctx, "events", store.HashField))
	require.NoError(t, s.EnsureIndex(ctx, "events", "event_link"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOne(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS participant_profiles").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT doc FROM participant_profiles WHERE \(doc->>'link'\) = \$1 LIMIT 1`).
		WithArgs("https://example.com/p/1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"hash":"h1","link":"https://example.com/p/1"}`)))
	mock.ExpectQuery(`SELECT doc FROM participant_profiles WHERE hash = \$1 LIMIT 1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	doc, found, err := s.FindOne(ctx, "participant_profiles", "link", "https://example.com/p/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "h1", doc.Hash())

	_, found, err = s.FindOne(ctx, "participant_profiles", store.HashField, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistinct(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS organizations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT \(doc->>'link'\) AS v FROM organizations`).
		WillReturnRows(pgxmock.NewRows([]string{"v"}).
			AddRow("https://example.com/o/1").
			AddRow("https://example.com/o/2"))

	links, err := s.Distinct(context.Background(), "organizations", "link")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/o/1", "https://example.com/o/2"}, links)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectsInvalidNames(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	_, _, err := s.FindOne(context.Background(), "events", "link'; --", "x")
	require.Error(t, err)
	_, err = s.InsertMany(context.Background(), "bad-name", []store.Document{{"hash": "h"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithPool(nil)
	require.Error(t, err)
}
