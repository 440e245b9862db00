package migrate

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var files = fstest.MapFS{
	"sql/0001_init.up.sql":     {Data: []byte("create table a(id text);\ninsert into a values ('x;y');")},
	"sql/0001_init.down.sql":   {Data: []byte("drop table a;")},
	"sql/0002_more.up.sql":     {Data: []byte("-- second table\ncreate table b(id text);")},
	"seeds/0001_demo.sql":      {Data: []byte("insert into a values ('demo');")},
	"sql/README.md":            {Data: []byte("not sql")},
	"seeds/nested/0002_x.sql":  {Data: []byte("select 1;")},
	"sql/0003_later.up.sql.bk": {Data: []byte("ignored")},
}

var epoch = time.Unix(0, 0).UTC()

func newManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	m := NewManager(db, files, "sql", "seeds")
	m.now = func() time.Time { return epoch }
	return m, mock
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOneTransactionEach(t *testing.T) {
	m, mock := newManager(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_more.up.sql", epoch).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_more.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpFailureRollsBackBookkeeping(t *testing.T) {
	m, mock := newManager(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 0001_init.up.sql")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRecordsEachFile(t *testing.T) {
	m, mock := newManager(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into a values").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_seeds").WithArgs("0001_demo.sql", epoch).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("select 1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_seeds").WithArgs("0002_x.sql", epoch).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := m.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_demo.sql", "0002_x.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	m, mock := newManager(t)
	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}).AddRow("0001_init.up.sql", epoch))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_init.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001_init.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithoutHistory(t *testing.T) {
	m, mock := newManager(t)
	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}))

	_, err := m.Down(context.Background())
	assert.EqualError(t, err, "no migrations applied")
}

func TestDownRequiresDownFile(t *testing.T) {
	m, mock := newManager(t)
	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}).AddRow("0002_more.up.sql", epoch))

	_, err := m.Down(context.Background())
	assert.EqualError(t, err, "missing down migration for 0002_more.up.sql")
}

func TestCollectSQLFiltersAndSorts(t *testing.T) {
	got, err := collectSQL(files, "seeds", ".sql")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0001_demo.sql", got[0].Base)
	assert.Equal(t, "seeds/nested/0002_x.sql", got[1].Path)

	got, err = collectSQL(files, "missing", ".sql")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("create table a(id text);\ninsert into a values ('x;y');")
	assert.Equal(t, []string{"create table a(id text)", "insert into a values ('x;y')"}, stmts)

	stmts = splitStatements("-- header; with a semicolon\ncreate table b(id text); -- trailing\n\n;")
	assert.Equal(t, []string{"create table b(id text)"}, stmts)

	stmts = splitStatements("insert into a values ('a--b');")
	assert.Equal(t, []string{"insert into a values ('a--b')"}, stmts)
}
