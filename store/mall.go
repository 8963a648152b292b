package store

import (
	"context"
	"encoding/json"
	nativeerrors "errors"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lefinal/event-status-server/embedded"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"go.uber.org/zap"
	"time"
)

// snapshotTable is the table holding the snapshot.
const snapshotTable = "event_snapshots"

// snapshotRowID is the id of the only row in snapshotTable.
const snapshotRowID = 1

// pgCodeUndefinedTable is reported when snapshotTable was not migrated yet.
const pgCodeUndefinedTable = "42P01"

// querier is the part of pgxpool.Pool that Mall needs.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Mall keeps the snapshot in a PostgreSQL database. It is an alternative to
// FileSnapshots.
type Mall struct {
	logger *zap.Logger
	// db is the actual database to perform operations in.
	db querier
	// dialect is the SQL dialect for building queries.
	dialect goqu.DialectWrapper
	// pool is set when the Mall owns the connection pool.
	pool *pgxpool.Pool
}

// NewMall creates a new Mall using the given database. It uses the PostgreSQL
// dialect for queries.
func NewMall(logger *zap.Logger, db querier) *Mall {
	return &Mall{
		logger:  logger,
		db:      db,
		dialect: goqu.Dialect("postgres"),
	}
}

// ConnectMall connects to the database with the given connection string and
// returns the Mall. It does not migrate. Close it with Mall.Close.
func ConnectMall(ctx context.Context, logger *zap.Logger, connStr string) (*Mall, error) {
	pool, err := pgxpool.Connect(ctx, connStr)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "connect to database",
		}
	}
	m := NewMall(logger, pool)
	m.pool = pool
	return m, nil
}

// Close the connection pool if owned.
func (m *Mall) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}

// Migrate creates the snapshot table if it does not exist.
func (m *Mall) Migrate(ctx context.Context) error {
	_, err := m.db.Exec(ctx, embedded.DBMigration1x0)
	if err != nil {
		return errors.NewDBError(err, "exec migration", embedded.DBMigration1x0)
	}
	m.logger.Debug("database migrations done")
	return nil
}

// LoadSnapshot loads the snapshot row.
func (m *Mall) LoadSnapshot(ctx context.Context) ([]event.Event, error) {
	q, args, err := m.dialect.From(snapshotTable).
		Select(goqu.C("events")).
		Where(goqu.C("id").Eq(snapshotRowID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.NewInternalErrorFromErr(err, "query to sql", nil)
	}
	var raw []byte
	err = m.db.QueryRow(ctx, q, args...).Scan(&raw)
	if err != nil {
		var pgErr *pgconn.PgError
		if nativeerrors.Is(err, pgx.ErrNoRows) ||
			(nativeerrors.As(err, &pgErr) && pgErr.Code == pgCodeUndefinedTable) {
			return nil, errors.Error{
				Code:    errors.ErrNotFound,
				Kind:    errors.KindSnapshotMissing,
				Message: "no snapshot in database",
			}
		}
		return nil, errors.NewDBError(err, "query snapshot", q)
	}
	events, err := ParseEvents(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse snapshot from database", nil)
	}
	return events, nil
}

// SaveSnapshot upserts the snapshot row.
func (m *Mall) SaveSnapshot(ctx context.Context, events []event.Event) error {
	raw, err := json.Marshal(event.CopyEvents(events))
	if err != nil {
		return errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "encode snapshot",
		}
	}
	q, args, err := m.dialect.Insert(snapshotTable).
		Rows(goqu.Record{
			"id":         snapshotRowID,
			"events":     string(raw),
			"updated_at": time.Now().UTC(),
		}).
		OnConflict(goqu.DoUpdate("id", goqu.Record{
			"events":     goqu.I("excluded.events"),
			"updated_at": goqu.I("excluded.updated_at"),
		})).
		Prepared(true).ToSQL()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "query to sql", nil)
	}
	result, err := m.db.Exec(ctx, q, args...)
	if err != nil {
		return errors.NewDBError(err, "upsert snapshot", q)
	}
	if result.RowsAffected() != 1 {
		return errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDB,
			Message: "unexpected number of affected rows",
			Details: errors.Details{"rowsAffected": result.RowsAffected()},
		}
	}
	return nil
}
