package store

import (
	"context"
	"encoding/json"
	nativeerrors "errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/lefinal/event-status-server/embedded"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"testing"
)

// querierMock mocks querier.
type querierMock struct {
	mock.Mock
}

func (q *querierMock) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	args := q.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (q *querierMock) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return q.Called(ctx, sql, args).Get(0).(pgx.Row)
}

// rowStub is a pgx.Row that scans the given raw value or fails with err.
type rowStub struct {
	raw []byte
	err error
}

func (r rowStub) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.raw
	return nil
}

// MallSuite tests Mall against a mocked database.
type MallSuite struct {
	suite.Suite
	db *querierMock
	m  *Mall
}

func (suite *MallSuite) SetupTest() {
	suite.db = &querierMock{}
	suite.m = NewMall(zap.New(zapcore.NewNopCore()), suite.db)
}

func (suite *MallSuite) TestMigrate() {
	suite.db.On("Exec", mock.Anything, embedded.DBMigration1x0, mock.Anything).
		Return(pgconn.CommandTag("CREATE TABLE"), nil)
	defer suite.db.AssertExpectations(suite.T())
	suite.NoError(suite.m.Migrate(context.Background()), "should not fail")
}

func (suite *MallSuite) TestMigrateFail() {
	suite.db.On("Exec", mock.Anything, embedded.DBMigration1x0, mock.Anything).
		Return(pgconn.CommandTag(""), nativeerrors.New("sad life"))
	defer suite.db.AssertExpectations(suite.T())
	err := suite.m.Migrate(context.Background())
	suite.Require().Error(err, "should fail")
	e, _ := errors.Cast(err)
	suite.Equal(errors.KindDB, e.Kind)
}

func (suite *MallSuite) TestLoadSnapshotOK() {
	suite.db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(rowStub{raw: []byte(`[{"name":"Nataka","status":"Round2"}]`)})
	defer suite.db.AssertExpectations(suite.T())
	events, err := suite.m.LoadSnapshot(context.Background())
	suite.Require().NoError(err, "should not fail")
	suite.Equal([]event.Event{{Name: "Nataka", Status: event.StatusRound2}}, events)
}

func (suite *MallSuite) TestLoadSnapshotMissing() {
	suite.db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(rowStub{err: pgx.ErrNoRows})
	defer suite.db.AssertExpectations(suite.T())
	_, err := suite.m.LoadSnapshot(context.Background())
	suite.Require().Error(err, "should fail")
	e, _ := errors.Cast(err)
	suite.Equal(errors.ErrNotFound, e.Code)
	suite.Equal(errors.KindSnapshotMissing, e.Kind)
}

func (suite *MallSuite) TestLoadSnapshotNotMigrated() {
	suite.db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(rowStub{err: &pgconn.PgError{Code: "42P01", Message: "relation \"event_snapshots\" does not exist"}})
	defer suite.db.AssertExpectations(suite.T())
	_, err := suite.m.LoadSnapshot(context.Background())
	suite.Require().Error(err, "should fail")
	e, _ := errors.Cast(err)
	suite.Equal(errors.KindSnapshotMissing, e.Kind, "should report missing table as missing snapshot")
}

func (suite *MallSuite) TestLoadSnapshotQueryFail() {
	suite.db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(rowStub{err: nativeerrors.New("sad life")})
	defer suite.db.AssertExpectations(suite.T())
	_, err := suite.m.LoadSnapshot(context.Background())
	suite.Require().Error(err, "should fail")
	e, _ := errors.Cast(err)
	suite.Equal(errors.KindDB, e.Kind)
}

func (suite *MallSuite) TestLoadSnapshotInvalid() {
	suite.db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(rowStub{raw: []byte(`[{"name":"Nataka","status":"Gone"}]`)})
	defer suite.db.AssertExpectations(suite.T())
	_, err := suite.m.LoadSnapshot(context.Background())
	suite.Require().Error(err, "should fail")
	e, _ := errors.Cast(err)
	suite.NotEqual(errors.KindSnapshotMissing, e.Kind, "should not report invalid snapshot as missing")
}

func (suite *MallSuite) TestSaveSnapshotOK() {
	events := []event.Event{{Name: "Naada-Nirvana", Status: event.StatusDelayed}}
	expectRaw, err := json.Marshal(events)
	suite.Require().NoError(err)
	suite.db.On("Exec", mock.Anything, mock.Anything, mock.MatchedBy(func(args []interface{}) bool {
		for _, arg := range args {
			if s, ok := arg.(string); ok && s == string(expectRaw) {
				return true
			}
		}
		return false
	})).Return(pgconn.CommandTag("INSERT 0 1"), nil)
	defer suite.db.AssertExpectations(suite.T())
	suite.NoError(suite.m.SaveSnapshot(context.Background(), events), "should not fail")
}

func (suite *MallSuite) TestSaveSnapshotExecFail() {
	suite.db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag(""), nativeerrors.New("sad life"))
	defer suite.db.AssertExpectations(suite.T())
	err := suite.m.SaveSnapshot(context.Background(), []event.Event{})
	suite.Require().Error(err, "should fail")
	e, _ := errors.Cast(err)
	suite.Equal(errors.KindDB, e.Kind)
}

func (suite *MallSuite) TestSaveSnapshotNoRowsAffected() {
	suite.db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag("INSERT 0 0"), nil)
	defer suite.db.AssertExpectations(suite.T())
	err := suite.m.SaveSnapshot(context.Background(), []event.Event{})
	suite.Error(err, "should fail")
}

func TestMall(t *testing.T) {
	suite.Run(t, new(MallSuite))
}
