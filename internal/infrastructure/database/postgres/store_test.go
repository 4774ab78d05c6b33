package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/OptiFlow/internal/testutil"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

type ModelStoreTestSuite struct {
	suite.Suite
	mock  pgxmock.PgxPoolIface
	clock *testutil.FakeClock
	store *ModelStore
	ids   []string
}

func (s *ModelStoreTestSuite) SetupTest() {
	var err error
	s.mock, err = pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	s.Require().NoError(err)
	s.clock = testutil.NewFakeClock()
	s.ids = []string{"id-1", "id-2", "id-3", "id-4", "id-5", "id-6", "id-7", "id-8"}
	s.store = NewModelStore(&Connection{pool: s.mock}, WithClock(s.clock.Now), WithTTL(time.Hour))
	s.store.newID = func() string {
		id := s.ids[0]
		s.ids = s.ids[1:]
		return id
	}
}

func (s *ModelStoreTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.mock.Close()
}

func (s *ModelStoreTestSuite) expectSweep(removed int64) {
	s.mock.ExpectExec(sweepModelsSQL).
		WithArgs(s.clock.Now().Add(-time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", removed))
}

func (s *ModelStoreTestSuite) modelRow(createdAt time.Time) *pgxmock.Rows {
	payload, err := json.Marshal(testutil.SampleModel(s.T()))
	s.Require().NoError(err)
	return pgxmock.NewRows([]string{"model", "created_at"}).AddRow(payload, createdAt)
}

func (s *ModelStoreTestSuite) TestSave_SweepsThenInserts() {
	s.expectSweep(2)
	s.mock.ExpectExec(insertModelSQL).
		WithArgs("id-1", pgxmock.AnyArg(), s.clock.Now()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.store.Save(context.Background(), testutil.SampleModel(s.T()))
	s.Require().NoError(err)
	s.Equal("id-1", id)
}

func (s *ModelStoreTestSuite) TestSave_RetriesOnIDConflict() {
	s.expectSweep(0)
	s.mock.ExpectExec(insertModelSQL).
		WithArgs("id-1", pgxmock.AnyArg(), s.clock.Now()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	s.mock.ExpectExec(insertModelSQL).
		WithArgs("id-2", pgxmock.AnyArg(), s.clock.Now()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.store.Save(context.Background(), testutil.SampleModel(s.T()))
	s.Require().NoError(err)
	s.Equal("id-2", id)
}

func (s *ModelStoreTestSuite) TestSave_GivesUpAfterRepeatedConflicts() {
	s.expectSweep(0)
	for i := 1; i <= maxIDAttempts; i++ {
		s.mock.ExpectExec(insertModelSQL).
			WithArgs(fmt.Sprintf("id-%d", i), pgxmock.AnyArg(), s.clock.Now()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
	}

	_, err := s.store.Save(context.Background(), testutil.SampleModel(s.T()))
	s.True(errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func (s *ModelStoreTestSuite) TestGet_EmptyResultIsNotFound() {
	s.mock.ExpectQuery(selectModelSQL).WithArgs("gone").
		WillReturnRows(pgxmock.NewRows([]string{"model", "created_at"}))

	_, err := s.store.Get(context.Background(), "gone")
	s.True(errors.IsCode(err, errors.CodeModelNotFound))
}

func (s *ModelStoreTestSuite) TestSave_SweepFailureDoesNotBlock() {
	s.mock.ExpectExec(sweepModelsSQL).WillReturnError(fmt.Errorf("lock timeout"))
	s.mock.ExpectExec(insertModelSQL).
		WithArgs("id-1", pgxmock.AnyArg(), s.clock.Now()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.store.Save(context.Background(), testutil.SampleModel(s.T()))
	s.Require().NoError(err)
	s.Equal("id-1", id)
}

func (s *ModelStoreTestSuite) TestSave_InsertError() {
	s.expectSweep(0)
	s.mock.ExpectExec(insertModelSQL).WillReturnError(fmt.Errorf("connection reset"))

	_, err := s.store.Save(context.Background(), testutil.SampleModel(s.T()))
	s.True(errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func (s *ModelStoreTestSuite) TestSave_NilModel() {
	_, err := s.store.Save(context.Background(), nil)
	s.True(errors.IsValidation(err))
}

func (s *ModelStoreTestSuite) TestGet_LiveEntryIsTouched() {
	created := s.clock.Now()
	s.clock.Advance(time.Hour)
	s.mock.ExpectQuery(selectModelSQL).WithArgs("id-1").WillReturnRows(s.modelRow(created))
	s.mock.ExpectExec(touchModelSQL).
		WithArgs("id-1", s.clock.Now()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	m, err := s.store.Get(context.Background(), "id-1")
	s.Require().NoError(err)
	want := testutil.SampleModel(s.T())
	s.Equal(want.Constraints, m.Constraints)
	s.Equal(want.Objective, m.Objective)
	s.Equal("task_assignment", m.Metadata.ProblemType)
	s.Equal(5.0, m.Parameters["time_limit"])
}

func (s *ModelStoreTestSuite) TestGet_TouchFailureIsIgnored() {
	s.mock.ExpectQuery(selectModelSQL).WithArgs("id-1").WillReturnRows(s.modelRow(s.clock.Now()))
	s.mock.ExpectExec(touchModelSQL).WillReturnError(fmt.Errorf("read-only replica"))

	_, err := s.store.Get(context.Background(), "id-1")
	s.NoError(err)
}

func (s *ModelStoreTestSuite) TestGet_ExpiredEntryIsRemoved() {
	created := s.clock.Now()
	s.clock.Advance(time.Hour + time.Second)
	s.mock.ExpectQuery(selectModelSQL).WithArgs("id-1").WillReturnRows(s.modelRow(created))
	s.mock.ExpectExec(deleteModelSQL).WithArgs("id-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))

	_, err := s.store.Get(context.Background(), "id-1")
	s.True(errors.IsCode(err, errors.CodeModelNotFound))
}

func (s *ModelStoreTestSuite) TestGet_Absent() {
	s.mock.ExpectQuery(selectModelSQL).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.store.Get(context.Background(), "nope")
	s.True(errors.IsCode(err, errors.CodeModelNotFound))
	s.Equal("nope", errors.DetailOf(err))
}

func (s *ModelStoreTestSuite) TestGet_QueryError() {
	s.mock.ExpectQuery(selectModelSQL).WillReturnError(fmt.Errorf("boom"))

	_, err := s.store.Get(context.Background(), "id-1")
	s.True(errors.IsCode(err, errors.ErrCodeDatabaseError))
	s.False(errors.IsNotFound(err))
}

func (s *ModelStoreTestSuite) TestGet_CorruptPayload() {
	s.mock.ExpectQuery(selectModelSQL).WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows([]string{"model", "created_at"}).AddRow([]byte("{"), s.clock.Now()))

	_, err := s.store.Get(context.Background(), "id-1")
	s.True(errors.IsCode(err, errors.ErrCodeSerialization))
}

func (s *ModelStoreTestSuite) TestDelete() {
	s.mock.ExpectExec(deleteModelSQL).WithArgs("id-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	s.NoError(s.store.Delete(context.Background(), "id-1"))

	s.mock.ExpectExec(deleteModelSQL).WithArgs("id-2").WillReturnError(fmt.Errorf("gone"))
	s.True(errors.IsCode(s.store.Delete(context.Background(), "id-2"), errors.ErrCodeDatabaseError))
}

func (s *ModelStoreTestSuite) TestSweepExpired_UsesTTLCutoff() {
	s.clock.Advance(90 * time.Minute)
	s.expectSweep(3)

	n, err := s.store.SweepExpired(context.Background())
	s.Require().NoError(err)
	s.Equal(3, n)
}

func (s *ModelStoreTestSuite) TestPing() {
	s.mock.ExpectPing()
	s.NoError(s.store.Ping(context.Background()))

	s.mock.ExpectPing().WillReturnError(fmt.Errorf("down"))
	s.True(errors.IsCode(s.store.Ping(context.Background()), errors.ErrCodeServiceUnavailable))
}

func TestModelStoreTestSuite(t *testing.T) {
	suite.Run(t, new(ModelStoreTestSuite))
}

func TestWithTTL_IgnoresNonPositive(t *testing.T) {
	s := newModelStore(nil, WithTTL(0), WithTTL(-time.Second))
	assert.Equal(t, 24*time.Hour, s.ttl)
	require.NotNil(t, s.now)
}

//Personal.AI order the ending
