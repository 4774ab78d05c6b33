package minio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/OptiFlow/internal/testutil"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

type MockObjectAPI struct {
	mock.Mock
	uploaded []byte
}

func (m *MockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

func (m *MockObjectAPI) SetBucketLifecycle(ctx context.Context, bucketName string, config *lifecycle.Configuration) error {
	return m.Called(ctx, bucketName, config).Error(0)
}

func (m *MockObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	m.uploaded = data
	args := m.Called(ctx, bucketName, objectName, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

type ArchiveTestSuite struct {
	suite.Suite
	api *MockObjectAPI
	cfg Config
}

func (s *ArchiveTestSuite) SetupTest() {
	s.api = new(MockObjectAPI)
	s.cfg = Config{Endpoint: "minio:9000", Bucket: "results", Prefix: "solves", RetentionDays: 7}
}

func (s *ArchiveTestSuite) TearDownTest() {
	s.api.AssertExpectations(s.T())
}

func (s *ArchiveTestSuite) newArchive() *ResultArchive {
	s.api.On("BucketExists", mock.Anything, "results").Return(true, nil).Once()
	s.api.On("SetBucketLifecycle", mock.Anything, "results", mock.Anything).Return(nil).Once()
	a, err := NewResultArchiveWithAPI(context.Background(), s.api, s.cfg, nil)
	s.Require().NoError(err)
	return a
}

func (s *ArchiveTestSuite) TestNew_CreatesMissingBucketWithRetention() {
	s.api.On("BucketExists", mock.Anything, "results").Return(false, nil).Once()
	s.api.On("MakeBucket", mock.Anything, "results", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil).Once()
	s.api.On("SetBucketLifecycle", mock.Anything, "results", mock.MatchedBy(func(c *lifecycle.Configuration) bool {
		return len(c.Rules) == 1 &&
			c.Rules[0].Status == "Enabled" &&
			c.Rules[0].RuleFilter.Prefix == "solves/" &&
			c.Rules[0].Expiration.Days == lifecycle.ExpirationDays(7)
	})).Return(nil).Once()

	logger := testutil.NewMockLogger()
	a, err := NewResultArchiveWithAPI(context.Background(), s.api, s.cfg, logger)
	s.Require().NoError(err)
	s.Equal("results", a.Bucket())
	s.True(logger.HasMessage("info", "bucket created"))
}

func (s *ArchiveTestSuite) TestNew_NoRetentionSkipsLifecycle() {
	s.cfg.RetentionDays = 0
	s.api.On("BucketExists", mock.Anything, "results").Return(true, nil).Once()

	_, err := NewResultArchiveWithAPI(context.Background(), s.api, s.cfg, nil)
	s.NoError(err)
	s.api.AssertNotCalled(s.T(), "SetBucketLifecycle", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ArchiveTestSuite) TestNew_LifecycleFailureIsOnlyLogged() {
	s.api.On("BucketExists", mock.Anything, "results").Return(true, nil).Once()
	s.api.On("SetBucketLifecycle", mock.Anything, "results", mock.Anything).Return(fmt.Errorf("not implemented")).Once()

	logger := testutil.NewMockLogger()
	_, err := NewResultArchiveWithAPI(context.Background(), s.api, s.cfg, logger)
	s.NoError(err)
	s.True(logger.HasMessage("warn", "retention rule not applied"))
}

func (s *ArchiveTestSuite) TestNew_Unreachable() {
	s.api.On("BucketExists", mock.Anything, "results").Return(false, fmt.Errorf("dial tcp: refused")).Once()

	_, err := NewResultArchiveWithAPI(context.Background(), s.api, s.cfg, nil)
	s.True(errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func (s *ArchiveTestSuite) TestNew_MakeBucketFailure() {
	s.api.On("BucketExists", mock.Anything, "results").Return(false, nil).Once()
	s.api.On("MakeBucket", mock.Anything, "results", mock.Anything).Return(fmt.Errorf("access denied")).Once()

	_, err := NewResultArchiveWithAPI(context.Background(), s.api, s.cfg, nil)
	s.True(errors.IsCode(err, errors.ErrCodeExternalService))
}

func (s *ArchiveTestSuite) TestArchive_WritesDatedDocument() {
	a := s.newArchive()
	objective := 11.0
	ev := common.SolveEvent{
		RequestID:      "req-1",
		ProblemType:    "vap",
		Status:         "OPTIMAL",
		ObjectiveValue: &objective,
		CompletedAt:    time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("CET", 3600)),
	}
	s.api.On("PutObject", mock.Anything, "results", "solves/vap/2024/03/09/req-1.json", mock.Anything,
		mock.MatchedBy(func(o minio.PutObjectOptions) bool {
			return o.ContentType == "application/json" &&
				o.UserMetadata["problem-type"] == "vap" &&
				o.UserMetadata["status"] == "OPTIMAL"
		})).Return(minio.UploadInfo{}, nil).Once()

	location, err := a.Archive(context.Background(), ev, map[string]any{"status": "OPTIMAL", "objective_value": 11})
	s.Require().NoError(err)
	s.Equal("results/solves/vap/2024/03/09/req-1.json", location)

	var doc ArchivedResult
	s.Require().NoError(json.Unmarshal(s.api.uploaded, &doc))
	s.Equal("req-1", doc.Event.RequestID)
	s.JSONEq(`{"status":"OPTIMAL","objective_value":11}`, string(doc.Result))
}

func (s *ArchiveTestSuite) TestArchive_UploadFailure() {
	a := s.newArchive()
	s.api.On("PutObject", mock.Anything, "results", mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, fmt.Errorf("slow down")).Once()

	_, err := a.Archive(context.Background(), common.SolveEvent{RequestID: "r", ProblemType: "lp"}, map[string]any{})
	s.True(errors.IsCode(err, errors.ErrCodeExternalService))
}

func (s *ArchiveTestSuite) TestArchive_RejectsMissingRequestID() {
	a := s.newArchive()
	_, err := a.Archive(context.Background(), common.SolveEvent{ProblemType: "lp"}, nil)
	s.True(errors.IsValidation(err))
}

func (s *ArchiveTestSuite) TestArchive_UnencodableResult() {
	a := s.newArchive()
	_, err := a.Archive(context.Background(), common.SolveEvent{RequestID: "r"}, make(chan int))
	s.True(errors.IsCode(err, errors.ErrCodeSerialization))
}

func (s *ArchiveTestSuite) TestPing() {
	a := s.newArchive()
	s.api.On("BucketExists", mock.Anything, "results").Return(true, nil).Once()
	s.NoError(a.Ping(context.Background()))

	s.api.On("BucketExists", mock.Anything, "results").Return(false, fmt.Errorf("timeout")).Once()
	s.True(errors.IsCode(a.Ping(context.Background()), errors.ErrCodeServiceUnavailable))
}

func TestArchiveTestSuite(t *testing.T) {
	suite.Run(t, new(ArchiveTestSuite))
}

func TestObjectKey_DefaultsUnknownProblem(t *testing.T) {
	a := &ResultArchive{cfg: Config{}}
	a.cfg.applyDefaults()
	key := a.ObjectKey(common.SolveEvent{RequestID: "x", CompletedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "results/unknown/2024/01/02/x.json", key)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Prefix: "archive"}
	cfg.applyDefaults()
	require.Equal(t, "archive/", cfg.Prefix)
	assert.Equal(t, "optiflow-results", cfg.Bucket)
	assert.Equal(t, "us-east-1", cfg.Region)
}

//Personal.AI order the ending
