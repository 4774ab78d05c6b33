// Package minio archives solve results to S3-compatible object storage.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// ObjectAPI is the part of *minio.Client the archive uses.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketLifecycle(ctx context.Context, bucketName string, config *lifecycle.Configuration) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds the archive connection and layout.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	Bucket          string
	Prefix          string
	RetentionDays   int
	ConnectTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Bucket == "" {
		c.Bucket = "optiflow-results"
	}
	if c.Prefix == "" {
		c.Prefix = "results/"
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// ArchivedResult is the document written for each successful solve.
type ArchivedResult struct {
	Event  common.SolveEvent `json:"event"`
	Result json.RawMessage   `json:"result"`
}

// ResultArchive writes one JSON object per successful solve under
// <prefix><problem_type>/<yyyy>/<mm>/<dd>/<request_id>.json.
type ResultArchive struct {
	api    ObjectAPI
	cfg    Config
	logger logging.Logger
}

// NewResultArchive connects to the endpoint and prepares the bucket.
func NewResultArchive(ctx context.Context, cfg Config, logger logging.Logger) (*ResultArchive, error) {
	cfg.applyDefaults()
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "create object storage client")
	}
	return NewResultArchiveWithAPI(ctx, client, cfg, logger)
}

// NewResultArchiveWithAPI prepares the bucket through api.
func NewResultArchiveWithAPI(ctx context.Context, api ObjectAPI, cfg Config, logger logging.Logger) (*ResultArchive, error) {
	cfg.applyDefaults()
	a := &ResultArchive{api: api, cfg: cfg, logger: logging.OrNop(logger).Named("archive")}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("result archive ready",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return a, nil
}

func (a *ResultArchive) ensureBucket(ctx context.Context) error {
	exists, err := a.api.BucketExists(ctx, a.cfg.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "object storage unreachable")
	}
	if !exists {
		if err := a.api.MakeBucket(ctx, a.cfg.Bucket, minio.MakeBucketOptions{Region: a.cfg.Region}); err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalService, "create bucket "+a.cfg.Bucket)
		}
		a.logger.Info("bucket created", logging.String("bucket", a.cfg.Bucket))
	}
	if a.cfg.RetentionDays <= 0 {
		return nil
	}
	rules := lifecycle.NewConfiguration()
	rules.Rules = []lifecycle.Rule{{
		ID:         "optiflow-results-retention",
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: a.cfg.Prefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(a.cfg.RetentionDays)},
	}}
	if err := a.api.SetBucketLifecycle(ctx, a.cfg.Bucket, rules); err != nil {
		a.logger.Warn("retention rule not applied", logging.String("bucket", a.cfg.Bucket), logging.Err(err))
	}
	return nil
}

// ObjectKey returns where the result of ev is stored.
func (a *ResultArchive) ObjectKey(ev common.SolveEvent) string {
	day := ev.CompletedAt.UTC()
	problem := ev.ProblemType
	if problem == "" {
		problem = "unknown"
	}
	return a.cfg.Prefix + path.Join(problem, day.Format("2006/01/02"), ev.RequestID+".json")
}

// Archive writes result under the key derived from ev.
func (a *ResultArchive) Archive(ctx context.Context, ev common.SolveEvent, result any) (string, error) {
	if ev.RequestID == "" {
		return "", errors.Validation("archived result needs a request id").WithDetail("field=request_id")
	}
	body, err := json.Marshal(result)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "encode result")
	}
	doc, err := json.Marshal(ArchivedResult{Event: ev, Result: body})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "encode archived result")
	}

	key := a.ObjectKey(ev)
	_, err = a.api.PutObject(ctx, a.cfg.Bucket, key, bytes.NewReader(doc), int64(len(doc)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"problem-type": ev.ProblemType,
			"status":       ev.Status,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExternalService, "upload result")
	}
	return a.cfg.Bucket + "/" + key, nil
}

// Ping checks that the bucket is reachable.
func (a *ResultArchive) Ping(ctx context.Context) error {
	if _, err := a.api.BucketExists(ctx, a.cfg.Bucket); err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "object storage unreachable")
	}
	return nil
}

// Bucket returns the destination bucket.
func (a *ResultArchive) Bucket() string { return a.cfg.Bucket }

//Personal.AI order the ending
