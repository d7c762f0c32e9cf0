// Package s3archive writes a JSON snapshot of every finalized maintenance
// run to S3 for offline audit. Archival is best effort: a failed upload is
// logged, never surfaced as a run failure.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/list-rotator/internal/config"
	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// ObjectPutter is the S3 call surface, narrowed for tests.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads finalized runs to an S3 bucket.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

// New creates an archiver from config. Returns a disabled archiver when
// cfg.Enabled is false or the bucket is unset.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	a := &Archiver{bucket: cfg.Bucket, prefix: cfg.Prefix}
	if !cfg.Enabled || cfg.Bucket == "" {
		return a, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	a.client = s3.NewFromConfig(awsCfg)
	return a, nil
}

// NewWithClient creates an archiver over an existing S3 client.
func NewWithClient(client ObjectPutter, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// ArchiveRun uploads one finalized run as JSON. The object key is derived
// from the run's start date and id, so re-archiving the same run overwrites
// the same object instead of duplicating it.
func (a *Archiver) ArchiveRun(ctx context.Context, run *domain.MaintenanceRun) error {
	if a.client == nil {
		return nil
	}

	body, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}

	key := path.Join(a.prefix, "runs",
		run.StartedAt.UTC().Format("2006/01/02"),
		run.ID+".json")

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		logger.Error("run archive upload failed", "run_id", run.ID, "key", key, "error", err)
		return fmt.Errorf("archive run %s: %w", run.ID, err)
	}
	logger.Debug("run archived", "run_id", run.ID, "key", key)
	return nil
}
