package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gonanoid "github.com/matoous/go-nanoid/v2"

	cfg "github.com/maheshrc27/postpilot/configs"
	"github.com/maheshrc27/postpilot/internal/models"
)

// RunArchiver stores a finished run with its decision trail and posts.
type RunArchiver interface {
	Archive(ctx context.Context, run *models.Run, posts []*models.Post) (key string, err error)
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Archive writes run snapshots as JSON objects to a Cloudflare R2 bucket.
type R2Archive struct {
	client objectPutter
	bucket string
}

func NewR2Archive(ctx context.Context, r2 cfg.R2) (*R2Archive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID))
	})
	return &R2Archive{client: client, bucket: r2.BucketName}, nil
}

type archivedRun struct {
	Run   *models.Run    `json:"run"`
	Posts []*models.Post `json:"posts,omitempty"`
}

func (a *R2Archive) Archive(ctx context.Context, run *models.Run, posts []*models.Post) (string, error) {
	data, err := json.Marshal(archivedRun{Run: run, Posts: posts})
	if err != nil {
		return "", err
	}
	key, err := archiveKey(run)
	if err != nil {
		return "", err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return key, nil
}

// archiveKey is runs/<client>/<yyyy>/<mm>/<run>-<nanoid>.json; the suffix keeps
// re-archives of one run from overwriting each other.
func archiveKey(run *models.Run) (string, error) {
	suffix, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("runs/%s/%s/%s-%s.json", run.ClientID, run.StartedAt.UTC().Format("2006/01"), run.ID, suffix), nil
}
