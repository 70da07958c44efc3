package objectstore

import (
	"errors"
	"strings"

	"github.com/surveyline-labs/surveyline-go/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketUploads  string
	BucketLogs     string
	BucketArchives string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("SURVEYLINE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("SURVEYLINE_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("SURVEYLINE_MINIO_ACCESS_KEY", "surveyline"),
		SecretKey:      env.String("SURVEYLINE_MINIO_SECRET_KEY", "surveylineminio"),
		Region:         env.String("SURVEYLINE_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketUploads:  env.String("SURVEYLINE_MINIO_BUCKET_UPLOADS", "pipeline-uploads"),
		BucketLogs:     env.String("SURVEYLINE_MINIO_BUCKET_LOGS", "pipeline-logs"),
		BucketArchives: env.String("SURVEYLINE_MINIO_BUCKET_ARCHIVES", "pipeline-archives"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("endpoint must not include a scheme")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketUploads) == "" {
		return errors.New("uploads bucket is required")
	}
	if strings.TrimSpace(c.BucketLogs) == "" {
		return errors.New("logs bucket is required")
	}
	if strings.TrimSpace(c.BucketArchives) == "" {
		return errors.New("archives bucket is required")
	}
	return nil
}
