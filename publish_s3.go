package fedtrain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3PublisherConfig configures uploading persisted artifacts to S3 or an
// S3-compatible service after a successful local save.
type S3PublisherConfig struct {
	// Enabled turns publishing on.
	Enabled bool `yaml:"enabled"`

	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // for S3-compatible services (MinIO, etc.)

	// AccessKeyID authenticates the upload. Prefer IAM roles, instance
	// profiles, or environment variables (AWS_ACCESS_KEY_ID,
	// AWS_SECRET_ACCESS_KEY) over setting these directly. DO NOT commit
	// credentials to source control.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`

	// UsePathStyle selects path-style addressing.
	UsePathStyle bool `yaml:"use_path_style"`

	// Timeout bounds a whole publish. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the attempt budget per object. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

func (c S3PublisherConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

// S3Publisher uploads a persisted model bundle so serving fleets can pull
// artifacts without filesystem access to the trainer.
type S3Publisher struct {
	client  *s3.Client
	cfg     S3PublisherConfig
	retryer *Retryer
}

// NewS3Publisher builds a publisher from the config.
func NewS3Publisher(cfg S3PublisherConfig) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, &ConfigError{Field: "publish.bucket", Message: "must not be empty"}
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3Publisher{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
		}),
	}, nil
}

// PublishDir uploads every file in a version directory under
// <prefix>/<version>/. The manifest is uploaded last so a reader that
// sees it can rely on the rest of the bundle being present.
func (p *S3Publisher) PublishDir(ctx context.Context, dir, version string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &PersistenceError{Path: dir, Message: "cannot read artifact directory", Cause: err}
	}

	var names []string
	manifestLast := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == manifestFile {
			manifestLast = true
			continue
		}
		names = append(names, e.Name())
	}
	if manifestLast {
		names = append(names, manifestFile)
	}

	for _, name := range names {
		blob, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return &PersistenceError{Path: filepath.Join(dir, name), Message: "cannot read artifact", Cause: err}
		}
		key := p.cfg.Prefix + version + "/" + name
		if err := p.put(ctx, key, blob); err != nil {
			return &PersistenceError{Path: key, Message: "S3 upload failed", Cause: err}
		}
	}
	return nil
}

func (p *S3Publisher) put(ctx context.Context, key string, blob []byte) error {
	return p.retryer.Do(ctx, func() error {
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(blob),
		})
		return err
	})
}
