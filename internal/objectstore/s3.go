package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"photogallery/internal/metrics"
	"photogallery/internal/models"
)

type location struct {
	bucket string
	prefix string
}

// S3 talks to an S3-compatible service. Without a bucket or credentials it
// is built disabled and every call fails with models.ErrConfiguration.
type S3 struct {
	client    *s3.Client
	presigner *s3.PresignClient
	locations map[Namespace]location
	ttl       time.Duration
	log       zerolog.Logger
	disabled  bool
}

func NewS3(ctx context.Context, cfg models.StorageConfig, log zerolog.Logger) (*S3, error) {
	const op = "objectstore.NewS3"

	logger := log.With().Str("component", "s3-storage").Logger()
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := strings.TrimSpace(cfg.S3SecretKey)
	if strings.TrimSpace(cfg.PrivateBucket) == "" || strings.TrimSpace(cfg.PublicBucket) == "" ||
		accessKey == "" || secretKey == "" {
		logger.Warn().Msg("storage buckets or credentials are not set; uploads and processing are disabled")
		return &S3{log: logger, disabled: true}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: load aws config: %w", op, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return newS3WithClient(client, cfg, logger), nil
}

func newS3WithClient(client *s3.Client, cfg models.StorageConfig, log zerolog.Logger) *S3 {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3{
		client:    client,
		presigner: s3.NewPresignClient(client),
		locations: map[Namespace]location{
			Private: {bucket: strings.TrimSpace(cfg.PrivateBucket), prefix: cfg.PrivatePrefix},
			Public:  {bucket: strings.TrimSpace(cfg.PublicBucket), prefix: cfg.PublicPrefix},
		},
		ttl: ttl,
		log: log,
	}
}

func (s *S3) resolve(op string, ns Namespace, key string) (*string, *string, error) {
	if s.disabled {
		return nil, nil, fmt.Errorf("%s: %w", op, models.ErrConfiguration)
	}
	loc, ok := s.locations[ns]
	if !ok {
		return nil, nil, fmt.Errorf("%s: unknown namespace %q: %w", op, ns, models.ErrConfiguration)
	}
	return aws.String(loc.bucket), aws.String(joinKey(loc.prefix, key)), nil
}

func (s *S3) observe(operation string, start time.Time, err error) {
	metrics.RecordStorageOperation("s3", operation, err, time.Since(start).Seconds())
}

func (s *S3) PresignPut(ctx context.Context, key, contentType string) (desc *UploadDescriptor, err error) {
	const op = "objectstore.S3.PresignPut"
	defer func(start time.Time) { s.observe("presign_put", start, err) }(time.Now())

	bucket, fullKey, err := s.resolve(op, Private, key)
	if err != nil {
		return nil, err
	}
	input := &s3.PutObjectInput{Bucket: bucket, Key: fullKey}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, classify(op, err)
	}

	headers := make(map[string]string)
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return &UploadDescriptor{
		Method:    req.Method,
		URL:       req.URL,
		Headers:   headers,
		Key:       key,
		ExpiresAt: time.Now().Add(s.ttl),
	}, nil
}

func (s *S3) Head(ctx context.Context, ns Namespace, key string) (size int64, err error) {
	const op = "objectstore.S3.Head"
	defer func(start time.Time) { s.observe("head", start, err) }(time.Now())

	bucket, fullKey, err := s.resolve(op, ns, key)
	if err != nil {
		return 0, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: bucket, Key: fullKey})
	if err != nil {
		return 0, classify(op, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3) Get(ctx context.Context, ns Namespace, key string) (obj *Object, err error) {
	const op = "objectstore.S3.Get"
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	bucket, fullKey, err := s.resolve(op, ns, key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: bucket, Key: fullKey})
	if err != nil {
		return nil, classify(op, err)
	}
	return &Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}, nil
}

func (s *S3) Put(ctx context.Context, ns Namespace, key string, data []byte, contentType string) (err error) {
	const op = "objectstore.S3.Put"
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())

	bucket, fullKey, err := s.resolve(op, ns, key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        bucket,
		Key:           fullKey,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, ns Namespace, key string) (err error) {
	const op = "objectstore.S3.Delete"
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	bucket, fullKey, err := s.resolve(op, ns, key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: bucket, Key: fullKey})
	if err != nil {
		err = classify(op, err)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// classify maps SDK failures onto the sentinel taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, models.ErrTransientIO, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w: %w", op, models.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%s: %w: %w", op, models.ErrStorageAuth, err)
		case "NoSuchBucket", "InvalidBucketName":
			return fmt.Errorf("%s: %w: %w", op, models.ErrConfiguration, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrTransientIO, err)
}
