package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/doc-organiser/preview-gateway/internal/logging"
	"go.uber.org/zap"
)

// DefaultPresignTTL matches the lifetime of the document API's own
// preview links.
const DefaultPresignTTL = time.Hour

// ErrObjectNotFound is returned when the bucket has no object for a
// document.
var ErrObjectNotFound = errors.New("object not found")

// S3Config configures S3Source. Endpoint may point at MinIO or another
// S3-compatible server.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	UsePathStyle    bool
	PresignTTL      time.Duration
	MaxObjectBytes  int64
}

// S3Source reads document bytes straight from the object store the
// document API writes to.
type S3Source struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	prefix   string
	ttl      time.Duration
	maxBytes int64
	logger   *zap.Logger
}

// NewS3Source builds a client with static credentials.
func NewS3Source(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	return &S3Source{
		client: client,
		presign: s3.NewPresignClient(client, func(o *s3.PresignOptions) {
			o.Expires = ttl
		}),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		ttl:      ttl,
		maxBytes: cfg.MaxObjectBytes,
		logger:   logging.Component(logger, "s3"),
	}, nil
}

func (s *S3Source) key(documentID string) string {
	return s.prefix + documentID
}

// FetchContent downloads the whole object for documentID.
func (s *S3Source) FetchContent(ctx context.Context, documentID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(documentID)),
	})
	if err != nil {
		return nil, s.wrap(documentID, err)
	}
	defer out.Body.Close()

	var body io.Reader = out.Body
	if s.maxBytes > 0 {
		if aws.ToInt64(out.ContentLength) > s.maxBytes {
			return nil, fmt.Errorf("object %s is %d bytes, limit is %d", documentID, aws.ToInt64(out.ContentLength), s.maxBytes)
		}
		body = io.LimitReader(out.Body, s.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", documentID, err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", documentID, s.maxBytes)
	}

	s.logger.Debug("object fetched", zap.String("documentId", documentID), zap.Int("bytes", len(data)))
	return data, nil
}

// FetchPreviewURL presigns a GET for documentID. No request is made.
func (s *S3Source) FetchPreviewURL(ctx context.Context, documentID string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(documentID)),
	})
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", documentID, err)
	}
	return req.URL, nil
}

// Ping checks that the bucket is reachable.
func (s *S3Source) Ping(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to S3: %w", err)
	}
	return nil
}

func (s *S3Source) wrap(documentID string, err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, documentID)
	}
	return fmt.Errorf("fetching object %s: %w", documentID, err)
}
