package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig locates the S3-compatible bucket holding artifacts.
type MinioConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	Bucket          string
	ContractsPrefix string
	ReportsPrefix   string
}

// Validate checks the connection settings.
func (c MinioConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// objectClient is the subset of *minio.Client used by MinioBackend.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// MinioBackend stores artifacts as objects under two key prefixes of one bucket.
type MinioBackend struct {
	client objectClient
	cfg    MinioConfig
	ready  bool
}

// NewMinioBackend connects to the configured endpoint. The bucket is created
// on the first Put.
func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return newMinioBackend(client, cfg), nil
}

func newMinioBackend(client objectClient, cfg MinioConfig) *MinioBackend {
	if cfg.ContractsPrefix == "" {
		cfg.ContractsPrefix = "contracts"
	}
	if cfg.ReportsPrefix == "" {
		cfg.ReportsPrefix = "reports"
	}
	return &MinioBackend{client: client, cfg: cfg}
}

func (b *MinioBackend) key(kind Kind, name string) (string, error) {
	switch kind {
	case KindContract:
		return path.Join(b.cfg.ContractsPrefix, name), nil
	case KindReport:
		return path.Join(b.cfg.ReportsPrefix, name), nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
}

func (b *MinioBackend) ensureBucket(ctx context.Context) error {
	if b.ready {
		return nil
	}
	exists, err := b.client.BucketExists(ctx, b.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", b.cfg.Bucket, err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.cfg.Bucket, minio.MakeBucketOptions{Region: b.cfg.Region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", b.cfg.Bucket, err)
		}
	}
	b.ready = true
	return nil
}

// Put uploads data and returns an s3:// location.
func (b *MinioBackend) Put(ctx context.Context, kind Kind, name string, data []byte) (string, error) {
	key, err := b.key(kind, name)
	if err != nil {
		return "", err
	}
	if err := b.ensureBucket(ctx); err != nil {
		return "", err
	}
	contentType := "text/plain; charset=utf-8"
	if kind == KindContract {
		contentType = "text/x-solidity; charset=utf-8"
	}
	if _, err := b.client.PutObject(ctx, b.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.cfg.Bucket, key), nil
}

// Exists reports whether the object is present.
func (b *MinioBackend) Exists(ctx context.Context, kind Kind, name string) (bool, error) {
	key, err := b.key(kind, name)
	if err != nil {
		return false, err
	}
	if err := b.ensureBucket(ctx); err != nil {
		return false, err
	}
	_, err = b.client.StatObject(ctx, b.cfg.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
