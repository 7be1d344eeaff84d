// Package objectstore stores exported documents in an S3-compatible bucket
// and hands out presigned download links.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fieldservice/pkg/config"
)

const defaultPresignTTL = 24 * time.Hour

// ErrDisabled is returned by a nil store, i.e. when no endpoint is configured.
var ErrDisabled = errors.New("object store is not configured")

func Validate(cfg config.ObjectStoreConfig) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", cfg.Endpoint)
	}
	return nil
}

type Store struct {
	client *minio.Client
	bucket string
	region string
	ttl    time.Duration
}

// New returns nil without error when the store is not enabled.
func New(cfg config.ObjectStoreConfig) (*Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region, ttl: ttl}, nil
}

// EnsureBucket creates the bucket when missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return ErrDisabled
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s == nil {
		return ErrDisabled
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

// PresignGet returns a download URL valid for the configured TTL. The
// file name is sent back as the attachment name.
func (s *Store) PresignGet(ctx context.Context, key, fileName string) (string, time.Time, error) {
	if s == nil {
		return "", time.Time{}, ErrDisabled
	}
	params := map[string][]string{}
	if fileName != "" {
		params["response-content-disposition"] = []string{`attachment; filename="` + fileName + `"`}
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, params)
	if err != nil {
		return "", time.Time{}, err
	}
	return u.String(), time.Now().Add(s.ttl).UTC(), nil
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
