package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// =============================================================================
// Object Store Config
// =============================================================================

// S3Config configures an S3-compatible object storage backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Validate checks the configuration.
func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("endpoint must not include scheme: " + c.Endpoint)
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

// =============================================================================
// ObjectStore
// =============================================================================

// ObjectStore implements Store as two objects per unit:
// <prefix><unit>.interfaceDescriptor and <prefix><unit>.address.
// Like FileStore, the address object is removed first and written last.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
	cn     domain.CaseNormalization
	logger *slog.Logger
}

// NewObjectStore connects to the object storage endpoint and makes sure the
// bucket exists.
func NewObjectStore(ctx context.Context, cfg S3Config, cn domain.CaseNormalization, logger *slog.Logger) (*ObjectStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewStoreError("NewObjectStore", "", "", err.Error(), ErrInvalidData)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, NewStoreError("NewObjectStore", "", "", err.Error(), ErrConnectionFailed)
	}

	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, NewStoreError("NewObjectStore", "", "", "ensure bucket: "+err.Error(), ErrConnectionFailed)
	}

	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		cn:     cn,
		logger: logger,
	}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
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

// objectKey returns the object key of a record field.
func objectKey(prefix, unit, field string) string {
	return prefix + domain.Key(unit, field)
}

func (s *ObjectStore) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *ObjectStore) Persist(ctx context.Context, unit string, iface json.RawMessage, address string) error {
	addr, err := validate("Persist", unit, iface, address, s.cn)
	if err != nil {
		return err
	}

	addrKey := objectKey(s.prefix, unit, domain.FieldAddress)
	if err := s.client.RemoveObject(ctx, s.bucket, addrKey, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return NewStoreError("Persist", unit, domain.FieldAddress, "failed to clear previous address: "+err.Error(), err)
	}

	if err := s.put(ctx, objectKey(s.prefix, unit, domain.FieldInterface), iface, "application/json"); err != nil {
		return NewStoreError("Persist", unit, domain.FieldInterface, err.Error(), err)
	}
	confirm(s.logger, "s3", unit, domain.FieldInterface)

	if err := s.put(ctx, addrKey, []byte(addr), "text/plain"); err != nil {
		return NewStoreError("Persist", unit, domain.FieldAddress, err.Error(), err)
	}
	confirm(s.logger, "s3", unit, domain.FieldAddress)

	return nil
}

func (s *ObjectStore) read(ctx context.Context, key string) ([]byte, time.Time, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, time.Time{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, time.Time{}, err
	}
	var modified time.Time
	if info, err := obj.Stat(); err == nil {
		modified = info.LastModified.UTC()
	}
	return data, modified, nil
}

func (s *ObjectStore) Get(ctx context.Context, unit string) (*domain.ArtifactRecord, error) {
	if err := validateUnit("Get", unit); err != nil {
		return nil, err
	}

	addr, modified, err := s.read(ctx, objectKey(s.prefix, unit, domain.FieldAddress))
	if isNoSuchKey(err) {
		_, statErr := s.client.StatObject(ctx, s.bucket, objectKey(s.prefix, unit, domain.FieldInterface), minio.StatObjectOptions{})
		if statErr == nil {
			return nil, NewStoreError("Get", unit, domain.FieldAddress, "descriptor present without address", ErrIncompleteRecord)
		}
		return nil, NewStoreError("Get", unit, "", "artifact not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("Get", unit, domain.FieldAddress, err.Error(), err)
	}

	iface, _, err := s.read(ctx, objectKey(s.prefix, unit, domain.FieldInterface))
	if isNoSuchKey(err) {
		return nil, NewStoreError("Get", unit, domain.FieldInterface, "address present without descriptor", ErrIncompleteRecord)
	}
	if err != nil {
		return nil, NewStoreError("Get", unit, domain.FieldInterface, err.Error(), err)
	}

	return &domain.ArtifactRecord{
		Unit:      unit,
		Interface: iface,
		Address:   strings.TrimSpace(string(addr)),
		UpdatedAt: modified,
	}, nil
}

func (s *ObjectStore) List(ctx context.Context) ([]domain.ArtifactRecord, error) {
	suffix := "." + domain.FieldAddress
	var records []domain.ArtifactRecord
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix}) {
		if obj.Err != nil {
			return nil, NewStoreError("List", "", "", obj.Err.Error(), obj.Err)
		}
		if !strings.HasSuffix(obj.Key, suffix) {
			continue
		}
		unit := strings.TrimSuffix(strings.TrimPrefix(obj.Key, s.prefix), suffix)
		if strings.Contains(unit, "/") {
			continue
		}
		rec, err := s.Get(ctx, unit)
		if errors.Is(err, ErrIncompleteRecord) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	sortRecords(records)
	return records, nil
}

func (s *ObjectStore) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
