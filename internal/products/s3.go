package products

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config locates the product bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3ConfigFromEnv reads RADIOPIPE_S3_* variables. An empty endpoint means
// product export is disabled.
func S3ConfigFromEnv() S3Config {
	return S3Config{
		Endpoint:  os.Getenv("RADIOPIPE_S3_ENDPOINT"),
		Region:    os.Getenv("RADIOPIPE_S3_REGION"),
		AccessKey: os.Getenv("RADIOPIPE_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("RADIOPIPE_S3_SECRET_KEY"),
		Bucket:    os.Getenv("RADIOPIPE_S3_BUCKET"),
		UseSSL:    os.Getenv("RADIOPIPE_S3_USE_SSL") == "true",
	}
}

// S3Store is a minio-backed Store. The bucket is created lazily on first use.
type S3Store struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// NewS3Store validates the config and builds the client. No network traffic
// happens until the first Put/Get.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("products: s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("products: s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("products: s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("products: init s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: bucket, region: region}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("products: store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// ContentTypeFor maps a product filename to its MIME type.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".fits":
		return "application/fits"
	case ".json":
		return "application/json"
	case ".tar", ".tgz":
		return "application/x-tar"
	default:
		return "application/octet-stream"
	}
}

// ObjectKey builds the store key for a product of a run.
func ObjectKey(runID, p string) string {
	return strings.TrimSpace(runID) + "/" + strings.TrimLeft(strings.TrimSpace(p), "/")
}

func (s *S3Store) Put(ctx context.Context, runID, p string, content []byte) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("products: run id is required")
	}
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("products: path is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("products: ensure bucket: %w", err)
	}
	if content == nil {
		content = []byte{}
	}
	_, err := s.client.PutObject(ctx, s.bucket, ObjectKey(runID, p),
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: ContentTypeFor(p)})
	return err
}

func (s *S3Store) Get(ctx context.Context, runID, p string) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("products: ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, ObjectKey(runID, p), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, runID string) ([]string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("products: ensure bucket: %w", err)
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(runID), "/") + "/"
	paths := make([]string, 0, 32)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		paths = append(paths, strings.TrimPrefix(obj.Key, prefix))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *S3Store) URL(ctx context.Context, runID, p string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("products: store is nil")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ObjectKey(runID, p), time.Hour, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

var _ Store = (*S3Store)(nil)
