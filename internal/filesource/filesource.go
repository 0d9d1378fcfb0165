// Package filesource reads the document to import from the local disk or
// from S3-compatible storage.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/logging"
)

// DefaultMaxSize bounds how much of a document is read into memory.
const DefaultMaxSize = 512 << 20

var ErrTooLarge = errors.New("file exceeds the maximum import size")

// S3Config holds S3 connection settings. Empty credentials fall back to the
// default AWS credential chain.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Source opens documents by reference: a local path or s3://bucket/key.
type Source struct {
	s3cfg   S3Config
	maxSize int64

	once     sync.Once
	client   *s3.Client
	clientEr error
}

// New creates a source. maxSize <= 0 uses DefaultMaxSize.
func New(s3cfg S3Config, maxSize int64) *Source {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Source{s3cfg: s3cfg, maxSize: maxSize}
}

// Read returns the file name and contents behind ref.
func (s *Source) Read(ctx context.Context, ref string) (string, []byte, error) {
	if bucket, key, ok := parseS3(ref); ok {
		return s.readS3(ctx, bucket, key)
	}
	return s.readLocal(ref)
}

// ReadFrom reads an already opened document, such as a form upload.
func (s *Source) ReadFrom(r io.Reader) ([]byte, error) {
	return readLimited(r, s.maxSize)
}

func (s *Source) readLocal(p string) (string, []byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory", p)
	}
	data, err := readLimited(f, s.maxSize)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", p, err)
	}
	return info.Name(), data, nil
}

func (s *Source) readS3(ctx context.Context, bucket, key string) (string, []byte, error) {
	client, err := s.s3Client(ctx)
	if err != nil {
		return "", nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > s.maxSize {
		return "", nil, ErrTooLarge
	}
	data, err := readLimited(out.Body, s.maxSize)
	if err != nil {
		return "", nil, fmt.Errorf("read object s3://%s/%s: %w", bucket, key, err)
	}
	logging.Debug("document fetched from s3",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("size", len(data)))
	return path.Base(key), data, nil
}

func (s *Source) s3Client(ctx context.Context) (*s3.Client, error) {
	s.once.Do(func() {
		opts := []func(*config.LoadOptions) error{}
		if s.s3cfg.Region != "" {
			opts = append(opts, config.WithRegion(s.s3cfg.Region))
		}
		if s.s3cfg.AccessKey != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(s.s3cfg.AccessKey, s.s3cfg.SecretKey, ""),
			))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.clientEr = fmt.Errorf("load aws config: %w", err)
			return
		}
		s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if s.s3cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.s3cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return s.client, s.clientEr
}

// parseS3 splits s3://bucket/key.
func parseS3(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrTooLarge
	}
	return data, nil
}
