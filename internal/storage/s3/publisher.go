// Package s3 publishes finished HLS renditions to AWS S3 or S3-compatible storage.
package s3

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/fjmerc/streamforge/internal/storage"
)

const (
	// multipartUploadPartSize is the size for S3 multipart upload parts (5MB minimum)
	multipartUploadPartSize = 5 * 1024 * 1024

	// playlistCacheControl keeps players from caching a manifest that may be re-rendered.
	playlistCacheControl = "no-cache"
	segmentCacheControl  = "public, max-age=31536000, immutable"
)

// contentTypes maps HLS artifact extensions to the types players expect.
var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
}

// S3Config holds configuration for the publisher.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool   // Use path-style addressing (required for MinIO)
	Prefix          string // Optional key prefix, e.g. "hls"
}

// objectUploader is the subset of manager.Uploader the publisher needs.
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Publisher implements storage.Publisher on S3.
type Publisher struct {
	uploader objectUploader
	bucket   string
	prefix   string
}

// Ensure Publisher implements storage.Publisher
var _ storage.Publisher = (*Publisher)(nil)

// NewPublisher creates a Publisher and verifies the bucket is reachable.
func NewPublisher(ctx context.Context, cfg S3Config) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = multipartUploadPartSize
	})

	slog.Info("S3 publisher initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
	)

	return newPublisher(uploader, cfg.Bucket, cfg.Prefix), nil
}

func newPublisher(uploader objectUploader, bucket, prefix string) *Publisher {
	return &Publisher{
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// validateUploadID ensures the upload ID is safe to use as a key component.
func validateUploadID(uploadID string) error {
	if uploadID == "" {
		return fmt.Errorf("upload ID is required")
	}
	if strings.Contains(uploadID, "..") || strings.Contains(uploadID, "/") {
		return fmt.Errorf("invalid upload ID")
	}
	if strings.ContainsRune(uploadID, '\x00') {
		return fmt.Errorf("null bytes not allowed in upload ID")
	}
	return nil
}

// objectKey returns the key an artifact is published under.
func (p *Publisher) objectKey(uploadID, name string) string {
	if p.prefix == "" {
		return path.Join(uploadID, name)
	}
	return path.Join(p.prefix, uploadID, name)
}

// contentType resolves the content type for a local file.
func contentType(localPath string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(localPath))]; ok {
		return ct
	}
	if mt, err := mimetype.DetectFile(localPath); err == nil {
		return mt.String()
	}
	return "application/octet-stream"
}

// publishable lists the HLS artifacts directly under dir in name order.
// Hidden files, in-progress temp files and subdirectories are skipped.
func publishable(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".m3u8", ".ts":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Publish uploads the playlist and segments under localDir.
func (p *Publisher) Publish(ctx context.Context, uploadID, localDir string) (int, error) {
	if err := validateUploadID(uploadID); err != nil {
		return 0, storage.NewStorageErrorWithMessage("Publish", uploadID, err, "invalid upload ID")
	}

	names, err := publishable(localDir)
	if err != nil {
		return 0, storage.NewStorageError("Publish", localDir, err)
	}

	startTime := time.Now()
	published := 0

	for _, name := range names {
		if err := p.putFile(ctx, uploadID, filepath.Join(localDir, name)); err != nil {
			return published, err
		}
		published++
	}

	slog.Info("HLS output published",
		"upload_id", uploadID,
		"bucket", p.bucket,
		"objects", published,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return published, nil
}

func (p *Publisher) putFile(ctx context.Context, uploadID, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storage.NewStorageError("Publish", localPath, err)
	}
	defer f.Close()

	name := filepath.Base(localPath)
	key := p.objectKey(uploadID, name)

	cacheControl := segmentCacheControl
	if strings.HasSuffix(name, ".m3u8") {
		cacheControl = playlistCacheControl
	}

	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         f,
		ContentType:  aws.String(contentType(localPath)),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return storage.NewStorageError("Publish", key, err)
	}

	slog.Debug("artifact published", "upload_id", uploadID, "key", key)
	return nil
}
